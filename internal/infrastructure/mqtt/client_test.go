package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/pv-bridge/internal/infrastructure/config"
)

// testOptions returns valid client options for unit tests.
// No broker is required; connection attempts use an unroutable port.
func testOptions() Options {
	return Options{
		Broker: config.BrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "pv-bridge-test",
		},
		QoS: 1,
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient(testOptions())

	if client == nil {
		t.Fatal("NewClient() returned nil")
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true before Dial(), want false")
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestCloseNeverConnected(t *testing.T) {
	client := NewClient(testOptions())
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestCloseNilInner(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v, want nil", err)
	}
}

func TestHealthCheckNotConnected(t *testing.T) {
	client := NewClient(testOptions())

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := NewClient(testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.HealthCheck(ctx)
	if err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestPublishValidation(t *testing.T) {
	client := NewClient(testOptions())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{
			name:    "empty topic",
			topic:   "",
			payload: []byte("x"),
			qos:     0,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid qos",
			topic:   "N/pvinverter/pv0/Ac/Power",
			payload: []byte("x"),
			qos:     3,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "oversized payload",
			topic:   "N/pvinverter/pv0/Ac/Power",
			payload: make([]byte, maxPayloadSize+1),
			qos:     0,
			wantErr: ErrPublishFailed,
		},
		{
			name:    "not connected",
			topic:   "N/pvinverter/pv0/Ac/Power",
			payload: []byte("x"),
			qos:     0,
			wantErr: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := NewClient(testOptions())
	handler := func(topic string, payload []byte) error { return nil }

	if err := client.Subscribe("", 0, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("ehzmeter/#", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos=3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("ehzmeter/#", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("ehzmeter/#", 0, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := NewClient(testOptions())

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Unsubscribe("ehzmeter/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	opts := testOptions()
	opts.Auth = config.AuthConfig{Username: "meter", Password: "secret"}
	opts.AutoReconnect = true
	opts.ReconnectInitialDelay = 2 * time.Second
	opts.ReconnectMaxDelay = 30 * time.Second
	opts.Will = &WillMessage{
		Topic:    "N/pvinverter/pv0/Status",
		Payload:  `{"status":"offline"}`,
		QoS:      1,
		Retained: true,
	}

	pahoOpts := buildClientOptions(opts)

	if len(pahoOpts.Servers) != 1 {
		t.Fatalf("expected 1 broker URL, got %d", len(pahoOpts.Servers))
	}
	if got := pahoOpts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want tcp://127.0.0.1:1883", got)
	}
	if pahoOpts.ClientID != "pv-bridge-test" {
		t.Errorf("ClientID = %q, want pv-bridge-test", pahoOpts.ClientID)
	}
	if pahoOpts.Username != "meter" {
		t.Errorf("Username = %q, want meter", pahoOpts.Username)
	}
	if !pahoOpts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if !pahoOpts.WillEnabled {
		t.Error("WillEnabled = false, want true")
	}
	if pahoOpts.WillTopic != "N/pvinverter/pv0/Status" {
		t.Errorf("WillTopic = %q", pahoOpts.WillTopic)
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	opts := testOptions()
	opts.Broker.TLS = true
	opts.Broker.Port = 8883

	pahoOpts := buildClientOptions(opts)

	if got := pahoOpts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("broker scheme = %q, want ssl", got)
	}
	if pahoOpts.TLSConfig == nil {
		t.Fatal("TLSConfig is nil, want configured")
	}
	if pahoOpts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLS MinVersion = %v, want %v", pahoOpts.TLSConfig.MinVersion, tlsMinVersion)
	}
}

func TestMeterTopics(t *testing.T) {
	topics := MeterTopics{Prefix: "ehzmeter"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"wildcard", topics.Wildcard(), "ehzmeter/#"},
		{"power", topics.Power(), "ehzmeter/pvpower"},
		{"energy today", topics.EnergyToday(), "ehzmeter/pvtoday"},
		{"energy total", topics.EnergyTotal(), "ehzmeter/pvtotal"},
		{"phase powers", topics.PhasePowers(), "ehzmeter/pvpwrl123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestVenusTopics(t *testing.T) {
	topics := VenusTopics{Service: "pvinverter/pv0"}

	if got := topics.Value("/Ac/L1/Current"); got != "N/pvinverter/pv0/Ac/L1/Current" {
		t.Errorf("Value() = %q", got)
	}
	if got := topics.WriteWildcard(); got != "W/pvinverter/pv0/#" {
		t.Errorf("WriteWildcard() = %q", got)
	}
	if got := topics.WritePrefix(); got != "W/pvinverter/pv0" {
		t.Errorf("WritePrefix() = %q", got)
	}
	if got := topics.Status(); got != "N/pvinverter/pv0/Status" {
		t.Errorf("Status() = %q", got)
	}
}
