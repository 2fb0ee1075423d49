package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/pv-bridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options holds per-client connection settings.
//
// The bridge runs two clients with different reconnect ownership:
// the meter client sets AutoReconnect false (the ingestor schedules
// retries through its backoff scheduler), the Venus client sets it
// true and lets paho recover the link.
type Options struct {
	// Broker is the broker endpoint (host, port, TLS, client ID).
	Broker config.BrokerConfig

	// Auth holds optional username/password credentials.
	Auth config.AuthConfig

	// QoS is the default QoS for retained publishes.
	QoS int

	// AutoReconnect enables paho's built-in reconnection.
	AutoReconnect bool

	// ReconnectInitialDelay and ReconnectMaxDelay bound paho's retry
	// interval when AutoReconnect is enabled.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	// Will, if non-nil, is registered as the Last Will and Testament.
	Will *WillMessage
}

// WillMessage describes a Last Will and Testament registration.
type WillMessage struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// buildClientOptions creates paho MQTT options from bridge options.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Reconnect policy per Options.AutoReconnect
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	// Broker URL
	scheme := "tcp"
	if o.Broker.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, o.Broker.Host, o.Broker.Port)
	opts.AddBroker(brokerURL)

	// Client identification
	opts.SetClientID(o.Broker.ClientID)

	// Authentication (if credentials provided)
	if o.Auth.Username != "" {
		opts.SetUsername(o.Auth.Username)
		opts.SetPassword(o.Auth.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// Reconnect policy. When the caller owns retries, both auto-reconnect
	// and connect-retry stay off so Dial failures surface synchronously.
	opts.SetAutoReconnect(o.AutoReconnect)
	opts.SetConnectRetry(false)
	if o.AutoReconnect {
		if o.ReconnectInitialDelay > 0 {
			opts.SetConnectRetryInterval(o.ReconnectInitialDelay)
		}
		if o.ReconnectMaxDelay > 0 {
			opts.SetMaxReconnectInterval(o.ReconnectMaxDelay)
		}
	}

	// Connection timeout
	opts.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - broker sends PINGs to detect dead connections
	opts.SetKeepAlive(defaultKeepAlive)

	// TLS configuration if enabled
	if o.Broker.TLS {
		tlsConfig := &tls.Config{
			MinVersion: tlsMinVersion,
		}
		opts.SetTLSConfig(tlsConfig)
	}

	// Last Will and Testament
	if o.Will != nil {
		opts.SetWill(o.Will.Topic, o.Will.Payload, o.Will.QoS, o.Will.Retained)
	}

	return opts
}
