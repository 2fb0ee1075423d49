package vebus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/pv-bridge/internal/infrastructure/mqtt"
)

// Sink is the downstream key/value publish interface the snapshot
// publisher writes to. Paths are stable slash-separated identifiers,
// e.g. "/Ac/Power" or "/Ac/L1/Current".
type Sink interface {
	// Set publishes a value under a path.
	Set(path string, value any) error
}

// Publisher is the MQTT subset the service needs.
// Satisfied by *mqtt.Client; mocked in tests.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Logger is the structured logging interface used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Service mirrors a Victron-style D-Bus value tree onto an MQTT broker.
//
// Every path is published retained as JSON {"value": ...} under
// N/<service><path>, so late subscribers immediately see the last
// published tree. External writes arriving under W/<service>/<path>
// invoke an optional on-change callback and are accepted.
//
// Thread Safety: all methods are safe for concurrent use.
type Service struct {
	client Publisher
	topics mqtt.VenusTopics
	qos    byte

	// values caches the last published value per path.
	values   map[string]any
	valuesMu sync.RWMutex

	// onChange is invoked for external value writes (optional).
	onChange   func(path string, payload []byte)
	onChangeMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// DeviceIdentity holds the management paths registered at startup.
// These mirror the mandatory objects of the Victron D-Bus API.
type DeviceIdentity struct {
	ProcessName     string
	ProcessVersion  string
	Connection      string
	DeviceInstance  int
	ProductID       int
	ProductName     string
	Position        int
	FirmwareVersion string
	HardwareVersion string
}

// ServiceOptions holds configuration for creating a value tree service.
type ServiceOptions struct {
	// Client is the Venus-side MQTT client.
	Client Publisher

	// ServiceName is the published service name, e.g. "pvinverter/pv0".
	ServiceName string

	// QoS for the external write subscription. Value publishes use the
	// client's configured default.
	QoS byte

	// Logger is optional.
	Logger Logger
}

// NewService creates a value tree service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if opts.ServiceName == "" {
		return nil, fmt.Errorf("service name is required")
	}

	return &Service{
		client: opts.Client,
		topics: mqtt.VenusTopics{Service: opts.ServiceName},
		qos:    opts.QoS,
		values: make(map[string]any),
		logger: opts.Logger,
	}, nil
}

// Start subscribes to the external write wildcard.
//
// Call after the client is connected. Value paths can be Set before
// Start; only the write-notification channel depends on it.
func (s *Service) Start() error {
	topic := s.topics.WriteWildcard()
	if err := s.client.Subscribe(topic, s.qos, s.handleWrite); err != nil {
		return fmt.Errorf("subscribing to value writes: %w", err)
	}

	s.logDebug("value write subscription active", "topic", topic)
	return nil
}

// RegisterIdentity publishes the management and identity paths.
//
// Returns:
//   - error: first publish failure, or nil
func (s *Service) RegisterIdentity(id DeviceIdentity) error {
	paths := []struct {
		path  string
		value any
	}{
		{"/Mgmt/ProcessName", id.ProcessName},
		{"/Mgmt/ProcessVersion", id.ProcessVersion},
		{"/Mgmt/Connection", id.Connection},
		{"/DeviceInstance", id.DeviceInstance},
		{"/ProductId", id.ProductID},
		{"/ProductName", id.ProductName},
		{"/Position", id.Position},
		{"/FirmwareVersion", id.FirmwareVersion},
		{"/HardwareVersion", id.HardwareVersion},
	}

	for _, p := range paths {
		if err := s.Set(p.path, p.value); err != nil {
			return fmt.Errorf("registering %s: %w", p.path, err)
		}
	}

	return nil
}

// Set publishes a value under a path and caches it.
//
// The payload is JSON {"value": ...}, retained, so new subscribers see
// the current tree without waiting for the next publish cycle.
//
// Parameters:
//   - path: slash-prefixed value path, e.g. "/Ac/L2/Voltage"
//   - value: any JSON-marshalable value
//
// Returns:
//   - error: if marshalling or the publish fails
func (s *Service) Set(path string, value any) error {
	payload, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return fmt.Errorf("marshalling value for %s: %w", path, err)
	}

	topic := s.topics.Value(path)
	if err := s.client.PublishRetained(topic, payload); err != nil {
		return fmt.Errorf("publishing %s: %w", path, err)
	}

	s.valuesMu.Lock()
	s.values[path] = value
	s.valuesMu.Unlock()

	return nil
}

// Value returns the last successfully published value for a path.
//
// Returns:
//   - any: the cached value
//   - bool: false if the path has never been published
func (s *Service) Value(path string) (any, bool) {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()
	v, ok := s.values[path]
	return v, ok
}

// SetOnChange sets a callback invoked when an external write arrives.
// The callback receives the value path and the raw payload.
func (s *Service) SetOnChange(callback func(path string, payload []byte)) {
	s.onChangeMu.Lock()
	s.onChange = callback
	s.onChangeMu.Unlock()
}

// SetLogger sets the logger for this service.
func (s *Service) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// handleWrite processes an external value write.
//
// Writes are accepted and logged; the bridge republishes authoritative
// values on its own cadence, so no state is changed here.
func (s *Service) handleWrite(topic string, payload []byte) error {
	path := strings.TrimPrefix(topic, s.topics.WritePrefix())
	if path == topic || path == "" {
		// Not under our write prefix; nothing to do.
		return nil
	}

	s.logDebug("external value write", "path", path, "payload", string(payload))

	s.onChangeMu.RLock()
	callback := s.onChange
	s.onChangeMu.RUnlock()
	if callback != nil {
		callback(path, payload)
	}

	return nil
}

// logDebug logs at debug level if a logger is set.
func (s *Service) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
