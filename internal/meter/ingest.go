package meter

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/pv-bridge/internal/infrastructure/mqtt"
)

// Client is the subset of the MQTT client the ingestor drives.
// Satisfied by *mqtt.Client; mocked in tests.
type Client interface {
	// Dial attempts a broker connection, failing synchronously.
	Dial() error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// EventRecorder receives meter link transitions for archival.
// Optional; wired to the time series recorder in main.
type EventRecorder interface {
	RecordEvent(event string, detail string)
}

// Link event names passed to the EventRecorder.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventRetry        = "retry"
)

// RetryScheduler arms reconnect attempts. Satisfied by *backoff.Scheduler.
type RetryScheduler interface {
	// ScheduleRetry arms a single pending retry and returns the delay used.
	ScheduleRetry(action func()) time.Duration

	// Reset returns the retry delay to its floor.
	Reset()

	// Stop cancels any pending retry.
	Stop()
}

// Ingestor owns the subscribe-side connection lifecycle and message
// decoding. Incoming readings are parsed and forwarded to the Store;
// malformed payloads are logged and dropped without touching the store.
//
// Reconnection is driven here, not in the transport: connect failures and
// unexpected disconnects arm the retry scheduler, a successful connection
// resets it.
type Ingestor struct {
	store     *Store
	client    Client
	scheduler RetryScheduler
	events    EventRecorder
	topics    mqtt.MeterTopics
	qos       byte

	state   ConnectionState
	stateMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// IngestorOptions holds configuration for creating an ingestor.
type IngestorOptions struct {
	// Store receives parsed measurement updates.
	Store *Store

	// Client is the meter-side MQTT client.
	Client Client

	// Scheduler drives reconnect backoff.
	Scheduler RetryScheduler

	// TopicPrefix is the meter's topic prefix, e.g. "ehzmeter".
	TopicPrefix string

	// QoS for the wildcard subscription.
	QoS byte

	// Events is an optional recorder of link transitions.
	Events EventRecorder

	// Logger is optional.
	Logger Logger
}

// NewIngestor creates an ingestor.
//
// Wire HandleConnect and HandleDisconnect into the transport's connection
// callbacks, then call Connect to start.
func NewIngestor(opts IngestorOptions) (*Ingestor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if opts.TopicPrefix == "" {
		return nil, fmt.Errorf("topic prefix is required")
	}

	return &Ingestor{
		store:     opts.Store,
		client:    opts.Client,
		scheduler: opts.Scheduler,
		events:    opts.Events,
		topics:    mqtt.MeterTopics{Prefix: opts.TopicPrefix},
		qos:       opts.QoS,
		state:     Disconnected,
		logger:    opts.Logger,
	}, nil
}

// Connect initiates a connection to the meter broker.
//
// On synchronous failure the error is logged and a retry is armed via the
// scheduler; nothing is raised to the caller. The transport's connect
// callback (wired to HandleConnect) completes the success path.
func (i *Ingestor) Connect() {
	i.setState(Connecting)

	if err := i.client.Dial(); err != nil {
		i.setState(Disconnected)
		i.store.SetConnected(false)

		delay := i.scheduler.ScheduleRetry(i.Connect)
		i.recordEvent(EventRetry, err.Error())
		i.logWarn("meter broker connect failed, retry scheduled",
			"error", err,
			"retry_in", delay,
		)
		return
	}

	// Success is completed asynchronously by HandleConnect.
}

// HandleConnect is invoked by the transport once a connection is
// established (initial connect and every reconnect).
//
// It marks the store connected, resets the backoff to its floor, and
// subscribes to the wildcard covering all measurement subtopics.
func (i *Ingestor) HandleConnect() {
	i.setState(Connected)
	i.store.SetConnected(true)
	i.scheduler.Reset()
	i.recordEvent(EventConnected, "")

	i.subscribe()
}

// subscribe registers the wildcard handler, arming a backoff retry on
// failure. A connected-but-unsubscribed link would otherwise sit idle
// until the next disconnect.
func (i *Ingestor) subscribe() {
	if !i.client.IsConnected() {
		// The link dropped before the retry fired; HandleDisconnect
		// owns recovery from here.
		return
	}

	topic := i.topics.Wildcard()
	if err := i.client.Subscribe(topic, i.qos, i.HandleMessage); err != nil {
		delay := i.scheduler.ScheduleRetry(i.subscribe)
		i.logError("meter subscription failed, retry scheduled",
			"topic", topic,
			"error", err,
			"retry_in", delay,
		)
		return
	}

	i.logInfo("meter connected", "topic", topic)
}

// HandleDisconnect is invoked by the transport when the connection drops.
//
// A clean shutdown (nil error) only updates state; an unexpected loss
// arms a reconnect attempt.
func (i *Ingestor) HandleDisconnect(err error) {
	i.setState(Disconnected)
	i.store.SetConnected(false)

	if err == nil {
		i.recordEvent(EventDisconnected, "")
		i.logInfo("meter disconnected")
		return
	}

	delay := i.scheduler.ScheduleRetry(i.Connect)
	i.recordEvent(EventDisconnected, err.Error())
	i.logWarn("meter connection lost, retry scheduled",
		"error", err,
		"retry_in", delay,
	)
}

// HandleMessage dispatches an inbound meter message by exact topic match.
//
// Malformed payloads are logged and dropped; the store is never partially
// updated. Unknown subtopics under the subscribed prefix are ignored.
// The returned error is always nil: parse failures must not propagate
// into the transport layer.
func (i *Ingestor) HandleMessage(topic string, payload []byte) error {
	value := strings.TrimSpace(string(payload))

	switch topic {
	case i.topics.Power():
		watts, err := strconv.ParseFloat(value, 64)
		if err != nil {
			i.logWarn("dropping unparsable power reading", "topic", topic, "payload", value)
			return nil
		}
		i.store.SetTotalPower(watts)

	case i.topics.EnergyToday():
		raw, err := strconv.ParseFloat(value, 64)
		if err != nil {
			i.logWarn("dropping unparsable energy reading", "topic", topic, "payload", value)
			return nil
		}
		i.store.SetEnergyToday(raw)

	case i.topics.EnergyTotal():
		raw, err := strconv.ParseFloat(value, 64)
		if err != nil {
			i.logWarn("dropping unparsable energy reading", "topic", topic, "payload", value)
			return nil
		}
		i.store.SetEnergyTotal(raw)

	case i.topics.PhasePowers():
		phases, err := parsePhasePowers(value)
		if err != nil {
			i.logWarn("dropping unparsable phase powers", "topic", topic, "payload", value, "error", err)
			return nil
		}
		i.store.SetPhasePowers(phases[0], phases[1], phases[2])

	default:
		// Other subtopics under the prefix are not bridged.
	}

	return nil
}

// recordEvent forwards a link transition if a recorder is set.
func (i *Ingestor) recordEvent(event string, detail string) {
	if i.events != nil {
		i.events.RecordEvent(event, detail)
	}
}

// Stop cancels any pending reconnect attempt.
func (i *Ingestor) Stop() {
	i.scheduler.Stop()
}

// State returns the current connection state.
func (i *Ingestor) State() ConnectionState {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.state
}

// parsePhasePowers parses a "L1,L2,L3" payload into three floats.
//
// The whole message is rejected on a count mismatch or any parse failure
// so the store never sees a partial triple.
func parsePhasePowers(value string) ([PhaseCount]float64, error) {
	var phases [PhaseCount]float64

	parts := strings.Split(value, ",")
	if len(parts) != PhaseCount {
		return phases, fmt.Errorf("expected %d comma-separated values, got %d", PhaseCount, len(parts))
	}

	for n, part := range parts {
		watts, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return phases, fmt.Errorf("phase L%d: %w", n+1, err)
		}
		phases[n] = watts
	}

	return phases, nil
}

// setState updates the connection state.
func (i *Ingestor) setState(state ConnectionState) {
	i.stateMu.Lock()
	i.state = state
	i.stateMu.Unlock()
}

// Logging helpers; the logger is optional.

func (i *Ingestor) logInfo(msg string, keysAndValues ...any) {
	i.loggerMu.RLock()
	logger := i.logger
	i.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (i *Ingestor) logWarn(msg string, keysAndValues ...any) {
	i.loggerMu.RLock()
	logger := i.logger
	i.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (i *Ingestor) logError(msg string, keysAndValues ...any) {
	i.loggerMu.RLock()
	logger := i.logger
	i.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
