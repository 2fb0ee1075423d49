package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/pv-bridge/internal/meter"
	"github.com/nerrad567/pv-bridge/internal/vebus"
)

// Value tree paths written every publish cycle.
const (
	pathEnergyForward = "/Ac/Energy/Forward"
	pathPower         = "/Ac/Power"
	pathConnected     = "/Connected"
	pathUpdateIndex   = "/UpdateIndex"
)

// revisionModulus bounds the update index to a single byte.
const revisionModulus = 256

// SnapshotSource provides the current measurement snapshot.
// Satisfied by *meter.Store.
type SnapshotSource interface {
	Snapshot() meter.Snapshot
}

// Recorder receives each completed publish cycle for archival.
// Implementations must not block for long; recording runs on the
// publish goroutine.
type Recorder interface {
	RecordCycle(metrics Metrics, connected bool) error
}

// Logger is the structured logging interface used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Publisher periodically derives inverter metrics from the measurement
// store and writes them to the downstream value sink.
//
// The cycle runs on a fixed cadence regardless of meter data arrival:
// a silent meter means the last known values keep being republished.
// A cycle never stops the schedule; failures are logged and the next
// tick proceeds.
type Publisher struct {
	store  SnapshotSource
	sink   vebus.Sink
	derive DeriveConfig

	interval  time.Duration
	recorders []Recorder
	logger    Logger

	// revision is the mod-256 update index. Touched only by the
	// publish goroutine (or direct cycle calls in tests).
	revision int

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// PublisherOptions holds dependencies and configuration for a Publisher.
type PublisherOptions struct {
	// Store supplies measurement snapshots. Required.
	Store SnapshotSource

	// Sink receives the derived value tree. Required.
	Sink vebus.Sink

	// Interval is the publish cadence. Required, must be positive.
	Interval time.Duration

	// Derive holds the derivation constants.
	Derive DeriveConfig

	// Recorders optionally archive each cycle (time series, history).
	Recorders []Recorder

	// Logger is optional.
	Logger Logger
}

// NewPublisher creates a snapshot publisher.
//
// Returns:
//   - *Publisher: ready to Start
//   - error: if a required option is missing
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", opts.Interval)
	}

	return &Publisher{
		store:     opts.Store,
		sink:      opts.Sink,
		derive:    opts.Derive,
		interval:  opts.Interval,
		recorders: opts.Recorders,
		logger:    opts.Logger,
		done:      make(chan struct{}),
	}, nil
}

// Start launches the publish loop. The first cycle runs immediately so
// the value tree is populated without waiting a full interval.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go p.run()

	p.logInfo("snapshot publisher started", "interval", p.interval.String())
}

// Stop halts the publish loop and waits for the in-flight cycle to
// finish. Safe to call multiple times.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()

	p.logInfo("snapshot publisher stopped")
}

// Revision returns the current update index.
func (p *Publisher) Revision() int {
	return p.revision
}

// run is the publish loop goroutine.
func (p *Publisher) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.publishCycle()

	for {
		select {
		case <-ticker.C:
			p.publishCycle()
		case <-p.done:
			return
		}
	}
}

// publishCycle derives metrics from the current snapshot and writes the
// full value tree.
//
// Individual path failures are logged and skipped so one bad write does
// not hold back the rest of the tree. A panic anywhere in the cycle is
// contained here; the revision only advances when the cycle ran to the
// end normally.
func (p *Publisher) publishCycle() {
	defer func() {
		if r := recover(); r != nil {
			p.logError("publish cycle panicked", "panic", fmt.Sprintf("%v", r))
		}
	}()

	snap := p.store.Snapshot()
	metrics := Derive(snap, p.derive)

	failures := 0
	set := func(path string, value any) {
		if err := p.sink.Set(path, value); err != nil {
			failures++
			p.logWarn("value write failed", "path", path, "error", err.Error())
		}
	}

	set(pathEnergyForward, metrics.EnergyKWh)
	for i, phase := range metrics.Phases {
		line := fmt.Sprintf("/Ac/L%d", i+1)
		set(line+"/Voltage", phase.VoltageVolts)
		set(line+"/Energy/Forward", phase.EnergyKWh)
		set(line+"/Current", phase.CurrentAmps)
		set(line+"/Power", phase.PowerWatts)
	}
	set(pathPower, metrics.TotalPowerWatts)
	set(pathConnected, boolToInt(snap.Connected))

	p.revision = (p.revision + 1) % revisionModulus
	set(pathUpdateIndex, p.revision)

	for _, rec := range p.recorders {
		if err := rec.RecordCycle(metrics, snap.Connected); err != nil {
			p.logWarn("cycle recorder failed", "error", err.Error())
		}
	}

	p.logDebug("publish cycle complete",
		"power_w", metrics.TotalPowerWatts,
		"energy_kwh", metrics.EnergyKWh,
		"revision", p.revision,
		"failures", failures,
	)
}

// boolToInt maps the connection flag to the 0/1 convention of the
// value tree.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// logDebug logs at debug level if a logger is set.
func (p *Publisher) logDebug(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs at info level if a logger is set.
func (p *Publisher) logInfo(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs at warn level if a logger is set.
func (p *Publisher) logWarn(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, keysAndValues...)
	}
}

// logError logs at error level if a logger is set.
func (p *Publisher) logError(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Error(msg, keysAndValues...)
	}
}
