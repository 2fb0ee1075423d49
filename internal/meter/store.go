package meter

import "sync"

// Store holds the latest known measurement values.
//
// It is the only shared mutable state between the ingest callbacks
// (transport goroutines) and the publish loop, so every setter and the
// snapshot reader serialize on one mutex. The per-phase triple is applied
// as a single unit; a reader can never observe a mixed triple.
//
// Thread Safety: all methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	totalPowerWatts float64
	energyTodayRaw  float64
	energyTotalRaw  float64
	phasePowerWatts [PhaseCount]float64
	connected       bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewStore creates a store with all fields zeroed except the cumulative
// energy counter, which is seeded with the configured offset so derived
// energy reads near zero before the first real update arrives.
//
// Parameters:
//   - initialOffsetKWh: energy offset in kWh at bridge commissioning
//
// Returns:
//   - *Store: ready for concurrent use
func NewStore(initialOffsetKWh float64) *Store {
	return &Store{
		energyTotalRaw: initialOffsetKWh * UnitsPerKWh,
	}
}

// SetLogger sets an optional logger for per-update traces.
func (s *Store) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// SetTotalPower replaces the total active power reading.
func (s *Store) SetTotalPower(watts float64) {
	s.mu.Lock()
	s.totalPowerWatts = watts
	s.mu.Unlock()

	s.trace("total power updated", "watts", watts)
}

// SetEnergyToday replaces today's energy counter (meter units, 0.1 Wh).
func (s *Store) SetEnergyToday(raw float64) {
	s.mu.Lock()
	s.energyTodayRaw = raw
	s.mu.Unlock()

	s.trace("energy today updated", "raw", raw)
}

// SetEnergyTotal replaces the cumulative energy counter (meter units, 0.1 Wh).
func (s *Store) SetEnergyTotal(raw float64) {
	s.mu.Lock()
	s.energyTotalRaw = raw
	s.mu.Unlock()

	s.trace("energy total updated", "raw", raw)
}

// SetPhasePowers replaces all three per-phase power readings as one unit.
func (s *Store) SetPhasePowers(l1, l2, l3 float64) {
	s.mu.Lock()
	s.phasePowerWatts = [PhaseCount]float64{l1, l2, l3}
	s.mu.Unlock()

	s.trace("phase powers updated", "l1", l1, "l2", l2, "l3", l3)
}

// SetConnected mirrors the upstream link state into the store.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()

	s.trace("connection state updated", "connected", connected)
}

// Snapshot atomically copies every field into one consistent value.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		TotalPowerWatts: s.totalPowerWatts,
		EnergyTodayRaw:  s.energyTodayRaw,
		EnergyTotalRaw:  s.energyTotalRaw,
		PhasePowerWatts: s.phasePowerWatts,
		Connected:       s.connected,
	}
}

// trace emits a debug log if a logger is set.
func (s *Store) trace(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
