package meter

// PhaseCount is the number of AC phases reported by the meter.
const PhaseCount = 3

// UnitsPerKWh converts the meter's native energy unit (0.1 Wh)
// to kilowatt hours.
const UnitsPerKWh = 10000

// ConnectionState describes the upstream meter link.
type ConnectionState int

// Connection states.
const (
	// Disconnected means no broker connection exists.
	Disconnected ConnectionState = iota

	// Connecting means a connection or retry attempt is in flight.
	Connecting

	// Connected means the broker link is up and subscribed.
	Connected
)

// String returns the state name for logging.
func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Snapshot is a consistent, point-in-time copy of all measurement fields.
//
// Fields originate from independent meter subtopics, so a snapshot may
// combine readings of different ages. Within one snapshot the per-phase
// triple is always from a single message.
type Snapshot struct {
	// TotalPowerWatts is the instantaneous total active power.
	TotalPowerWatts float64

	// EnergyTodayRaw is today's energy counter in meter units (0.1 Wh).
	// Informational only; not republished downstream.
	EnergyTodayRaw float64

	// EnergyTotalRaw is the cumulative energy counter in meter units
	// (0.1 Wh) since meter installation.
	EnergyTotalRaw float64

	// PhasePowerWatts is per-phase instantaneous power, L1..L3.
	PhasePowerWatts [PhaseCount]float64

	// Connected reports the upstream link state at snapshot time.
	Connected bool
}

// Logger is the structured logging interface used by this package.
// Satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
