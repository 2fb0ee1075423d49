package bridge

import (
	"math"

	"github.com/nerrad567/pv-bridge/internal/meter"
)

// RoundingMode selects how derived values are rounded before publishing.
type RoundingMode string

// Rounding modes.
const (
	// RoundDecimal rounds derived values to one decimal place.
	RoundDecimal RoundingMode = "decimal"

	// RoundInteger rounds derived values to whole numbers.
	RoundInteger RoundingMode = "integer"
)

// PhaseMetrics holds the published values for one AC phase.
type PhaseMetrics struct {
	// VoltageVolts is the reported phase voltage. The meter does not
	// measure voltage, so this is the configured nominal value.
	VoltageVolts float64

	// CurrentAmps is the estimated phase current derived from phase
	// power and nominal voltage.
	CurrentAmps float64

	// PowerWatts is the measured phase power, rounded per the
	// configured mode.
	PowerWatts float64

	// EnergyKWh is the phase's share of net production energy.
	EnergyKWh float64
}

// Metrics is one publish cycle's worth of derived inverter values.
type Metrics struct {
	// TotalPowerWatts is the total active power, rounded per the
	// configured mode.
	TotalPowerWatts float64

	// EnergyKWh is net production since commissioning: the meter's
	// cumulative counter converted to kWh minus the configured offset.
	EnergyKWh float64

	// EnergyTodayKWh is today's production converted to kWh.
	EnergyTodayKWh float64

	// Phases holds per-phase values, L1..L3.
	Phases [meter.PhaseCount]PhaseMetrics
}

// DeriveConfig holds the constants used to turn a raw snapshot into
// publishable metrics.
type DeriveConfig struct {
	// NominalVoltage is the assumed grid voltage per phase.
	NominalVoltage float64

	// InitialOffsetKWh is subtracted from the meter's cumulative
	// counter so published energy starts at zero.
	InitialOffsetKWh float64

	// PhaseShares apportions net energy across phases. Must sum to
	// roughly 1.0; validated at config load.
	PhaseShares [meter.PhaseCount]float64

	// Rounding selects decimal or integer rounding of derived values.
	Rounding RoundingMode
}

// Derive computes the downstream metric set from a raw meter snapshot.
//
// Pure function of its inputs; safe to call from any goroutine.
func Derive(snap meter.Snapshot, cfg DeriveConfig) Metrics {
	netKWh := snap.EnergyTotalRaw/meter.UnitsPerKWh - cfg.InitialOffsetKWh

	m := Metrics{
		TotalPowerWatts: round(snap.TotalPowerWatts, cfg.Rounding),
		EnergyKWh:       round(netKWh, cfg.Rounding),
		EnergyTodayKWh:  round(snap.EnergyTodayRaw/meter.UnitsPerKWh, cfg.Rounding),
	}

	for i := 0; i < meter.PhaseCount; i++ {
		power := snap.PhasePowerWatts[i]
		m.Phases[i] = PhaseMetrics{
			VoltageVolts: cfg.NominalVoltage,
			CurrentAmps:  round(power/cfg.NominalVoltage, cfg.Rounding),
			PowerWatts:   round(power, cfg.Rounding),
			EnergyKWh:    round(netKWh*cfg.PhaseShares[i], cfg.Rounding),
		}
	}

	return m
}

// round applies the configured rounding mode.
func round(v float64, mode RoundingMode) float64 {
	if mode == RoundInteger {
		return math.Round(v)
	}
	return math.Round(v*10) / 10
}
