package mqtt

import "fmt"

// Meter topic suffixes published by the ehzmeter logger.
// The full topic is "<prefix>/<suffix>", e.g. "ehzmeter/pvpower".
const (
	// SuffixPower carries instantaneous total active power in watts.
	SuffixPower = "pvpower"

	// SuffixEnergyToday carries today's energy in meter units (0.1 Wh).
	SuffixEnergyToday = "pvtoday"

	// SuffixEnergyTotal carries the cumulative energy counter in meter
	// units (0.1 Wh) since meter installation.
	SuffixEnergyTotal = "pvtotal"

	// SuffixPhasePowers carries per-phase power as "L1,L2,L3" watts.
	SuffixPhasePowers = "pvpwrl123"
)

// MeterTopics provides builders for meter-side topics.
//
// Usage:
//
//	topics := mqtt.MeterTopics{Prefix: "ehzmeter"}
//	topics.Wildcard() // "ehzmeter/#"
//	topics.Power()    // "ehzmeter/pvpower"
type MeterTopics struct {
	// Prefix is the meter's topic prefix, e.g. "ehzmeter".
	Prefix string
}

// Wildcard returns the multi-level subscription covering all meter subtopics.
func (t MeterTopics) Wildcard() string {
	return fmt.Sprintf("%s/#", t.Prefix)
}

// Power returns the total power topic.
func (t MeterTopics) Power() string {
	return fmt.Sprintf("%s/%s", t.Prefix, SuffixPower)
}

// EnergyToday returns today's energy topic.
func (t MeterTopics) EnergyToday() string {
	return fmt.Sprintf("%s/%s", t.Prefix, SuffixEnergyToday)
}

// EnergyTotal returns the cumulative energy topic.
func (t MeterTopics) EnergyTotal() string {
	return fmt.Sprintf("%s/%s", t.Prefix, SuffixEnergyTotal)
}

// PhasePowers returns the per-phase power topic.
func (t MeterTopics) PhasePowers() string {
	return fmt.Sprintf("%s/%s", t.Prefix, SuffixPhasePowers)
}

// VenusTopics provides builders for the Victron-style value tree on the
// downstream broker. Values are published under "N/<service>", external
// writes arrive under "W/<service>".
//
// Usage:
//
//	topics := mqtt.VenusTopics{Service: "pvinverter/pv0"}
//	topics.Value("/Ac/Power") // "N/pvinverter/pv0/Ac/Power"
type VenusTopics struct {
	// Service is the published service name, e.g. "pvinverter/pv0".
	Service string
}

// Value returns the notification topic for a value path.
//
// Example: N/pvinverter/pv0/Ac/L1/Current
func (t VenusTopics) Value(path string) string {
	return fmt.Sprintf("N/%s%s", t.Service, path)
}

// WriteWildcard returns the subscription pattern for external value writes.
//
// Pattern: W/pvinverter/pv0/#
func (t VenusTopics) WriteWildcard() string {
	return fmt.Sprintf("W/%s/#", t.Service)
}

// WritePrefix returns the prefix stripped from incoming write topics to
// recover the value path.
func (t VenusTopics) WritePrefix() string {
	return fmt.Sprintf("W/%s", t.Service)
}

// Status returns the bridge status topic used for LWT and online payloads.
//
// Example: N/pvinverter/pv0/Status
func (t VenusTopics) Status() string {
	return fmt.Sprintf("N/%s/Status", t.Service)
}
