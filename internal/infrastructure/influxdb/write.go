package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePublishCycle records one publish cycle's derived values.
//
// One point per cycle in the "pv_cycle" measurement, tagged with the
// published service name. The write is non-blocking; data is batched
// and sent asynchronously.
//
// Parameters:
//   - service: published service name (e.g. "pvinverter/pv0")
//   - powerWatts: total active power
//   - energyKWh: net production energy
//   - phasePowers: per-phase power, L1..L3
//   - connected: upstream meter link state at cycle time
func (c *Client) WritePublishCycle(service string, powerWatts, energyKWh float64, phasePowers [3]float64, connected bool) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"power_watts":    powerWatts,
		"energy_kwh":     energyKWh,
		"l1_power_watts": phasePowers[0],
		"l2_power_watts": phasePowers[1],
		"l3_power_watts": phasePowers[2],
		"meter_online":   connected,
	}

	point := write.NewPoint(
		"pv_cycle",
		map[string]string{
			"service": service,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteMeterEvent records a meter link state transition.
//
// Used to chart upstream availability alongside the production data.
//
// Parameters:
//   - service: published service name
//   - event: event name (e.g. "connected", "disconnected", "retry")
//   - detail: free-form context, empty for none
func (c *Client) WriteMeterEvent(service string, event string, detail string) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"event": event,
	}
	if detail != "" {
		fields["detail"] = detail
	}

	point := write.NewPoint(
		"meter_events",
		map[string]string{
			"service": service,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
