// Package influxdb records publish cycles to an InfluxDB v2 time
// series database.
//
// Recording is optional and off by default. When enabled, every
// publish cycle lands as one point in the "pv_cycle" measurement and
// meter link transitions land in "meter_events". Writes are batched
// and non-blocking, so a slow or unreachable InfluxDB never delays a
// publish cycle.
package influxdb
