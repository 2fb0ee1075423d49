// Package meter ingests readings from the ehzmeter MQTT feed and holds
// the latest known values.
//
// Two pieces live here:
//
//   - Store: a mutex-guarded holder of the latest measurement fields.
//     It is the single shared-state boundary between the transport's
//     message goroutines and the publish loop. Snapshots are internally
//     consistent; fields from different subtopics may differ in age.
//
//   - Ingestor: owns the subscribe-side connection lifecycle. It parses
//     the four meter subtopics (pvpower, pvtoday, pvtotal, pvpwrl123)
//     into store updates, drops malformed payloads without partial
//     writes, and drives reconnect backoff on link loss.
//
// The cumulative energy counter is seeded with a commissioning offset so
// downstream derived energy reads near zero before the first real update.
package meter
