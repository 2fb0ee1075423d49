// Package backoff schedules reconnect attempts with bounded, increasing
// delays.
//
// The meter ingestor uses a Scheduler to arm a single pending retry after
// a connect failure or unexpected disconnect. The delay starts at a
// configured floor, grows by a factor per attempt (exponential mode) or
// stays constant (fixed mode), is capped at a ceiling, and resets to the
// floor once a connection succeeds.
//
// The scheduler is transport-agnostic: it only arms timers around a
// caller-supplied action.
package backoff
