// Package history archives publish cycles to the local SQLite
// database.
//
// One row per cycle, pruned hourly past the configured retention
// window. The archive survives restarts and broker outages, giving a
// local production record independent of any time series backend.
package history
