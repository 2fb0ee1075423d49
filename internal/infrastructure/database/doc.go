// Package database manages the SQLite connection backing the local
// publish history archive.
//
// It handles file and directory creation, WAL and busy-timeout
// pragmas, and connection lifecycle. Schema and queries live in the
// history package; this package only provides the connection.
package database
