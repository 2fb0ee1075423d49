package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/pv-bridge/internal/bridge"
	"github.com/nerrad567/pv-bridge/internal/infrastructure/database"
)

// Operation timeouts and pruning cadence.
const (
	writeTimeout  = 5 * time.Second
	pruneTimeout  = 30 * time.Second
	pruneInterval = time.Hour

	hoursPerDay = 24
)

// schema creates the archive tables. IF NOT EXISTS keeps restarts
// cheap; the schema is small enough that versioned migrations would
// be overkill.
const schema = `
CREATE TABLE IF NOT EXISTS publish_cycles (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at    INTEGER NOT NULL,
	power_watts    REAL NOT NULL,
	energy_kwh     REAL NOT NULL,
	l1_power_watts REAL NOT NULL,
	l2_power_watts REAL NOT NULL,
	l3_power_watts REAL NOT NULL,
	meter_online   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_publish_cycles_recorded_at
	ON publish_cycles (recorded_at);
`

// Logger is the structured logging interface used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Cycle is one archived publish cycle.
type Cycle struct {
	RecordedAt  time.Time
	PowerWatts  float64
	EnergyKWh   float64
	PhasePowers [3]float64
	MeterOnline bool
}

// Archive persists publish cycles to the local SQLite database and
// prunes rows past the retention window.
//
// Implements the publisher's Recorder interface; RecordCycle runs on
// the publish goroutine, so inserts use a short timeout and never
// retry.
type Archive struct {
	db         *database.DB
	retainDays int
	logger     Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewArchive creates the archive and ensures its schema exists.
//
// Parameters:
//   - db: open database connection
//   - retainDays: rows older than this are pruned; 0 disables pruning
//   - logger: optional
//
// Returns:
//   - *Archive: ready to record
//   - error: if schema creation fails
func NewArchive(db *database.DB, retainDays int, logger Logger) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if retainDays < 0 {
		return nil, fmt.Errorf("retain days must not be negative, got %d", retainDays)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating archive schema: %w", err)
	}

	return &Archive{
		db:         db,
		retainDays: retainDays,
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

// RecordCycle inserts one publish cycle row.
//
// Returns:
//   - error: if the insert fails
func (a *Archive) RecordCycle(metrics bridge.Metrics, connected bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO publish_cycles
			(recorded_at, power_watts, energy_kwh,
			 l1_power_watts, l2_power_watts, l3_power_watts, meter_online)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(),
		metrics.TotalPowerWatts,
		metrics.EnergyKWh,
		metrics.Phases[0].PowerWatts,
		metrics.Phases[1].PowerWatts,
		metrics.Phases[2].PowerWatts,
		boolToInt(connected),
	)
	if err != nil {
		return fmt.Errorf("recording publish cycle: %w", err)
	}

	return nil
}

// Prune deletes rows older than the retention window.
//
// Returns:
//   - int64: number of rows deleted
//   - error: if the delete fails
func (a *Archive) Prune(ctx context.Context) (int64, error) {
	if a.retainDays == 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-time.Duration(a.retainDays) * hoursPerDay * time.Hour).Unix()

	result, err := a.db.ExecContext(ctx,
		"DELETE FROM publish_cycles WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning archive: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading prune result: %w", err)
	}

	return deleted, nil
}

// RecentCycles returns the newest archived cycles, most recent first.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - limit: maximum rows to return
//
// Returns:
//   - []Cycle: archived cycles
//   - error: if the query fails
func (a *Archive) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	rows, err := a.db.DB.QueryContext(ctx,
		`SELECT recorded_at, power_watts, energy_kwh,
			l1_power_watts, l2_power_watts, l3_power_watts, meter_online
		 FROM publish_cycles
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var cycles []Cycle
	for rows.Next() {
		var c Cycle
		var recordedAt int64
		var online int
		if err := rows.Scan(&recordedAt, &c.PowerWatts, &c.EnergyKWh,
			&c.PhasePowers[0], &c.PhasePowers[1], &c.PhasePowers[2], &online); err != nil {
			return nil, fmt.Errorf("scanning archive row: %w", err)
		}
		c.RecordedAt = time.Unix(recordedAt, 0)
		c.MeterOnline = online != 0
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading archive rows: %w", err)
	}

	return cycles, nil
}

// Start launches the hourly pruner. No-op when retention is disabled.
func (a *Archive) Start() {
	if a.retainDays == 0 {
		return
	}

	a.wg.Add(1)
	go a.runPruner()
}

// Stop halts the pruner and waits for it to finish.
// Safe to call multiple times, including when Start was never called.
func (a *Archive) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}

// runPruner deletes expired rows on a fixed cadence.
func (a *Archive) runPruner() {
	defer a.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	a.pruneOnce()

	for {
		select {
		case <-ticker.C:
			a.pruneOnce()
		case <-a.done:
			return
		}
	}
}

// pruneOnce runs a single prune pass and logs the outcome.
func (a *Archive) pruneOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	deleted, err := a.Prune(ctx)
	if err != nil {
		a.logWarn("archive prune failed", "error", err.Error())
		return
	}
	if deleted > 0 {
		a.logDebug("archive pruned", "rows", deleted, "retain_days", a.retainDays)
	}
}

// boolToInt maps a bool onto SQLite's integer convention.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// logDebug logs at debug level if a logger is set.
func (a *Archive) logDebug(msg string, keysAndValues ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, keysAndValues...)
	}
}

// logWarn logs at warn level if a logger is set.
func (a *Archive) logWarn(msg string, keysAndValues ...any) {
	if a.logger != nil {
		a.logger.Warn(msg, keysAndValues...)
	}
}
