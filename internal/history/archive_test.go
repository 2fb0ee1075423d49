package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/pv-bridge/internal/bridge"
	"github.com/nerrad567/pv-bridge/internal/infrastructure/database"
	"github.com/nerrad567/pv-bridge/internal/meter"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testMetrics() bridge.Metrics {
	m := bridge.Metrics{
		TotalPowerWatts: 690,
		EnergyKWh:       12.3,
	}
	powers := [meter.PhaseCount]float64{230, 460, 0}
	for i := range m.Phases {
		m.Phases[i].PowerWatts = powers[i]
	}
	return m
}

func TestNewArchive_Validation(t *testing.T) {
	if _, err := NewArchive(nil, 30, nil); err == nil {
		t.Error("expected error for nil database")
	}
	if _, err := NewArchive(testDB(t), -1, nil); err == nil {
		t.Error("expected error for negative retention")
	}
}

func TestNewArchive_SchemaIdempotent(t *testing.T) {
	db := testDB(t)

	if _, err := NewArchive(db, 30, nil); err != nil {
		t.Fatalf("first NewArchive() error = %v", err)
	}
	if _, err := NewArchive(db, 30, nil); err != nil {
		t.Errorf("second NewArchive() error = %v", err)
	}
}

func TestArchive_RecordAndQuery(t *testing.T) {
	archive, err := NewArchive(testDB(t), 30, nil)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}

	if err := archive.RecordCycle(testMetrics(), true); err != nil {
		t.Fatalf("RecordCycle() error = %v", err)
	}
	if err := archive.RecordCycle(testMetrics(), false); err != nil {
		t.Fatalf("RecordCycle() error = %v", err)
	}

	cycles, err := archive.RecentCycles(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentCycles() error = %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("got %d cycles, want 2", len(cycles))
	}

	// Most recent first.
	if cycles[0].MeterOnline {
		t.Error("newest cycle should have meter offline")
	}
	if !cycles[1].MeterOnline {
		t.Error("oldest cycle should have meter online")
	}

	c := cycles[0]
	if c.PowerWatts != 690 {
		t.Errorf("PowerWatts = %v, want 690", c.PowerWatts)
	}
	if c.EnergyKWh != 12.3 {
		t.Errorf("EnergyKWh = %v, want 12.3", c.EnergyKWh)
	}
	if c.PhasePowers != [3]float64{230, 460, 0} {
		t.Errorf("PhasePowers = %v", c.PhasePowers)
	}
	if time.Since(c.RecordedAt) > time.Minute {
		t.Errorf("RecordedAt = %v, not recent", c.RecordedAt)
	}
}

func TestArchive_RecentCyclesLimit(t *testing.T) {
	archive, err := NewArchive(testDB(t), 30, nil)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := archive.RecordCycle(testMetrics(), true); err != nil {
			t.Fatalf("RecordCycle() error = %v", err)
		}
	}

	cycles, err := archive.RecentCycles(context.Background(), 3)
	if err != nil {
		t.Fatalf("RecentCycles() error = %v", err)
	}
	if len(cycles) != 3 {
		t.Errorf("got %d cycles, want 3", len(cycles))
	}
}

func TestArchive_Prune(t *testing.T) {
	db := testDB(t)
	archive, err := NewArchive(db, 30, nil)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}

	ctx := context.Background()

	// One fresh row, one past the retention window.
	if err := archive.RecordCycle(testMetrics(), true); err != nil {
		t.Fatalf("RecordCycle() error = %v", err)
	}
	old := time.Now().Add(-31 * 24 * time.Hour).Unix()
	_, err = db.ExecContext(ctx,
		`INSERT INTO publish_cycles
			(recorded_at, power_watts, energy_kwh,
			 l1_power_watts, l2_power_watts, l3_power_watts, meter_online)
		 VALUES (?, 0, 0, 0, 0, 0, 1)`, old)
	if err != nil {
		t.Fatalf("inserting old row: %v", err)
	}

	deleted, err := archive.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	cycles, err := archive.RecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCycles() error = %v", err)
	}
	if len(cycles) != 1 {
		t.Errorf("got %d cycles after prune, want 1", len(cycles))
	}
}

func TestArchive_PruneDisabled(t *testing.T) {
	archive, err := NewArchive(testDB(t), 0, nil)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}

	if err := archive.RecordCycle(testMetrics(), true); err != nil {
		t.Fatalf("RecordCycle() error = %v", err)
	}

	deleted, err := archive.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0 with retention disabled", deleted)
	}
}

func TestArchive_StopWithoutStart(t *testing.T) {
	archive, err := NewArchive(testDB(t), 30, nil)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}

	archive.Stop()
	archive.Stop()
}

func TestArchive_StartStop(t *testing.T) {
	archive, err := NewArchive(testDB(t), 30, nil)
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}

	archive.Start()
	archive.Stop()
}
