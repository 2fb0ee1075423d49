package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pv-bridge/internal/meter"
)

// mockStore returns a fixed snapshot.
type mockStore struct {
	snap meter.Snapshot
}

func (m *mockStore) Snapshot() meter.Snapshot { return m.snap }

// mockSink records Set calls and can fail selected paths.
type mockSink struct {
	mu       sync.Mutex
	values   map[string]any
	order    []string
	failPath string
}

func newMockSink() *mockSink {
	return &mockSink{values: make(map[string]any)}
}

func (m *mockSink) Set(path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if path == m.failPath {
		return errors.New("write rejected")
	}
	m.values[path] = value
	m.order = append(m.order, path)
	return nil
}

func (m *mockSink) get(path string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[path]
	return v, ok
}

func (m *mockSink) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// mockRecorder captures recorded cycles.
type mockRecorder struct {
	mu     sync.Mutex
	cycles []Metrics
	err    error
}

func (m *mockRecorder) RecordCycle(metrics Metrics, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.cycles = append(m.cycles, metrics)
	return nil
}

func testDeriveConfig() DeriveConfig {
	return DeriveConfig{
		NominalVoltage:   230,
		InitialOffsetKWh: 73311,
		PhaseShares:      [meter.PhaseCount]float64{0.576, 0.212, 0.212},
		Rounding:         RoundDecimal,
	}
}

func TestDerive_NetEnergy(t *testing.T) {
	cfg := testDeriveConfig()

	tests := []struct {
		name     string
		totalRaw float64
		want     float64
	}{
		{"at offset", 733110000, 0.0},
		{"one tenth kwh past offset", 733111000, 0.1},
		{"one kwh past offset", 733120000, 1.0},
		{"hundred kwh past offset", 734110000, 100.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Derive(meter.Snapshot{EnergyTotalRaw: tt.totalRaw}, cfg)
			if m.EnergyKWh != tt.want {
				t.Errorf("EnergyKWh = %v, want %v", m.EnergyKWh, tt.want)
			}
		})
	}
}

func TestDerive_PhaseCurrents(t *testing.T) {
	cfg := testDeriveConfig()
	snap := meter.Snapshot{
		PhasePowerWatts: [meter.PhaseCount]float64{230, 460, 0},
	}

	m := Derive(snap, cfg)

	wantCurrents := [meter.PhaseCount]float64{1.0, 2.0, 0.0}
	for i, want := range wantCurrents {
		if m.Phases[i].CurrentAmps != want {
			t.Errorf("phase %d current = %v, want %v", i+1, m.Phases[i].CurrentAmps, want)
		}
		if m.Phases[i].VoltageVolts != 230 {
			t.Errorf("phase %d voltage = %v, want 230", i+1, m.Phases[i].VoltageVolts)
		}
		if m.Phases[i].PowerWatts != snap.PhasePowerWatts[i] {
			t.Errorf("phase %d power = %v, want %v", i+1, m.Phases[i].PowerWatts, snap.PhasePowerWatts[i])
		}
	}
}

func TestDerive_PhaseEnergyShares(t *testing.T) {
	cfg := testDeriveConfig()
	// 100 kWh net production.
	snap := meter.Snapshot{EnergyTotalRaw: (73311 + 100) * meter.UnitsPerKWh}

	m := Derive(snap, cfg)

	wantShares := [meter.PhaseCount]float64{57.6, 21.2, 21.2}
	for i, want := range wantShares {
		if m.Phases[i].EnergyKWh != want {
			t.Errorf("phase %d energy = %v, want %v", i+1, m.Phases[i].EnergyKWh, want)
		}
	}
}

func TestDerive_IntegerRounding(t *testing.T) {
	cfg := testDeriveConfig()
	cfg.Rounding = RoundInteger

	snap := meter.Snapshot{
		EnergyTotalRaw:  733111000, // 0.1 kWh net
		PhasePowerWatts: [meter.PhaseCount]float64{345, 0, 0},
	}

	m := Derive(snap, cfg)

	if m.EnergyKWh != 0 {
		t.Errorf("EnergyKWh = %v, want 0", m.EnergyKWh)
	}
	// 345/230 = 1.5, rounds half away from zero.
	if m.Phases[0].CurrentAmps != 2 {
		t.Errorf("L1 current = %v, want 2", m.Phases[0].CurrentAmps)
	}
}

func TestDerive_PowerRounding(t *testing.T) {
	snap := meter.Snapshot{
		TotalPowerWatts: 1234.567,
		PhasePowerWatts: [meter.PhaseCount]float64{411.519, 0, 0},
	}

	tests := []struct {
		name      string
		mode      RoundingMode
		wantTotal float64
		wantL1    float64
	}{
		{"decimal", RoundDecimal, 1234.6, 411.5},
		{"integer", RoundInteger, 1235, 412},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testDeriveConfig()
			cfg.Rounding = tt.mode

			m := Derive(snap, cfg)

			if m.TotalPowerWatts != tt.wantTotal {
				t.Errorf("TotalPowerWatts = %v, want %v", m.TotalPowerWatts, tt.wantTotal)
			}
			if m.Phases[0].PowerWatts != tt.wantL1 {
				t.Errorf("L1 PowerWatts = %v, want %v", m.Phases[0].PowerWatts, tt.wantL1)
			}
		})
	}
}

func TestNewPublisher_Validation(t *testing.T) {
	store := &mockStore{}
	sink := newMockSink()

	tests := []struct {
		name string
		opts PublisherOptions
	}{
		{"missing store", PublisherOptions{Sink: sink, Interval: time.Second}},
		{"missing sink", PublisherOptions{Store: store, Interval: time.Second}},
		{"zero interval", PublisherOptions{Store: store, Sink: sink}},
		{"negative interval", PublisherOptions{Store: store, Sink: sink, Interval: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPublisher(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func newTestPublisher(t *testing.T, store SnapshotSource, sink *mockSink, recorders ...Recorder) *Publisher {
	t.Helper()
	p, err := NewPublisher(PublisherOptions{
		Store:     store,
		Sink:      sink,
		Interval:  time.Hour,
		Derive:    testDeriveConfig(),
		Recorders: recorders,
	})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	return p
}

func TestPublisher_CycleWritesFullTree(t *testing.T) {
	store := &mockStore{snap: meter.Snapshot{
		TotalPowerWatts: 690,
		EnergyTotalRaw:  733111000,
		PhasePowerWatts: [meter.PhaseCount]float64{230, 460, 0},
		Connected:       true,
	}}
	sink := newMockSink()
	p := newTestPublisher(t, store, sink)

	p.publishCycle()

	wantPaths := []string{
		"/Ac/Energy/Forward",
		"/Ac/L1/Voltage", "/Ac/L1/Energy/Forward", "/Ac/L1/Current", "/Ac/L1/Power",
		"/Ac/L2/Voltage", "/Ac/L2/Energy/Forward", "/Ac/L2/Current", "/Ac/L2/Power",
		"/Ac/L3/Voltage", "/Ac/L3/Energy/Forward", "/Ac/L3/Current", "/Ac/L3/Power",
		"/Ac/Power", "/Connected", "/UpdateIndex",
	}
	for _, path := range wantPaths {
		if _, ok := sink.get(path); !ok {
			t.Errorf("path %s not written", path)
		}
	}

	if v, _ := sink.get("/Ac/Power"); v != 690.0 {
		t.Errorf("/Ac/Power = %v, want 690", v)
	}
	if v, _ := sink.get("/Ac/Energy/Forward"); v != 0.1 {
		t.Errorf("/Ac/Energy/Forward = %v, want 0.1", v)
	}
	if v, _ := sink.get("/Connected"); v != 1 {
		t.Errorf("/Connected = %v, want 1", v)
	}
	if v, _ := sink.get("/UpdateIndex"); v != 1 {
		t.Errorf("/UpdateIndex = %v, want 1", v)
	}
}

func TestPublisher_ConnectedFlag(t *testing.T) {
	store := &mockStore{snap: meter.Snapshot{Connected: false}}
	sink := newMockSink()
	p := newTestPublisher(t, store, sink)

	p.publishCycle()

	if v, _ := sink.get("/Connected"); v != 0 {
		t.Errorf("/Connected = %v, want 0", v)
	}
}

func TestPublisher_RevisionWrapsAt256(t *testing.T) {
	store := &mockStore{}
	sink := newMockSink()
	p := newTestPublisher(t, store, sink)

	for i := 0; i < 255; i++ {
		p.publishCycle()
	}
	if p.Revision() != 255 {
		t.Fatalf("revision = %d after 255 cycles, want 255", p.Revision())
	}

	p.publishCycle()
	if p.Revision() != 0 {
		t.Errorf("revision = %d after 256 cycles, want 0", p.Revision())
	}
	if v, _ := sink.get("/UpdateIndex"); v != 0 {
		t.Errorf("/UpdateIndex = %v, want 0", v)
	}
}

func TestPublisher_PathFailureDoesNotAbortCycle(t *testing.T) {
	store := &mockStore{snap: meter.Snapshot{TotalPowerWatts: 100}}
	sink := newMockSink()
	sink.failPath = "/Ac/L1/Voltage"
	p := newTestPublisher(t, store, sink)

	p.publishCycle()

	if _, ok := sink.get("/Ac/Power"); !ok {
		t.Error("paths after the failing one were not written")
	}
	if p.Revision() != 1 {
		t.Errorf("revision = %d, want 1", p.Revision())
	}
}

func TestPublisher_RecorderReceivesCycle(t *testing.T) {
	store := &mockStore{snap: meter.Snapshot{TotalPowerWatts: 250, Connected: true}}
	sink := newMockSink()
	rec := &mockRecorder{}
	p := newTestPublisher(t, store, sink, rec)

	p.publishCycle()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.cycles) != 1 {
		t.Fatalf("recorded %d cycles, want 1", len(rec.cycles))
	}
	if rec.cycles[0].TotalPowerWatts != 250 {
		t.Errorf("recorded power = %v, want 250", rec.cycles[0].TotalPowerWatts)
	}
}

func TestPublisher_RecorderFailureIsNonFatal(t *testing.T) {
	store := &mockStore{}
	sink := newMockSink()
	rec := &mockRecorder{err: errors.New("disk full")}
	p := newTestPublisher(t, store, sink, rec)

	p.publishCycle()

	if p.Revision() != 1 {
		t.Errorf("revision = %d, want 1", p.Revision())
	}
}

func TestPublisher_StartStopLifecycle(t *testing.T) {
	store := &mockStore{}
	sink := newMockSink()
	p, err := NewPublisher(PublisherOptions{
		Store:    store,
		Sink:     sink,
		Interval: 50 * time.Millisecond,
		Derive:   testDeriveConfig(),
	})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	p.Start()

	// The first cycle runs immediately.
	deadline := time.After(time.Second)
	for sink.writeCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no writes after Start")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Stop()
	p.Stop() // idempotent

	count := sink.writeCount()
	time.Sleep(100 * time.Millisecond)
	if sink.writeCount() != count {
		t.Error("writes continued after Stop")
	}
}
