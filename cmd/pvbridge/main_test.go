package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/pv-bridge/internal/bridge"
	"github.com/nerrad567/pv-bridge/internal/infrastructure/config"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("PVBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidPhaseShares verifies config validation failures stop startup.
func TestRun_InvalidPhaseShares(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := `
meter:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-meter"

venus:
  broker:
    host: "127.0.0.1"
    port: 1884
    client_id: "test-venus"

publisher:
  phase_shares: [0.5, 0.5]

logging:
  level: info
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("PVBRIDGE_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with two phase shares")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("PVBRIDGE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("PVBRIDGE_CONFIG", "/etc/pv-bridge/config.yaml")
	if got := getConfigPath(); got != "/etc/pv-bridge/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestDeriveConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Publisher.NominalVoltage = 230
	cfg.Publisher.InitialOffsetKWh = 73311
	cfg.Publisher.PhaseShares = []float64{0.576, 0.212, 0.212}
	cfg.Publisher.RoundingMode = config.RoundingDecimal

	dc := deriveConfig(cfg)

	if dc.NominalVoltage != 230 {
		t.Errorf("NominalVoltage = %v", dc.NominalVoltage)
	}
	if dc.InitialOffsetKWh != 73311 {
		t.Errorf("InitialOffsetKWh = %v", dc.InitialOffsetKWh)
	}
	if dc.PhaseShares != [3]float64{0.576, 0.212, 0.212} {
		t.Errorf("PhaseShares = %v", dc.PhaseShares)
	}
	if dc.Rounding != bridge.RoundDecimal {
		t.Errorf("Rounding = %v", dc.Rounding)
	}
}
