package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/internal/config"
	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(zap.NewNop(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.InitialCapital.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("Default capital: %s", cfg.InitialCapital)
	}
	if cfg.Risk.MaxExposurePct != 0.90 {
		t.Errorf("Default exposure limit: %v", cfg.Risk.MaxExposurePct)
	}
	if cfg.Leverage.Strong.Multiplier != 12.86 {
		t.Errorf("Default strong multiplier: %v", cfg.Leverage.Strong.Multiplier)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	yaml := `
initial_capital: "2500000"
risk:
  max_drawdown_pct: 0.08
rebalance:
  frequency_bars: 48
instruments:
  - symbol: DCE.i
    allocation_pct: 0.45
    unit_multiplier: 100
    source: bars
  - symbol: SHFE.cu
    allocation_pct: 0.45
    unit_multiplier: 5
    source: signals
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Writing fixture: %v", err)
	}

	cfg, err := config.Load(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.InitialCapital.Equal(decimal.NewFromInt(2_500_000)) {
		t.Errorf("Capital override: %s", cfg.InitialCapital)
	}
	if cfg.Risk.MaxDrawdownPct != 0.08 {
		t.Errorf("Drawdown override: %v", cfg.Risk.MaxDrawdownPct)
	}
	if cfg.Risk.MaxDailyLossPct != 0.03 {
		t.Errorf("Untouched default changed: %v", cfg.Risk.MaxDailyLossPct)
	}
	if cfg.Rebalance.FrequencyBars != 48 {
		t.Errorf("Rebalance override: %v", cfg.Rebalance.FrequencyBars)
	}
	if len(cfg.Instruments) != 2 {
		t.Fatalf("Instrument override: %d entries", len(cfg.Instruments))
	}
	if cfg.Instruments[1].Source != types.SourceSignals {
		t.Errorf("Instrument source: %v", cfg.Instruments[1].Source)
	}
}

func TestLoadReplacesInstrumentList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	yaml := `
instruments:
  - symbol: CZCE.TA
    allocation_pct: 0.45
    unit_multiplier: 5
    source: bars
  - symbol: CZCE.MA
    allocation_pct: 0.45
    unit_multiplier: 10
    source: bars
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Writing fixture: %v", err)
	}

	cfg, err := config.Load(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// A shorter list must not inherit leftover default baskets.
	if len(cfg.Instruments) != 2 {
		t.Fatalf("Instrument list: want 2 entries, got %d", len(cfg.Instruments))
	}
	for _, inst := range cfg.Instruments {
		if inst.Symbol != "CZCE.TA" && inst.Symbol != "CZCE.MA" {
			t.Errorf("Default basket leaked into file list: %s", inst.Symbol)
		}
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	yaml := `
instruments:
  - symbol: DCE.i
    allocation_pct: 1.5
    unit_multiplier: 100
    source: bars
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Writing fixture: %v", err)
	}

	if _, err := config.Load(zap.NewNop(), path); err == nil {
		t.Error("Expected validation error for allocation > 1")
	}
}
