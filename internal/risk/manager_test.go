package risk_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/internal/risk"
	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

func newManager() *risk.Manager {
	return risk.NewManager(zap.NewNop(), types.DefaultRiskConfig())
}

func TestPeakIsMonotone(t *testing.T) {
	m := newManager()
	state := risk.NewState(decimal.NewFromInt(1_000_000))

	values := []int64{1_000_000, 1_050_000, 1_020_000, 1_080_000, 990_000, 1_080_000}
	peak := decimal.Zero
	for _, v := range values {
		m.UpdateTracking(&state, decimal.NewFromInt(v))
		if state.PeakValue.LessThan(peak) {
			t.Fatalf("Peak decreased: %s -> %s", peak, state.PeakValue)
		}
		peak = state.PeakValue
	}
	if !peak.Equal(decimal.NewFromInt(1_080_000)) {
		t.Errorf("Final peak incorrect: %s", peak)
	}
}

func TestDrawdownFormula(t *testing.T) {
	m := newManager()
	state := risk.NewState(decimal.NewFromInt(1_000_000))

	m.UpdateTracking(&state, decimal.NewFromInt(1_100_000))
	m.UpdateTracking(&state, decimal.NewFromInt(1_045_000))

	// (1_100_000 - 1_045_000) / 1_100_000 = 0.05
	if math.Abs(state.Drawdown-0.05) > 1e-9 {
		t.Errorf("Drawdown: want 0.05, got %v", state.Drawdown)
	}
}

func TestDailyLossResets(t *testing.T) {
	m := newManager()
	state := risk.NewState(decimal.NewFromInt(1_000_000))

	m.UpdateTracking(&state, decimal.NewFromInt(980_000))
	if math.Abs(state.DailyLoss-0.02) > 1e-9 {
		t.Errorf("Daily loss: want 0.02, got %v", state.DailyLoss)
	}

	m.ResetDaily(&state, decimal.NewFromInt(980_000))
	if state.DailyLoss != 0 {
		t.Errorf("Daily loss should reset to 0, got %v", state.DailyLoss)
	}

	m.UpdateTracking(&state, decimal.NewFromInt(970_200))
	// (980_000 - 970_200) / 980_000 = 0.01
	if math.Abs(state.DailyLoss-0.01) > 1e-9 {
		t.Errorf("Daily loss after reset: want 0.01, got %v", state.DailyLoss)
	}
}

func TestCheckEntryExposureLimit(t *testing.T) {
	m := newManager()
	state := risk.NewState(decimal.NewFromInt(1_000_000))
	pv := decimal.NewFromInt(1_000_000)

	// 600k existing + 200k proposed = 80%, under the 90% cap.
	d := m.CheckEntry(state, decimal.NewFromInt(600_000), decimal.NewFromInt(200_000), pv)
	if !d.Approved {
		t.Errorf("Entry under the cap rejected: %v", d.Reason)
	}

	// 600k existing + 350k proposed = 95%, over the cap.
	d = m.CheckEntry(state, decimal.NewFromInt(600_000), decimal.NewFromInt(350_000), pv)
	if d.Approved || d.Reason != risk.ReasonExposureExceeded {
		t.Errorf("Expected exposure rejection, got %+v", d)
	}
}

func TestCheckEntryDrawdownAndDailyLoss(t *testing.T) {
	m := newManager()
	state := risk.NewState(decimal.NewFromInt(1_000_000))

	m.UpdateTracking(&state, decimal.NewFromInt(895_000)) // 10.5% drawdown
	d := m.CheckEntry(state, decimal.Zero, decimal.NewFromInt(10_000), decimal.NewFromInt(895_000))
	if d.Approved || d.Reason != risk.ReasonDrawdownExceeded {
		t.Errorf("Expected drawdown rejection, got %+v", d)
	}

	state = risk.NewState(decimal.NewFromInt(1_000_000))
	state.DailyLoss = 0.031
	d = m.CheckEntry(state, decimal.Zero, decimal.NewFromInt(10_000), decimal.NewFromInt(969_000))
	if d.Approved || d.Reason != risk.ReasonDailyLossLimit {
		t.Errorf("Expected daily-loss rejection, got %+v", d)
	}
}

func TestCircuitBreaker(t *testing.T) {
	m := newManager()
	state := risk.NewState(decimal.NewFromInt(1_000_000))

	if m.CircuitBreaker(state) {
		t.Error("Fresh state should not trip the breaker")
	}

	m.UpdateTracking(&state, decimal.NewFromInt(900_000)) // exactly 10%
	if !m.CircuitBreaker(state) {
		t.Error("Drawdown at the hard limit should trip the breaker")
	}
}

func TestMaxSafeLeverageDerates(t *testing.T) {
	m := newManager()
	state := risk.NewState(decimal.NewFromInt(1_000_000))

	if lev := m.MaxSafeLeverage(state, 0, 20.0); lev != 20.0 {
		t.Errorf("Clean state should keep the cap, got %v", lev)
	}

	state.Drawdown = 0.06
	state.DailyLoss = 0.025
	lev := m.MaxSafeLeverage(state, 3, 20.0)
	want := 20.0 * 0.60 * 0.60 * 0.90
	if math.Abs(lev-want) > 1e-9 {
		t.Errorf("Derated ceiling: want %v, got %v", want, lev)
	}

	// Extreme derates still floor at 1.0.
	if lev := m.MaxSafeLeverage(state, 3, 1.5); lev < 1.0 {
		t.Errorf("Ceiling below 1.0: %v", lev)
	}
}
