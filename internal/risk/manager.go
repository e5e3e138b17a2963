// Package risk implements the portfolio-level risk gate: pre-trade checks
// against exposure, drawdown, and daily-loss limits, plus the tracked risk
// state those checks read.
package risk

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/pkg/types"
	"github.com/wolverine-quant/trinity-engine/pkg/utils"
)

// Reason codes returned by entry checks.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonExposureExceeded Reason = "exposure_exceeded"
	ReasonDrawdownExceeded Reason = "drawdown_exceeded"
	ReasonDailyLossLimit   Reason = "daily_loss_limit"
)

// Decision is the outcome of a pre-trade check. Rejections carry the first
// failing reason; checks never mutate state.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   Reason `json:"reason"`
}

// State tracks peak value and daily baseline for drawdown and daily-loss
// computation. Peak is monotonically non-decreasing for the whole run; the
// daily baseline resets once per trading day.
type State struct {
	PeakValue       decimal.Decimal `json:"peak_value"`
	DailyStartValue decimal.Decimal `json:"daily_start_value"`
	Drawdown        float64         `json:"drawdown"`
	DailyLoss       float64         `json:"daily_loss"`
}

// NewState seeds tracking from the initial capital.
func NewState(initialCapital decimal.Decimal) State {
	return State{
		PeakValue:       initialCapital,
		DailyStartValue: initialCapital,
	}
}

// Manager evaluates proposed trades against the configured hard limits.
type Manager struct {
	logger *zap.Logger
	config types.RiskConfig
}

// NewManager creates a risk manager.
func NewManager(logger *zap.Logger, config types.RiskConfig) *Manager {
	return &Manager{
		logger: logger.Named("risk"),
		config: config,
	}
}

// UpdateTracking recomputes drawdown and daily loss from the live portfolio
// value, ratcheting the peak upward. Called once per cycle before any
// decision is made.
func (m *Manager) UpdateTracking(s *State, portfolioValue decimal.Decimal) {
	s.PeakValue = utils.DecMax(s.PeakValue, portfolioValue)

	if s.PeakValue.IsPositive() {
		s.Drawdown = s.PeakValue.Sub(portfolioValue).Div(s.PeakValue).InexactFloat64()
	} else {
		s.Drawdown = 0
	}
	if s.Drawdown < 0 {
		s.Drawdown = 0
	}

	if s.DailyStartValue.IsPositive() {
		s.DailyLoss = s.DailyStartValue.Sub(portfolioValue).Div(s.DailyStartValue).InexactFloat64()
	} else {
		s.DailyLoss = 0
	}
	if s.DailyLoss < 0 {
		s.DailyLoss = 0
	}
}

// ResetDaily re-baselines the daily-loss computation to the current
// portfolio value. Called by the trading-day begin hook.
func (m *Manager) ResetDaily(s *State, portfolioValue decimal.Decimal) {
	s.DailyStartValue = portfolioValue
	s.DailyLoss = 0
}

// CheckEntry evaluates a proposed additional notional against the limits.
// All checks must pass; the first failure is reported.
func (m *Manager) CheckEntry(s State, currentExposure, proposed, portfolioValue decimal.Decimal) Decision {
	if portfolioValue.IsPositive() {
		exposurePct := currentExposure.Add(proposed).Div(portfolioValue).InexactFloat64()
		if exposurePct > m.config.MaxExposurePct {
			m.logger.Debug("entry rejected on exposure",
				zap.Float64("exposure_pct", exposurePct),
				zap.Float64("limit", m.config.MaxExposurePct))
			return Decision{Reason: ReasonExposureExceeded}
		}
	}

	if s.Drawdown >= m.config.MaxDrawdownPct {
		return Decision{Reason: ReasonDrawdownExceeded}
	}

	if s.DailyLoss >= m.config.MaxDailyLossPct {
		return Decision{Reason: ReasonDailyLossLimit}
	}

	return Decision{Approved: true, Reason: ReasonOK}
}

// CircuitBreaker reports whether either hard limit has been reached.
func (m *Manager) CircuitBreaker(s State) bool {
	return s.Drawdown >= m.config.MaxDrawdownPct || s.DailyLoss >= m.config.MaxDailyLossPct
}

// MaxSafeLeverage derates the absolute leverage ceiling for the current
// portfolio state: drawdown tier, daily-loss tier, and position
// concentration each apply an independent multiplicative reduction. Never
// returns below 1.0.
func (m *Manager) MaxSafeLeverage(s State, activePositions int, globalCap float64) float64 {
	maxLev := globalCap

	switch {
	case s.Drawdown > 0.05:
		maxLev *= 0.60
	case s.Drawdown > 0.03:
		maxLev *= 0.80
	}

	switch {
	case s.DailyLoss > 0.02:
		maxLev *= 0.60
	case s.DailyLoss > 0.01:
		maxLev *= 0.80
	}

	switch {
	case activePositions >= 3:
		maxLev *= 0.90
	case activePositions >= 2:
		maxLev *= 0.95
	}

	if maxLev < 1.0 {
		return 1.0
	}
	return maxLev
}
