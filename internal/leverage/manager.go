// Package leverage computes conviction-based leverage with sequential risk
// derates, plus the leverage-dependent stop-loss/profit-target tables and
// the minimum-tradable-unit floor.
package leverage

import (
	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/pkg/types"
	"github.com/wolverine-quant/trinity-engine/pkg/utils"
)

// Conviction boundaries for tier selection.
const (
	strongConviction = 0.55
	mediumConviction = 0.35
)

// Manager computes target leverage for entries. It is stateless; every
// input arrives per call.
type Manager struct {
	logger *zap.Logger
	config types.LeverageConfig
}

// NewManager creates a leverage manager.
func NewManager(logger *zap.Logger, config types.LeverageConfig) *Manager {
	return &Manager{
		logger: logger.Named("leverage"),
		config: config,
	}
}

// TierFor selects the sizing/leverage tier for a conviction score.
func TierFor(conviction float64) types.Tier {
	switch {
	case conviction >= strongConviction:
		return types.TierStrong
	case conviction >= mediumConviction:
		return types.TierMedium
	default:
		return types.TierWeak
	}
}

// SizeFraction maps conviction to the fraction of basket capital committed
// at entry, per tier.
func SizeFraction(conviction float64, tier types.Tier) float64 {
	switch tier {
	case types.TierStrong:
		return 0.80 + (conviction-strongConviction)*0.44
	case types.TierMedium:
		return 0.40 + (conviction-mediumConviction)*1.0
	default:
		return 0.20 + (conviction-0.20)*0.67
	}
}

// RiskInputs carries the portfolio conditions that derate leverage.
type RiskInputs struct {
	ChaosInstruments int
	Drawdown         float64
	DailyLoss        float64
}

// Calculate returns the target leverage for a conviction score in the given
// tier, derated for chaos, drawdown, and daily loss, floored at 1.0 and
// capped at min(basket cap, global cap).
func (m *Manager) Calculate(conviction float64, tier types.Tier, risk RiskInputs) float64 {
	band := m.band(tier)

	lev := 1.0 + conviction*band.Multiplier
	lev = utils.Clamp(lev, band.Base, band.Max)

	switch {
	case risk.ChaosInstruments >= 2:
		lev *= 0.60
	case risk.ChaosInstruments == 1:
		lev *= 0.80
	}

	switch {
	case risk.Drawdown > 0.05:
		lev *= 0.70
	case risk.Drawdown > 0.03:
		lev *= 0.85
	}

	switch {
	case risk.DailyLoss > 0.02:
		lev *= 0.60
	case risk.DailyLoss > 0.01:
		lev *= 0.80
	}

	ceiling := m.config.GlobalCap
	if m.config.BasketCap < ceiling {
		ceiling = m.config.BasketCap
	}
	return utils.Clamp(lev, 1.0, ceiling)
}

func (m *Manager) band(tier types.Tier) types.LeverageTier {
	switch tier {
	case types.TierStrong:
		return m.config.Strong
	case types.TierMedium:
		return m.config.Medium
	default:
		return m.config.Weak
	}
}

// stopLossTable maps a leverage ceiling to its stop distance. Higher
// leverage gets a tighter stop. Lookup picks the smallest entry whose bound
// covers the current leverage.
var stopLossTable = []struct {
	maxLeverage float64
	stopPct     float64
}{
	{2.0, 0.030},
	{4.0, 0.025},
	{6.0, 0.020},
	{10.0, 0.015},
	{20.0, 0.010},
}

// StopLoss returns the unleveraged stop-loss distance for a leverage level,
// falling back to the most conservative entry above the table.
func (m *Manager) StopLoss(lev float64) float64 {
	for _, entry := range stopLossTable {
		if lev <= entry.maxLeverage {
			return entry.stopPct
		}
	}
	return 0.010
}

// ProfitTarget returns the unleveraged profit-target distance for a
// leverage level. Higher leverage takes profit earlier.
func (m *Manager) ProfitTarget(lev float64) float64 {
	switch {
	case lev >= 5.0:
		return 0.07
	case lev >= 3.0:
		return 0.08
	default:
		return 0.10
	}
}

// MinimumLeverage returns the leverage needed for the committed capital to
// reach one minimum tradable unit of notional, capped at the global
// ceiling. unitValue is price times the contract multiplier.
func (m *Manager) MinimumLeverage(capital, unitValue float64) float64 {
	if capital <= 0 || unitValue <= 0 {
		return 1.0
	}
	required := unitValue / capital
	if required < 1.0 {
		return 1.0
	}
	if required > m.config.GlobalCap {
		return m.config.GlobalCap
	}
	return required
}
