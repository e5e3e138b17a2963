package portfolio

import "github.com/wolverine-quant/trinity-engine/pkg/types"

// Cash-advisor thresholds.
const (
	strongSignalConviction = 0.60
	weakAvgConviction      = 0.30
)

// portfolioConviction aggregates this cycle's fresh signals across baskets.
func (e *Engine) portfolioConviction() types.PortfolioConviction {
	var agg types.PortfolioConviction
	longConv, shortConv := 0.0, 0.0
	counted := 0

	for _, basket := range e.baskets {
		signal, ok := e.cache.Fresh(basket.Instrument, e.barIndex)
		if !ok {
			continue
		}
		counted++

		conviction := signal.Conviction()
		switch signal.Direction {
		case types.DirectionLong:
			longConv += conviction
		case types.DirectionShort:
			shortConv += conviction
		}
		if signal.Regime == types.RegimeChaos {
			agg.ChaosBaskets++
		}
		if conviction >= strongSignalConviction {
			agg.StrongSignals++
		}
	}

	agg.NetConviction = longConv - shortConv
	agg.TotalConviction = longConv + shortConv
	if counted > 0 {
		agg.AvgConviction = agg.TotalConviction / float64(counted)
	}
	return agg
}

// targetReserve picks the advisory cash-reserve tier from signal quality.
// Multiple strong signals with no chaos argue for deploying capital; chaos
// or weak conviction argues for defense. The result is reported, never
// enforced by trades.
func (e *Engine) targetReserve(conviction types.PortfolioConviction) float64 {
	tiers := e.config.CashReserve
	switch {
	case conviction.StrongSignals >= 2 && conviction.ChaosBaskets == 0:
		return tiers.AggressivePct
	case conviction.ChaosBaskets >= 2 || conviction.AvgConviction < weakAvgConviction:
		return tiers.DefensivePct
	default:
		return tiers.BalancedPct
	}
}
