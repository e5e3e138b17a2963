// Package rebalance decides when and how capital should be redistributed
// across baskets. Actions are advisory: the caller records them and may
// choose to execute; the reference behavior logs without forcing trades.
package rebalance

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

// ActionType classifies an adjustment.
type ActionType string

const (
	ActionReduce   ActionType = "reduce"
	ActionIncrease ActionType = "increase"
)

// Action is one advisory adjustment for a basket.
type Action struct {
	Instrument   string          `json:"instrument"`
	Type         ActionType      `json:"type"`
	Value        decimal.Decimal `json:"value"`
	DeviationPct float64         `json:"deviation_pct"`
}

// State is the persisted rebalancer state.
type State struct {
	LastRebalanceBar int64 `json:"last_rebalance_bar"`
}

// Rebalancer triggers on elapsed bars or allocation drift.
type Rebalancer struct {
	logger *zap.Logger
	config types.RebalanceConfig
	state  State
}

// NewRebalancer creates a rebalancer.
func NewRebalancer(logger *zap.Logger, config types.RebalanceConfig) *Rebalancer {
	return &Rebalancer{
		logger: logger.Named("rebalance"),
		config: config,
	}
}

// State returns the persisted rebalancer state.
func (r *Rebalancer) State() State {
	return r.state
}

// Restore replaces the rebalancer state from a persisted snapshot.
func (r *Rebalancer) Restore(s State) {
	r.state = s
}

// ShouldRebalance reports whether either trigger fires: enough bars elapsed
// since the last rebalance, or any basket's share drifting past the
// deviation threshold.
func (r *Rebalancer) ShouldRebalance(currentBar int64, shares map[string]float64) bool {
	if currentBar-r.state.LastRebalanceBar >= r.config.FrequencyBars {
		return true
	}
	for _, share := range shares {
		deviation := share - r.config.TargetSharePct
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > r.config.DeviationThreshold {
			return true
		}
	}
	return false
}

// Actions computes the advisory adjustment set for baskets past the
// deviation threshold and records the triggering bar.
func (r *Rebalancer) Actions(currentBar int64, shares map[string]float64, portfolioValue decimal.Decimal) []Action {
	instruments := make([]string, 0, len(shares))
	for instrument := range shares {
		instruments = append(instruments, instrument)
	}
	sort.Strings(instruments)

	var actions []Action
	for _, instrument := range instruments {
		share := shares[instrument]
		deviation := share - r.config.TargetSharePct
		abs := deviation
		if abs < 0 {
			abs = -abs
		}
		if abs <= r.config.DeviationThreshold {
			continue
		}

		kind := ActionIncrease
		if deviation > 0 {
			kind = ActionReduce
		}
		actions = append(actions, Action{
			Instrument:   instrument,
			Type:         kind,
			Value:        portfolioValue.Mul(decimal.NewFromFloat(abs)),
			DeviationPct: deviation * 100,
		})
	}

	r.state.LastRebalanceBar = currentBar
	for _, a := range actions {
		r.logger.Info("rebalance action",
			zap.String("instrument", a.Instrument),
			zap.String("type", string(a.Type)),
			zap.String("value", a.Value.StringFixed(2)),
			zap.Float64("deviation_pct", a.DeviationPct))
	}
	return actions
}
