// Package stops implements the per-basket trailing-stop state machine.
package stops

import (
	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

// State is the persisted trailing-stop state for one basket. Inactive until
// the leverage and profit conditions are both met; reset whenever the
// basket returns to flat.
type State struct {
	Active    bool    `json:"active"`
	PeakPrice float64 `json:"peak_price"`
	StopPrice float64 `json:"stop_price"`
}

// Manager updates trailing stops across baskets, keyed by instrument.
type Manager struct {
	logger *zap.Logger
	config types.TrailingStopConfig
	states map[string]*State
}

// NewManager creates a trailing-stop manager.
func NewManager(logger *zap.Logger, config types.TrailingStopConfig) *Manager {
	return &Manager{
		logger: logger.Named("stops"),
		config: config,
		states: make(map[string]*State),
	}
}

// State returns a copy of one basket's stop state.
func (m *Manager) State(instrument string) State {
	if s, ok := m.states[instrument]; ok {
		return *s
	}
	return State{}
}

// Snapshot returns a copy of all stop states for persistence.
func (m *Manager) Snapshot() map[string]State {
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = *v
	}
	return out
}

// Restore replaces all stop states from a persisted snapshot.
func (m *Manager) Restore(states map[string]State) {
	m.states = make(map[string]*State, len(states))
	for k, v := range states {
		s := v
		m.states[k] = &s
	}
}

// Update advances one basket's stop for the cycle. The stop activates when
// leverage and unleveraged profit both reach their thresholds, seeding the
// peak at the current price. While active, the peak ratchets in the
// favorable direction only, so a long stop never decreases and a short stop
// never increases.
func (m *Manager) Update(instrument string, price float64, direction types.Direction, leverage, pnlPct float64) {
	if direction == types.DirectionFlat {
		return
	}

	s, ok := m.states[instrument]
	if !ok {
		s = &State{}
		m.states[instrument] = s
	}

	if !s.Active {
		if leverage >= m.config.ActivationLeverage && pnlPct >= m.config.ActivationProfitPct {
			s.Active = true
			s.PeakPrice = price
			s.StopPrice = m.stopFor(price, direction)
			m.logger.Debug("trailing stop activated",
				zap.String("instrument", instrument),
				zap.Float64("price", price),
				zap.Float64("stop", s.StopPrice))
		}
		return
	}

	if direction == types.DirectionLong && price > s.PeakPrice {
		s.PeakPrice = price
		s.StopPrice = m.stopFor(price, direction)
	} else if direction == types.DirectionShort && price < s.PeakPrice {
		s.PeakPrice = price
		s.StopPrice = m.stopFor(price, direction)
	}
}

func (m *Manager) stopFor(peak float64, direction types.Direction) float64 {
	if direction == types.DirectionLong {
		return peak * (1 - m.config.TrailPct)
	}
	return peak * (1 + m.config.TrailPct)
}

// Triggered reports whether the price has crossed an active stop.
func (m *Manager) Triggered(instrument string, price float64, direction types.Direction) bool {
	s, ok := m.states[instrument]
	if !ok || !s.Active {
		return false
	}
	if direction == types.DirectionLong {
		return price <= s.StopPrice
	}
	if direction == types.DirectionShort {
		return price >= s.StopPrice
	}
	return false
}

// Reset deactivates and zeroes one basket's stop. Must be called whenever
// the basket fully exits.
func (m *Manager) Reset(instrument string) {
	if s, ok := m.states[instrument]; ok {
		*s = State{}
	}
}
