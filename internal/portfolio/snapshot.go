package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/internal/events"
	"github.com/wolverine-quant/trinity-engine/internal/indicator"
	"github.com/wolverine-quant/trinity-engine/internal/metrics"
	"github.com/wolverine-quant/trinity-engine/internal/rebalance"
	"github.com/wolverine-quant/trinity-engine/internal/risk"
	"github.com/wolverine-quant/trinity-engine/internal/stops"
	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

// BasketState is the persisted form of one basket's bookkeeping.
type BasketState struct {
	Instrument   string          `json:"instrument"`
	Direction    types.Direction `json:"direction"`
	EntryPrice   float64         `json:"entry_price"`
	Leverage     float64         `json:"leverage"`
	SizeFraction float64         `json:"size_fraction"`
	LastPrice    float64         `json:"last_price"`
	Driver       paperState      `json:"driver"`
}

// EngineState is the complete persisted engine state. It is JSON-stable:
// marshaling, persisting, and restoring it reconstructs a bit-identical
// continuation of the run.
type EngineState struct {
	BarIndex         int64 `json:"bar_index"`
	SignalsProcessed int64 `json:"signals_processed"`
	EntriesOpened    int64 `json:"entries_opened"`
	ExitsClosed      int64 `json:"exits_closed"`

	Cash      decimal.Decimal            `json:"cash"`
	Risk      risk.State                 `json:"risk"`
	Rebalance rebalance.State            `json:"rebalance"`
	Stops     map[string]stops.State     `json:"stops"`
	Signals   map[string]cachedSignal    `json:"signals"`
	Indicator map[string]indicator.State `json:"indicator"`
	Baskets   []BasketState              `json:"baskets"`
}

// Snapshot captures the full engine state for persistence. Only engines
// built on paper drivers snapshot basket internals; external drivers are
// expected to persist their own position state host-side.
func (e *Engine) Snapshot() (*EngineState, error) {
	state := &EngineState{
		BarIndex:         e.barIndex,
		SignalsProcessed: e.signalsProcessed,
		EntriesOpened:    e.entriesOpened,
		ExitsClosed:      e.exitsClosed,
		Cash:             e.cash,
		Risk:             e.riskState,
		Rebalance:        e.rebalancer.State(),
		Stops:            e.stops.Snapshot(),
		Signals:          e.cache.snapshot(),
		Indicator:        make(map[string]indicator.State, len(e.indicators)),
	}

	for instrument, engine := range e.indicators {
		state.Indicator[instrument] = engine.State()
	}

	for _, basket := range e.baskets {
		paper, ok := basket.driver.(*PaperDriver)
		if !ok {
			return nil, fmt.Errorf("basket %s: driver does not support snapshots", basket.Instrument)
		}
		state.Baskets = append(state.Baskets, BasketState{
			Instrument:   basket.Instrument,
			Direction:    basket.Direction,
			EntryPrice:   basket.EntryPrice,
			Leverage:     basket.Leverage,
			SizeFraction: basket.SizeFraction,
			LastPrice:    basket.LastPrice,
			Driver:       paper.state(),
		})
	}
	return state, nil
}

// RestoreEngine reconstructs an engine from a persisted state. The config
// must match the one the snapshot was taken under; continuation is then
// bit-identical to a run that was never stopped.
func RestoreEngine(logger *zap.Logger, config *types.EngineConfig, state *EngineState, sink events.Sink, collector *metrics.Collector) (*Engine, error) {
	e, err := NewEngine(logger, config, sink, collector)
	if err != nil {
		return nil, err
	}

	if len(state.Baskets) != len(e.baskets) {
		return nil, fmt.Errorf("snapshot has %d baskets, config has %d", len(state.Baskets), len(e.baskets))
	}

	e.barIndex = state.BarIndex
	e.signalsProcessed = state.SignalsProcessed
	e.entriesOpened = state.EntriesOpened
	e.exitsClosed = state.ExitsClosed
	e.cash = state.Cash
	e.riskState = state.Risk
	e.rebalancer.Restore(state.Rebalance)
	e.stops.Restore(state.Stops)
	e.cache.restore(state.Signals)

	for instrument, saved := range state.Indicator {
		engine, ok := e.indicators[instrument]
		if !ok {
			return nil, fmt.Errorf("snapshot carries indicator state for unrouted instrument %s", instrument)
		}
		engine.Restore(saved)
	}

	for i, saved := range state.Baskets {
		basket := e.baskets[i]
		if basket.Instrument != saved.Instrument {
			return nil, fmt.Errorf("basket order mismatch: %s vs %s", basket.Instrument, saved.Instrument)
		}
		basket.Direction = saved.Direction
		basket.EntryPrice = saved.EntryPrice
		basket.Leverage = saved.Leverage
		basket.SizeFraction = saved.SizeFraction
		basket.LastPrice = saved.LastPrice
		basket.driver.(*PaperDriver).restore(saved.Driver)
	}
	return e, nil
}
