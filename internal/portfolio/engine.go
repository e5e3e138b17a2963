package portfolio

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/internal/events"
	"github.com/wolverine-quant/trinity-engine/internal/indicator"
	"github.com/wolverine-quant/trinity-engine/internal/leverage"
	"github.com/wolverine-quant/trinity-engine/internal/metrics"
	"github.com/wolverine-quant/trinity-engine/internal/rebalance"
	"github.com/wolverine-quant/trinity-engine/internal/risk"
	"github.com/wolverine-quant/trinity-engine/internal/stops"
	"github.com/wolverine-quant/trinity-engine/pkg/types"
	"github.com/wolverine-quant/trinity-engine/pkg/utils"
)

// Exit and sizing thresholds used by the per-cycle pipeline.
const (
	profitProtectPnL        = 0.05
	profitProtectConviction = 0.40
	softConfidenceFloor     = 0.30
	losingPnLFloor          = -0.01
	chaosSizeDerate         = 0.70
	fallbackSizeDerate      = 0.60
	fallbackLeverage        = 1.1
	minimumSizeFraction     = 0.20
	minimumLeverage         = 1.0
)

// Engine orchestrates the per-cycle decision pipeline across all baskets.
// It is single-threaded by contract: the caller feeds records and closes
// cycles strictly in order, and no method may be called concurrently.
type Engine struct {
	logger *zap.Logger
	config *types.EngineConfig

	cash       decimal.Decimal
	baskets    []*Basket
	routing    map[string]types.SignalSource
	indicators map[string]*indicator.Engine
	cache      *SignalCache

	riskManager *risk.Manager
	riskState   risk.State
	levManager  *leverage.Manager
	stops       *stops.Manager
	rebalancer  *rebalance.Rebalancer

	sink      events.Sink
	collector *metrics.Collector

	barIndex         int64
	signalsProcessed int64
	entriesOpened    int64
	exitsClosed      int64

	reportMu   sync.RWMutex
	lastReport *types.CycleReport
}

// NewEngine constructs an engine with deterministic paper drivers and
// performs the one-time capital allocation across baskets. The collector
// may be nil to disable metrics.
func NewEngine(logger *zap.Logger, config *types.EngineConfig, sink events.Sink, collector *metrics.Collector) (*Engine, error) {
	drivers := make(map[string]Driver, len(config.Instruments))
	for _, inst := range config.Instruments {
		drivers[inst.Symbol] = NewPaperDriver()
	}
	return NewEngineWithDrivers(logger, config, sink, collector, drivers)
}

// NewEngineWithDrivers constructs an engine around externally supplied
// position primitives, one per configured instrument.
func NewEngineWithDrivers(logger *zap.Logger, config *types.EngineConfig, sink events.Sink, collector *metrics.Collector, drivers map[string]Driver) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if sink == nil {
		sink = events.NopSink{}
	}

	e := &Engine{
		logger:      logger.Named("portfolio"),
		config:      config,
		cash:        config.InitialCapital,
		routing:     make(map[string]types.SignalSource, len(config.Instruments)),
		indicators:  make(map[string]*indicator.Engine, len(config.Instruments)),
		cache:       NewSignalCache(),
		riskManager: risk.NewManager(logger, config.Risk),
		riskState:   risk.NewState(config.InitialCapital),
		levManager:  leverage.NewManager(logger, config.Leverage),
		stops:       stops.NewManager(logger, config.TrailingStop),
		rebalancer:  rebalance.NewRebalancer(logger, config.Rebalance),
		sink:        sink,
		collector:   collector,
	}

	for _, inst := range config.Instruments {
		driver, ok := drivers[inst.Symbol]
		if !ok {
			return nil, fmt.Errorf("no driver for instrument %s", inst.Symbol)
		}

		allocated := config.InitialCapital.Mul(decimal.NewFromFloat(inst.AllocationPct))
		if err := driver.Allocate(allocated); err != nil {
			return nil, fmt.Errorf("allocating %s: %w", inst.Symbol, err)
		}
		e.cash = e.cash.Sub(allocated)

		e.baskets = append(e.baskets, &Basket{
			Instrument:     inst.Symbol,
			UnitMultiplier: inst.UnitMultiplier,
			Leverage:       1.0,
			driver:         driver,
		})
		e.routing[inst.Symbol] = inst.Source
		if inst.Source == types.SourceBars {
			e.indicators[inst.Symbol] = indicator.NewEngine(logger, inst.Symbol, config.Indicator)
		}
	}

	e.logger.Info("engine allocated",
		zap.String("initial_capital", config.InitialCapital.StringFixed(2)),
		zap.String("cash_reserve", e.cash.StringFixed(2)),
		zap.Int("baskets", len(e.baskets)))
	return e, nil
}

// Ingest routes one input record for the cycle in progress. Bars run
// through the instrument's indicator engine; upstream signals land in the
// cache directly. Unknown instruments and source mismatches are errors;
// the caller decides whether to drop or abort.
func (e *Engine) Ingest(record types.InputRecord) error {
	instrument := record.Instrument()
	source, ok := e.routing[instrument]
	if !ok {
		return fmt.Errorf("unknown instrument %s", instrument)
	}

	var signal types.Signal
	switch record.Kind {
	case types.RecordBar:
		if source != types.SourceBars {
			return fmt.Errorf("instrument %s expects upstream signals, got a bar", instrument)
		}
		signal = e.indicators[instrument].Update(record.Bar)

	case types.RecordSignal:
		if source != types.SourceSignals {
			return fmt.Errorf("instrument %s expects bars, got an upstream signal", instrument)
		}
		signal = record.Signal
		signal.Confidence = utils.Clamp(signal.Confidence, 0, 1)
		signal.Strength = utils.Clamp(signal.Strength, 0, 1)

	default:
		return fmt.Errorf("unknown record kind %d", record.Kind)
	}

	if signal.Price > 0 {
		basket := e.basketFor(instrument)
		basket.LastPrice = signal.Price
		basket.driver.Mark(signal.Price)
	}

	e.cache.Put(signal, e.barIndex)
	if signal.Direction != types.DirectionFlat {
		e.signalsProcessed++
		if e.collector != nil {
			e.collector.SignalsEmitted.Inc()
		}
	}
	return nil
}

// EndCycle closes the cycle in progress: risk tracking, circuit breaker,
// exits, entries, rebalancing, and derived metrics, in that order. Exactly
// one report is emitted per cycle.
func (e *Engine) EndCycle(timestamp int64) *types.CycleReport {
	pv := e.portfolioValue()
	e.riskManager.UpdateTracking(&e.riskState, pv)

	if e.riskManager.CircuitBreaker(e.riskState) {
		e.flattenAll(timestamp)
		report := e.buildReport(timestamp, true)
		e.finishCycle(report)
		return report
	}

	conviction := e.portfolioConviction()

	for _, basket := range e.baskets {
		signal, ok := e.cache.Fresh(basket.Instrument, e.barIndex)
		if !ok {
			continue
		}

		if basket.InPosition() {
			if exit, reason := e.evaluateExit(basket, signal, conviction); exit {
				e.executeExit(basket, signal.Price, timestamp, reason)
			}
			continue
		}

		if e.shouldEnter(signal) {
			e.executeEntry(basket, signal, conviction, timestamp)
		}
	}

	e.checkRebalance(timestamp)

	report := e.buildReport(timestamp, false)
	e.finishCycle(report)
	return report
}

// BeginTradingDay resets the daily-loss baseline to the current portfolio
// value.
func (e *Engine) BeginTradingDay(timestamp int64) {
	pv := e.portfolioValue()
	e.riskManager.ResetDaily(&e.riskState, pv)

	event := events.New(events.EventTypeDayBegin, e.barIndex, timestamp)
	event.PortfolioValue = pv
	e.sink.Emit(event)
	e.logger.Info("trading day begin", zap.String("portfolio_value", pv.StringFixed(2)))
}

// EndTradingDay is observational only: it reports the day's totals without
// mutating engine state.
func (e *Engine) EndTradingDay(timestamp int64) {
	pv := e.portfolioValue()

	event := events.New(events.EventTypeDayEnd, e.barIndex, timestamp)
	event.PortfolioValue = pv
	event.Drawdown = e.riskState.Drawdown
	event.DailyLoss = e.riskState.DailyLoss
	e.sink.Emit(event)

	e.logger.Info("trading day end",
		zap.String("portfolio_value", pv.StringFixed(2)),
		zap.Int64("entries", e.entriesOpened),
		zap.Int64("exits", e.exitsClosed),
		zap.Float64("daily_loss", e.riskState.DailyLoss))
}

// evaluateExit runs the exit conditions in strict priority order and
// returns the first match.
func (e *Engine) evaluateExit(basket *Basket, signal types.Signal, conviction types.PortfolioConviction) (bool, string) {
	price := signal.Price
	pnl := basket.PnLPct(price)

	e.stops.Update(basket.Instrument, price, basket.Direction, basket.Leverage, pnl)
	if e.stops.Triggered(basket.Instrument, price, basket.Direction) {
		return true, "trailing_stop"
	}

	target := e.levManager.ProfitTarget(basket.Leverage)
	if pnl >= target {
		return true, fmt.Sprintf("profit_target_%dpct", int(target*100))
	}

	if pnl >= profitProtectPnL && signal.Conviction() < profitProtectConviction {
		return true, "profit_protect_5pct"
	}

	stopPct := e.levManager.StopLoss(basket.Leverage)
	if basket.EntryPrice > 0 && price > 0 && -pnl >= stopPct {
		return true, fmt.Sprintf("stop_loss_%dpct", int(stopPct*100))
	}

	if int(signal.Direction)*int(basket.Direction) < 0 {
		return true, "signal_reversal"
	}

	if signal.Confidence < e.config.Entry.MinConfidence {
		return true, "low_confidence"
	}
	if signal.Confidence < softConfidenceFloor && pnl < losingPnLFloor {
		return true, "confidence_drop_with_loss"
	}

	if conviction.ChaosBaskets >= 2 && pnl < losingPnLFloor {
		return true, "chaos_regime_exit"
	}

	return false, ""
}

func (e *Engine) shouldEnter(signal types.Signal) bool {
	return signal.Direction != types.DirectionFlat &&
		signal.Confidence >= e.config.Entry.MinConfidence &&
		signal.Strength >= e.config.Entry.MinStrength
}

// executeEntry sizes and risk-gates a new position. A risk rejection walks
// the de-escalating fallback chain; if the final fallback is rejected too,
// the entry is skipped for this cycle.
func (e *Engine) executeEntry(basket *Basket, signal types.Signal, conviction types.PortfolioConviction, timestamp int64) {
	c := signal.Conviction()
	tier := leverage.TierFor(c)
	size := leverage.SizeFraction(c, tier)
	if conviction.ChaosBaskets >= 2 {
		size *= chaosSizeDerate
	}

	lev := e.levManager.Calculate(c, tier, leverage.RiskInputs{
		ChaosInstruments: conviction.ChaosBaskets,
		Drawdown:         e.riskState.Drawdown,
		DailyLoss:        e.riskState.DailyLoss,
	})

	basketValue := basket.Value().InexactFloat64()

	// Raise leverage if one tradable unit is out of reach at this size.
	if unit := basket.UnitValue(signal.Price); unit > 0 {
		if required := e.levManager.MinimumLeverage(basketValue*size, unit); required > lev {
			e.logger.Debug("raising leverage to reach minimum unit",
				zap.String("instrument", basket.Instrument),
				zap.Float64("from", lev),
				zap.Float64("to", required))
			lev = required
		}
	}

	pv := e.portfolioValue()
	exposure := e.activeExposure()

	notional := func() decimal.Decimal {
		return decimal.NewFromFloat(basketValue * size * lev)
	}

	decision := e.riskManager.CheckEntry(e.riskState, exposure, notional(), pv)
	if !decision.Approved {
		attempt := 0

		// Fallback 1: shrink the position.
		if decision.Reason == risk.ReasonExposureExceeded || decision.Reason == risk.ReasonDrawdownExceeded {
			attempt++
			size *= fallbackSizeDerate
			e.emitFallback(basket, signal, timestamp, attempt, size, lev)
			decision = e.riskManager.CheckEntry(e.riskState, exposure, notional(), pv)
		}

		// Fallback 2: drop to near-flat leverage.
		if !decision.Approved && lev > fallbackLeverage {
			attempt++
			lev = fallbackLeverage
			e.emitFallback(basket, signal, timestamp, attempt, size, lev)
			decision = e.riskManager.CheckEntry(e.riskState, exposure, notional(), pv)
		}

		// Fallback 3: minimum position.
		if !decision.Approved {
			attempt++
			size = minimumSizeFraction
			lev = minimumLeverage
			e.emitFallback(basket, signal, timestamp, attempt, size, lev)
			decision = e.riskManager.CheckEntry(e.riskState, exposure, notional(), pv)
		}

		if !decision.Approved {
			event := events.New(events.EventTypeRejected, e.barIndex, timestamp)
			event.Instrument = basket.Instrument
			event.Direction = signal.Direction
			event.Price = signal.Price
			event.Reason = string(decision.Reason)
			e.sink.Emit(event)
			if e.collector != nil {
				e.collector.EntriesRejected.Inc()
			}
			e.logger.Info("entry blocked after all fallbacks",
				zap.String("instrument", basket.Instrument),
				zap.String("reason", string(decision.Reason)))
			return
		}
	}

	basket.Direction = signal.Direction
	basket.EntryPrice = signal.Price
	basket.Leverage = lev
	basket.SizeFraction = size
	basket.driver.SetLeverage(lev)
	basket.driver.Signal(signal.Price, timestamp, signal.Direction)
	e.entriesOpened++

	event := events.New(events.EventTypeEntry, e.barIndex, timestamp)
	event.Instrument = basket.Instrument
	event.Direction = signal.Direction
	event.Price = signal.Price
	event.Leverage = lev
	event.Size = size
	e.sink.Emit(event)
	if e.collector != nil {
		e.collector.Entries.Inc()
	}

	e.logger.Info("position opened",
		zap.String("instrument", basket.Instrument),
		zap.String("tier", string(tier)),
		zap.String("direction", basket.Direction.String()),
		zap.Float64("price", signal.Price),
		zap.Float64("size", size),
		zap.Float64("leverage", lev),
		zap.Float64("conviction", c))
}

func (e *Engine) emitFallback(basket *Basket, signal types.Signal, timestamp int64, attempt int, size, lev float64) {
	event := events.New(events.EventTypeFallback, e.barIndex, timestamp)
	event.Instrument = basket.Instrument
	event.Direction = signal.Direction
	event.Attempt = attempt
	event.Size = size
	event.Leverage = lev
	e.sink.Emit(event)
	if e.collector != nil {
		e.collector.FallbackAttempts.Inc()
	}
}

func (e *Engine) executeExit(basket *Basket, price float64, timestamp int64, reason string) {
	if price <= 0 {
		price = basket.LastPrice
	}

	pnl := basket.PnLPct(price)
	basket.driver.Signal(price, timestamp, types.DirectionFlat)

	event := events.New(events.EventTypeExit, e.barIndex, timestamp)
	event.Instrument = basket.Instrument
	event.Direction = basket.Direction
	event.Price = price
	event.Leverage = basket.Leverage
	event.Reason = reason
	e.sink.Emit(event)
	if e.collector != nil {
		e.collector.Exits.WithLabelValues(reason).Inc()
	}

	e.logger.Info("position closed",
		zap.String("instrument", basket.Instrument),
		zap.String("reason", reason),
		zap.Float64("price", price),
		zap.Float64("pnl_pct", pnl))

	basket.Direction = types.DirectionFlat
	basket.EntryPrice = 0
	basket.Leverage = 1.0
	basket.SizeFraction = 0
	e.stops.Reset(basket.Instrument)
	e.exitsClosed++
}

// flattenAll force-closes every open position at its last known reference
// price. Fatal for the cycle, not for the process.
func (e *Engine) flattenAll(timestamp int64) {
	event := events.New(events.EventTypeCircuitBreaker, e.barIndex, timestamp)
	event.PortfolioValue = e.portfolioValue()
	event.Drawdown = e.riskState.Drawdown
	event.DailyLoss = e.riskState.DailyLoss
	e.sink.Emit(event)
	if e.collector != nil {
		e.collector.CircuitBreakerTrips.Inc()
	}

	e.logger.Error("circuit breaker tripped, closing all positions",
		zap.Float64("drawdown", e.riskState.Drawdown),
		zap.Float64("daily_loss", e.riskState.DailyLoss))

	for _, basket := range e.baskets {
		if !basket.InPosition() {
			continue
		}
		price := basket.LastPrice
		if signal, ok := e.cache.Latest(basket.Instrument); ok && signal.Price > 0 {
			price = signal.Price
		}
		e.executeExit(basket, price, timestamp, "circuit_breaker")
	}
}

func (e *Engine) checkRebalance(timestamp int64) {
	pv := e.portfolioValue()
	if !pv.IsPositive() {
		return
	}

	shares := make(map[string]float64, len(e.baskets))
	for _, basket := range e.baskets {
		shares[basket.Instrument] = basket.Value().Div(pv).InexactFloat64()
	}

	if !e.rebalancer.ShouldRebalance(e.barIndex, shares) {
		return
	}

	actions := e.rebalancer.Actions(e.barIndex, shares, pv)
	for _, action := range actions {
		event := events.New(events.EventTypeRebalance, e.barIndex, timestamp)
		event.Instrument = action.Instrument
		event.Reason = string(action.Type)
		event.PortfolioValue = action.Value
		e.sink.Emit(event)
	}
	if e.collector != nil {
		e.collector.Rebalances.Inc()
	}
}

func (e *Engine) buildReport(timestamp int64, breaker bool) *types.CycleReport {
	pv := e.portfolioValue()
	conviction := e.portfolioConviction()

	report := &types.CycleReport{
		BarIndex:         e.barIndex,
		Timestamp:        timestamp,
		PortfolioValue:   pv,
		Drawdown:         e.riskState.Drawdown,
		DailyLoss:        e.riskState.DailyLoss,
		TargetReservePct: e.targetReserve(conviction),
		CircuitBreaker:   breaker,
		SignalsProcessed: e.signalsProcessed,
		Baskets:          make([]types.BasketReport, 0, len(e.baskets)),
	}

	totalBasketValue := decimal.Zero
	levWeighted := decimal.Zero
	levSum := 0.0
	for _, basket := range e.baskets {
		value := basket.Value()
		totalBasketValue = totalBasketValue.Add(value)
		if basket.InPosition() {
			report.ActivePositions++
			levSum += basket.Leverage
			if basket.Leverage > 0 {
				levWeighted = levWeighted.Add(value.Div(decimal.NewFromFloat(basket.Leverage)))
			}
		}
		report.Baskets = append(report.Baskets, types.BasketReport{
			Instrument: basket.Instrument,
			Value:      value,
			Direction:  basket.Direction,
			Price:      basket.LastPrice,
			Leverage:   basket.Leverage,
		})
	}

	if pv.IsPositive() {
		report.ExposurePct = totalBasketValue.Div(pv).InexactFloat64()
		report.CashReservePct = e.cash.Div(pv).InexactFloat64()
		report.LeverageExposure = levWeighted.Div(pv).InexactFloat64()
	}
	if report.ActivePositions > 0 {
		report.AvgActiveLeverage = levSum / float64(report.ActivePositions)
	} else {
		report.AvgActiveLeverage = 1.0
	}
	return report
}

func (e *Engine) finishCycle(report *types.CycleReport) {
	if e.collector != nil {
		e.collector.ObserveCycle(report)
	}
	e.reportMu.Lock()
	e.lastReport = report
	e.reportMu.Unlock()
	e.barIndex++
}

// LastReport returns the most recent cycle report, or nil before the
// first cycle closes. Safe for concurrent readers.
func (e *Engine) LastReport() *types.CycleReport {
	e.reportMu.RLock()
	defer e.reportMu.RUnlock()
	return e.lastReport
}

// Config returns the engine's configuration. Callers must not mutate it.
func (e *Engine) Config() *types.EngineConfig {
	return e.config
}

func (e *Engine) portfolioValue() decimal.Decimal {
	total := e.cash
	for _, basket := range e.baskets {
		total = total.Add(basket.Value())
	}
	return total
}

// activeExposure sums the values of baskets currently in a position.
func (e *Engine) activeExposure() decimal.Decimal {
	total := decimal.Zero
	for _, basket := range e.baskets {
		if basket.InPosition() {
			total = total.Add(basket.Value())
		}
	}
	return total
}

func (e *Engine) basketFor(instrument string) *Basket {
	for _, basket := range e.baskets {
		if basket.Instrument == instrument {
			return basket
		}
	}
	return nil
}
