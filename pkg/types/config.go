package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SignalSource selects where an instrument's signals come from.
type SignalSource string

const (
	// SourceBars runs raw OHLCV bars through the local indicator engine.
	SourceBars SignalSource = "bars"
	// SourceSignals consumes upstream, already-computed signals.
	SourceSignals SignalSource = "signals"
)

// InstrumentConfig describes one tradable instrument.
type InstrumentConfig struct {
	Symbol string `json:"symbol" mapstructure:"symbol"`
	// AllocationPct is this basket's share of initial capital, in [0,1].
	AllocationPct float64 `json:"allocation_pct" mapstructure:"allocation_pct"`
	// UnitMultiplier converts price to the notional of one minimum tradable
	// unit (contract multiplier). 1.0 for cash-like instruments.
	UnitMultiplier float64 `json:"unit_multiplier" mapstructure:"unit_multiplier"`
	// Source selects the signal path for this instrument.
	Source SignalSource `json:"source" mapstructure:"source"`
}

// IndicatorConfig holds the online-indicator parameters.
type IndicatorConfig struct {
	EMAFastPeriod   int     `json:"ema_fast_period" mapstructure:"ema_fast_period"`
	EMASlowPeriod   int     `json:"ema_slow_period" mapstructure:"ema_slow_period"`
	EMATrendPeriod  int     `json:"ema_trend_period" mapstructure:"ema_trend_period"`
	MACDSignalSpan  int     `json:"macd_signal_span" mapstructure:"macd_signal_span"`
	RSIPeriod       int     `json:"rsi_period" mapstructure:"rsi_period"`
	BollingerWindow int     `json:"bollinger_window" mapstructure:"bollinger_window"`
	BollingerStdDev float64 `json:"bollinger_std_dev" mapstructure:"bollinger_std_dev"`
	ATRPeriod       int     `json:"atr_period" mapstructure:"atr_period"`
	ATRMeanWindow   int     `json:"atr_mean_window" mapstructure:"atr_mean_window"`
	VolumeEMAPeriod int     `json:"volume_ema_period" mapstructure:"volume_ema_period"`
}

// DefaultIndicatorConfig returns the reference indicator parameters.
func DefaultIndicatorConfig() IndicatorConfig {
	return IndicatorConfig{
		EMAFastPeriod:   12,
		EMASlowPeriod:   26,
		EMATrendPeriod:  50,
		MACDSignalSpan:  9,
		RSIPeriod:       14,
		BollingerWindow: 20,
		BollingerStdDev: 2.0,
		ATRPeriod:       14,
		ATRMeanWindow:   100,
		VolumeEMAPeriod: 20,
	}
}

// RiskConfig holds the portfolio-level hard limits.
type RiskConfig struct {
	MaxExposurePct    float64 `json:"max_exposure_pct" mapstructure:"max_exposure_pct"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct" mapstructure:"max_drawdown_pct"`
	MaxDailyLossPct   float64 `json:"max_daily_loss_pct" mapstructure:"max_daily_loss_pct"`
	MinCashReservePct float64 `json:"min_cash_reserve_pct" mapstructure:"min_cash_reserve_pct"`
}

// DefaultRiskConfig returns the reference risk limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxExposurePct:    0.90,
		MaxDrawdownPct:    0.10,
		MaxDailyLossPct:   0.03,
		MinCashReservePct: 0.10,
	}
}

// LeverageTier maps a conviction tier to its leverage band.
type LeverageTier struct {
	Base       float64 `json:"base" mapstructure:"base"`
	Max        float64 `json:"max" mapstructure:"max"`
	Multiplier float64 `json:"multiplier" mapstructure:"multiplier"`
}

// LeverageConfig holds the dynamic-leverage parameters.
type LeverageConfig struct {
	Strong    LeverageTier `json:"strong" mapstructure:"strong"`
	Medium    LeverageTier `json:"medium" mapstructure:"medium"`
	Weak      LeverageTier `json:"weak" mapstructure:"weak"`
	GlobalCap float64      `json:"global_cap" mapstructure:"global_cap"`
	BasketCap float64      `json:"basket_cap" mapstructure:"basket_cap"`
}

// DefaultLeverageConfig returns the reference leverage bands.
func DefaultLeverageConfig() LeverageConfig {
	return LeverageConfig{
		Strong:    LeverageTier{Base: 4.0, Max: 10.0, Multiplier: 12.86},
		Medium:    LeverageTier{Base: 2.5, Max: 6.0, Multiplier: 10.0},
		Weak:      LeverageTier{Base: 1.5, Max: 4.0, Multiplier: 10.0},
		GlobalCap: 20.0,
		BasketCap: 15.0,
	}
}

// TrailingStopConfig holds the trailing-stop parameters.
type TrailingStopConfig struct {
	// ActivationLeverage gates trailing to high-leverage positions.
	ActivationLeverage float64 `json:"activation_leverage" mapstructure:"activation_leverage"`
	// ActivationProfitPct is the unleveraged profit required to arm the stop.
	ActivationProfitPct float64 `json:"activation_profit_pct" mapstructure:"activation_profit_pct"`
	// TrailPct is the giveback from the best price that triggers the stop.
	TrailPct float64 `json:"trail_pct" mapstructure:"trail_pct"`
}

// DefaultTrailingStopConfig returns the reference trailing-stop parameters.
func DefaultTrailingStopConfig() TrailingStopConfig {
	return TrailingStopConfig{
		ActivationLeverage:  5.0,
		ActivationProfitPct: 0.05,
		TrailPct:            0.02,
	}
}

// RebalanceConfig holds the advisory rebalancer parameters.
type RebalanceConfig struct {
	FrequencyBars      int64   `json:"frequency_bars" mapstructure:"frequency_bars"`
	DeviationThreshold float64 `json:"deviation_threshold" mapstructure:"deviation_threshold"`
	TargetSharePct     float64 `json:"target_share_pct" mapstructure:"target_share_pct"`
}

// DefaultRebalanceConfig returns the reference rebalance parameters.
func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{
		FrequencyBars:      96,
		DeviationThreshold: 0.10,
		TargetSharePct:     0.25,
	}
}

// CashReserveConfig holds the advisory cash-reserve tiers.
type CashReserveConfig struct {
	AggressivePct float64 `json:"aggressive_pct" mapstructure:"aggressive_pct"`
	BalancedPct   float64 `json:"balanced_pct" mapstructure:"balanced_pct"`
	DefensivePct  float64 `json:"defensive_pct" mapstructure:"defensive_pct"`
}

// DefaultCashReserveConfig returns the reference reserve tiers.
func DefaultCashReserveConfig() CashReserveConfig {
	return CashReserveConfig{
		AggressivePct: 0.05,
		BalancedPct:   0.15,
		DefensivePct:  0.25,
	}
}

// EntryConfig holds the entry thresholds and conviction sizing tiers.
type EntryConfig struct {
	MinConfidence float64 `json:"min_confidence" mapstructure:"min_confidence"`
	MinStrength   float64 `json:"min_strength" mapstructure:"min_strength"`
}

// DefaultEntryConfig returns the reference entry thresholds.
func DefaultEntryConfig() EntryConfig {
	return EntryConfig{
		MinConfidence: 0.20,
		MinStrength:   0.15,
	}
}

// EngineConfig is the full engine configuration.
type EngineConfig struct {
	InitialCapital decimal.Decimal    `json:"initial_capital" mapstructure:"initial_capital"`
	Instruments    []InstrumentConfig `json:"instruments" mapstructure:"instruments"`
	Indicator      IndicatorConfig    `json:"indicator" mapstructure:"indicator"`
	Risk           RiskConfig         `json:"risk" mapstructure:"risk"`
	Leverage       LeverageConfig     `json:"leverage" mapstructure:"leverage"`
	TrailingStop   TrailingStopConfig `json:"trailing_stop" mapstructure:"trailing_stop"`
	Rebalance      RebalanceConfig    `json:"rebalance" mapstructure:"rebalance"`
	CashReserve    CashReserveConfig  `json:"cash_reserve" mapstructure:"cash_reserve"`
	Entry          EntryConfig        `json:"entry" mapstructure:"entry"`
}

// DefaultEngineConfig returns a three-basket configuration with the
// reference parameter set.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		InitialCapital: decimal.NewFromInt(1_000_000),
		Instruments: []InstrumentConfig{
			{Symbol: "SHFE.rb", AllocationPct: 0.30, UnitMultiplier: 10.0, Source: SourceBars},
			{Symbol: "DCE.i", AllocationPct: 0.30, UnitMultiplier: 100.0, Source: SourceBars},
			{Symbol: "SHFE.cu", AllocationPct: 0.30, UnitMultiplier: 5.0, Source: SourceSignals},
		},
		Indicator:    DefaultIndicatorConfig(),
		Risk:         DefaultRiskConfig(),
		Leverage:     DefaultLeverageConfig(),
		TrailingStop: DefaultTrailingStopConfig(),
		Rebalance:    DefaultRebalanceConfig(),
		CashReserve:  DefaultCashReserveConfig(),
		Entry:        DefaultEntryConfig(),
	}
}

// Validate checks the configuration for internal consistency.
func (c *EngineConfig) Validate() error {
	if c.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("initial capital must be positive, got %s", c.InitialCapital)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	total := 0.0
	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instrument symbol must not be empty")
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("duplicate instrument %s", inst.Symbol)
		}
		seen[inst.Symbol] = true
		if inst.AllocationPct <= 0 || inst.AllocationPct > 1 {
			return fmt.Errorf("instrument %s: allocation %.4f outside (0,1]", inst.Symbol, inst.AllocationPct)
		}
		if inst.UnitMultiplier <= 0 {
			return fmt.Errorf("instrument %s: unit multiplier must be positive", inst.Symbol)
		}
		if inst.Source != SourceBars && inst.Source != SourceSignals {
			return fmt.Errorf("instrument %s: unknown signal source %q", inst.Symbol, inst.Source)
		}
		total += inst.AllocationPct
	}
	if total > 1.0+1e-9 {
		return fmt.Errorf("allocations sum to %.4f, exceeding capital", total)
	}
	if c.Risk.MaxExposurePct <= 0 || c.Risk.MaxExposurePct > 1 {
		return fmt.Errorf("max exposure %.4f outside (0,1]", c.Risk.MaxExposurePct)
	}
	if c.Leverage.GlobalCap < 1 || c.Leverage.BasketCap < 1 {
		return fmt.Errorf("leverage caps must be at least 1.0")
	}
	return nil
}
