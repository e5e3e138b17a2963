// Package types provides the shared data model for the trinity engine.
package types

import (
	"github.com/shopspring/decimal"
)

// Direction is the sign of a trading signal or position.
type Direction int

const (
	DirectionShort Direction = -1
	DirectionFlat  Direction = 0
	DirectionLong  Direction = 1
)

// String returns a human-readable direction label.
func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "flat"
	}
}

// Regime classifies the market condition of one instrument.
// Wire values match the upstream indicator protocol (1..4).
type Regime int

const (
	RegimeUptrend   Regime = 1
	RegimeDowntrend Regime = 2
	RegimeRanging   Regime = 3
	RegimeChaos     Regime = 4
)

// String returns a human-readable regime label.
func (r Regime) String() string {
	switch r {
	case RegimeUptrend:
		return "uptrend"
	case RegimeDowntrend:
		return "downtrend"
	case RegimeChaos:
		return "chaos"
	default:
		return "ranging"
	}
}

// Bar is one OHLCV market bar for a single instrument.
// Timestamp is the host's bar time tag; its only required property is that
// it strictly increases between cycles.
type Bar struct {
	Instrument string  `json:"instrument"`
	Timestamp  int64   `json:"timestamp"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
}

// Signal is the per-instrument output of the indicator stage, overwritten
// every cycle in the signal cache.
type Signal struct {
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Strength   float64   `json:"strength"`
	Regime     Regime    `json:"regime"`
	Price      float64   `json:"price"`
	Timestamp  int64     `json:"timestamp"`
}

// Conviction is the weighted blend of confidence and strength used to pick
// a sizing tier.
func (s Signal) Conviction() float64 {
	return s.Confidence*0.6 + s.Strength*0.4
}

// RecordKind discriminates the input record union.
type RecordKind int

const (
	// RecordBar carries a raw OHLCV bar to be run through the local
	// indicator engine.
	RecordBar RecordKind = iota
	// RecordSignal carries an upstream, already-computed signal plus the
	// instrument's latest close.
	RecordSignal
)

// InputRecord is the tagged union delivered by the host once per bar per
// instrument. Exactly one of Bar/Signal is meaningful, selected by Kind.
type InputRecord struct {
	Kind   RecordKind `json:"kind"`
	Bar    Bar        `json:"bar,omitempty"`
	Signal Signal     `json:"signal,omitempty"`
}

// Instrument returns the instrument identity of the record.
func (r InputRecord) Instrument() string {
	if r.Kind == RecordSignal {
		return r.Signal.Instrument
	}
	return r.Bar.Instrument
}

// Timestamp returns the bar time tag of the record.
func (r InputRecord) Timestamp() int64 {
	if r.Kind == RecordSignal {
		return r.Signal.Timestamp
	}
	return r.Bar.Timestamp
}

// Tier is a conviction-based sizing tier.
type Tier string

const (
	TierStrong Tier = "STRONG"
	TierMedium Tier = "MEDIUM"
	TierWeak   Tier = "WEAK"
)

// BasketReport is the per-basket slice of a cycle report.
type BasketReport struct {
	Instrument string          `json:"instrument"`
	Value      decimal.Decimal `json:"value"`
	Direction  Direction       `json:"direction"`
	Price      float64         `json:"price"`
	Leverage   float64         `json:"leverage"`
}

// CycleReport is the one summary record emitted per cycle boundary. Field
// order and meaning are stable across restarts; the host persists these bytes.
type CycleReport struct {
	BarIndex          int64           `json:"bar_index"`
	Timestamp         int64           `json:"timestamp"`
	PortfolioValue    decimal.Decimal `json:"portfolio_value"`
	ActivePositions   int             `json:"active_positions"`
	ExposurePct       float64         `json:"exposure_pct"`
	CashReservePct    float64         `json:"cash_reserve_pct"`
	LeverageExposure  float64         `json:"leverage_weighted_exposure"`
	AvgActiveLeverage float64         `json:"avg_active_leverage"`
	Drawdown          float64         `json:"drawdown"`
	DailyLoss         float64         `json:"daily_loss"`
	TargetReservePct  float64         `json:"target_reserve_pct"`
	CircuitBreaker    bool            `json:"circuit_breaker"`
	SignalsProcessed  int64           `json:"signals_processed"`
	Baskets           []BasketReport  `json:"baskets"`
}

// PortfolioConviction aggregates signal quality across all baskets for one
// cycle.
type PortfolioConviction struct {
	NetConviction   float64 `json:"net_conviction"`
	TotalConviction float64 `json:"total_conviction"`
	AvgConviction   float64 `json:"avg_conviction"`
	ChaosBaskets    int     `json:"chaos_baskets"`
	StrongSignals   int     `json:"strong_signals"`
}
