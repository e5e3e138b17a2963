// Package portfolio implements the portfolio engine: capital baskets, the
// per-cycle decision pipeline, risk-gated entries with fallback, exits,
// rebalancing, and snapshot/restore.
package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

// Driver is the position-primitive contract provided per basket. The
// concrete implementation (position bookkeeping, contract rolling) is an
// external collaborator; PaperDriver below is the deterministic in-repo
// reference used for paper trading and tests.
type Driver interface {
	// Allocate assigns the basket's capital. Callable exactly once.
	Allocate(capital decimal.Decimal) error
	// SetLeverage sets the leverage applied to subsequent positions.
	SetLeverage(leverage float64)
	// Signal opens, flips, or closes a directional position at price.
	Signal(price float64, timestamp int64, direction types.Direction)
	// Mark updates the driver's reference price for valuation.
	Mark(price float64)
	// Value returns the basket's current running value.
	Value() decimal.Decimal
}

// Basket pairs one instrument's configuration with its driver and the
// engine-side bookkeeping around it.
type Basket struct {
	Instrument     string
	UnitMultiplier float64

	Direction    types.Direction
	EntryPrice   float64
	Leverage     float64
	SizeFraction float64
	LastPrice    float64

	driver Driver
}

// InPosition reports whether the basket holds a directional position.
func (b *Basket) InPosition() bool {
	return b.Direction != types.DirectionFlat
}

// Value returns the basket's running value from its driver.
func (b *Basket) Value() decimal.Decimal {
	return b.driver.Value()
}

// PnLPct returns the unleveraged profit of the open position at price.
func (b *Basket) PnLPct(price float64) float64 {
	if !b.InPosition() || b.EntryPrice <= 0 || price <= 0 {
		return 0
	}
	if b.Direction == types.DirectionLong {
		return (price - b.EntryPrice) / b.EntryPrice
	}
	return (b.EntryPrice - price) / b.EntryPrice
}

// UnitValue returns the notional of one minimum tradable unit at price.
func (b *Basket) UnitValue(price float64) float64 {
	return price * b.UnitMultiplier
}

// PaperDriver is a deterministic in-memory position primitive. An open
// position's value tracks entry value times (1 + direction x leverage x
// price move); closing realizes that value into the basket.
type PaperDriver struct {
	allocated  bool
	value      decimal.Decimal
	entryValue decimal.Decimal
	direction  types.Direction
	entryPrice float64
	leverage   float64
	lastPrice  float64
}

// NewPaperDriver creates an unallocated paper driver.
func NewPaperDriver() *PaperDriver {
	return &PaperDriver{leverage: 1.0}
}

// Allocate implements Driver.
func (d *PaperDriver) Allocate(capital decimal.Decimal) error {
	if d.allocated {
		return fmt.Errorf("basket already allocated")
	}
	d.allocated = true
	d.value = capital
	d.entryValue = capital
	return nil
}

// SetLeverage implements Driver.
func (d *PaperDriver) SetLeverage(leverage float64) {
	if leverage >= 1.0 {
		d.leverage = leverage
	}
}

// Signal implements Driver. Opening seeds the entry bookkeeping; closing
// realizes the marked value; flipping realizes then reopens in the new
// direction at the same price.
func (d *PaperDriver) Signal(price float64, timestamp int64, direction types.Direction) {
	if price <= 0 {
		return
	}
	if direction == d.direction {
		return
	}

	if d.direction != types.DirectionFlat {
		// Realize the open position at this price.
		d.Mark(price)
		d.entryValue = d.value
		d.direction = types.DirectionFlat
		d.entryPrice = 0
	}

	if direction != types.DirectionFlat {
		d.direction = direction
		d.entryPrice = price
		d.entryValue = d.value
	}
	d.lastPrice = price
}

// Mark implements Driver.
func (d *PaperDriver) Mark(price float64) {
	if price <= 0 {
		return
	}
	d.lastPrice = price
	if d.direction == types.DirectionFlat || d.entryPrice <= 0 {
		return
	}

	move := (price - d.entryPrice) / d.entryPrice
	ret := float64(d.direction) * d.leverage * move
	d.value = d.entryValue.Mul(decimal.NewFromFloat(1.0 + ret))
}

// Value implements Driver.
func (d *PaperDriver) Value() decimal.Decimal {
	return d.value
}

// paperState is the persisted form of a paper driver.
type paperState struct {
	Allocated  bool            `json:"allocated"`
	Value      decimal.Decimal `json:"value"`
	EntryValue decimal.Decimal `json:"entry_value"`
	Direction  types.Direction `json:"direction"`
	EntryPrice float64         `json:"entry_price"`
	Leverage   float64         `json:"leverage"`
	LastPrice  float64         `json:"last_price"`
}

func (d *PaperDriver) state() paperState {
	return paperState{
		Allocated:  d.allocated,
		Value:      d.value,
		EntryValue: d.entryValue,
		Direction:  d.direction,
		EntryPrice: d.entryPrice,
		Leverage:   d.leverage,
		LastPrice:  d.lastPrice,
	}
}

func (d *PaperDriver) restore(s paperState) {
	d.allocated = s.Allocated
	d.value = s.Value
	d.entryValue = s.EntryValue
	d.direction = s.Direction
	d.entryPrice = s.EntryPrice
	d.leverage = s.Leverage
	d.lastPrice = s.LastPrice
}
