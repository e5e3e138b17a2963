package portfolio_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/wolverine-quant/trinity-engine/internal/portfolio"
	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

func TestPaperDriverLifecycle(t *testing.T) {
	d := portfolio.NewPaperDriver()

	if err := d.Allocate(decimal.NewFromInt(300_000)); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := d.Allocate(decimal.NewFromInt(1)); err == nil {
		t.Error("Second allocation should fail")
	}

	d.SetLeverage(2.0)
	d.Signal(100, 1, types.DirectionLong)

	// +5% move at 2x leverage: +10% on value.
	d.Mark(105)
	want := decimal.NewFromFloat(330_000)
	if !d.Value().Equal(want) {
		t.Errorf("Marked value: want %s, got %s", want, d.Value())
	}

	// Closing realizes the marked value.
	d.Signal(105, 2, types.DirectionFlat)
	if !d.Value().Equal(want) {
		t.Errorf("Realized value: want %s, got %s", want, d.Value())
	}

	// A later mark with no position leaves the value alone.
	d.Mark(90)
	if !d.Value().Equal(want) {
		t.Errorf("Flat value moved on mark: %s", d.Value())
	}
}

func TestPaperDriverShortPosition(t *testing.T) {
	d := portfolio.NewPaperDriver()
	if err := d.Allocate(decimal.NewFromInt(100_000)); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	d.SetLeverage(3.0)
	d.Signal(200, 1, types.DirectionShort)

	// Price falls 10%: a short at 3x gains 30%.
	d.Mark(180)
	want := decimal.NewFromFloat(130_000)
	if !d.Value().Equal(want) {
		t.Errorf("Short value: want %s, got %s", want, d.Value())
	}
}

func TestPaperDriverFlipRealizesFirst(t *testing.T) {
	d := portfolio.NewPaperDriver()
	if err := d.Allocate(decimal.NewFromInt(100_000)); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	d.SetLeverage(1.0)
	d.Signal(100, 1, types.DirectionLong)
	d.Signal(110, 2, types.DirectionShort)

	// The long realized +10%; the short re-enters at 110.
	want := decimal.NewFromFloat(110_000)
	if !d.Value().Equal(want) {
		t.Errorf("Value after flip: want %s, got %s", want, d.Value())
	}

	d.Mark(99)
	// Short gains 10% from 110.
	flipWant := decimal.NewFromFloat(121_000)
	if !d.Value().Equal(flipWant) {
		t.Errorf("Short leg value: want %s, got %s", flipWant, d.Value())
	}
}

func TestPaperDriverIgnoresBadPrices(t *testing.T) {
	d := portfolio.NewPaperDriver()
	if err := d.Allocate(decimal.NewFromInt(100_000)); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	d.Signal(100, 1, types.DirectionLong)
	before := d.Value()
	d.Mark(0)
	d.Mark(-5)
	if !d.Value().Equal(before) {
		t.Errorf("Non-positive marks should be ignored, value %s", d.Value())
	}
}
