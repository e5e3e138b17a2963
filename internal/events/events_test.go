package events_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/internal/events"
	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

type captureSink struct {
	label string
	order *[]string
}

func (c *captureSink) Emit(events.Event) {
	*c.order = append(*c.order, c.label)
}

func TestNewEventPopulatesEnvelope(t *testing.T) {
	event := events.New(events.EventTypeEntry, 7, 1234)
	if event.ID == "" {
		t.Error("Event ID must not be empty")
	}
	if event.Type != events.EventTypeEntry {
		t.Errorf("Event type: %s", event.Type)
	}
	if event.BarIndex != 7 || event.Timestamp != 1234 {
		t.Errorf("Envelope fields: bar %d ts %d", event.BarIndex, event.Timestamp)
	}
}

func TestMultiSinkPreservesOrder(t *testing.T) {
	var order []string
	multi := events.NewMultiSink(
		&captureSink{label: "first", order: &order},
		&captureSink{label: "second", order: &order},
		&captureSink{label: "third", order: &order},
	)

	multi.Emit(events.New(events.EventTypeExit, 0, 0))

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("Delivered to %d sinks", len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Delivery %d: want %s, got %s", i, want[i], order[i])
		}
	}
}

func TestZapSinkHandlesAllEventShapes(t *testing.T) {
	sink := events.NewZapSink(zap.NewNop())

	entry := events.New(events.EventTypeEntry, 1, 100)
	entry.Instrument = "SHFE.rb"
	entry.Direction = types.DirectionLong
	entry.Price = 3500
	entry.Leverage = 4.2
	entry.Size = 0.8
	sink.Emit(entry)

	breaker := events.New(events.EventTypeCircuitBreaker, 2, 200)
	breaker.Drawdown = 0.12
	sink.Emit(breaker)

	sink.Emit(events.New(events.EventTypeDayBegin, 3, 300))
}
