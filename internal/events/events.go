// Package events provides a synchronous observer sink for the engine's
// structured decision events. The engine emits events as side effects only;
// nothing a sink does feeds back into the numeric path, and delivery is
// strictly in decision order.
package events

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

// EventType defines the category of event.
type EventType string

const (
	EventTypeEntry          EventType = "entry"
	EventTypeExit           EventType = "exit"
	EventTypeFallback       EventType = "fallback"
	EventTypeRejected       EventType = "entry_rejected"
	EventTypeRebalance      EventType = "rebalance"
	EventTypeCircuitBreaker EventType = "circuit_breaker"
	EventTypeDayBegin       EventType = "day_begin"
	EventTypeDayEnd         EventType = "day_end"
	EventTypeCycle          EventType = "cycle"
)

// Event is one structured decision event. The envelope ID is for log and
// stream correlation only and never influences engine state.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	BarIndex  int64     `json:"bar_index"`

	Instrument string          `json:"instrument,omitempty"`
	Direction  types.Direction `json:"direction,omitempty"`
	Price      float64         `json:"price,omitempty"`
	Leverage   float64         `json:"leverage,omitempty"`
	Size       float64         `json:"size,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Attempt    int             `json:"attempt,omitempty"`

	PortfolioValue decimal.Decimal `json:"portfolio_value,omitempty"`
	Drawdown       float64         `json:"drawdown,omitempty"`
	DailyLoss      float64         `json:"daily_loss,omitempty"`
}

// New creates an event with a fresh envelope ID.
func New(eventType EventType, barIndex, timestamp int64) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: timestamp,
		BarIndex:  barIndex,
	}
}

// Sink receives events synchronously, in emission order.
type Sink interface {
	Emit(event Event)
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// MultiSink fans one event out to several sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit implements Sink.
func (m *MultiSink) Emit(event Event) {
	for _, s := range m.sinks {
		s.Emit(event)
	}
}
