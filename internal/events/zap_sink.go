package events

import "go.uber.org/zap"

// ZapSink writes events to a structured logger.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a logging sink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("events")}
}

// Emit implements Sink.
func (z *ZapSink) Emit(event Event) {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.Int64("bar_index", event.BarIndex),
		zap.Int64("timestamp", event.Timestamp),
	}
	if event.Instrument != "" {
		fields = append(fields,
			zap.String("instrument", event.Instrument),
			zap.Int("direction", int(event.Direction)),
			zap.Float64("price", event.Price))
	}
	if event.Leverage != 0 {
		fields = append(fields, zap.Float64("leverage", event.Leverage))
	}
	if event.Size != 0 {
		fields = append(fields, zap.Float64("size", event.Size))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if event.Attempt != 0 {
		fields = append(fields, zap.Int("attempt", event.Attempt))
	}

	if event.Type == EventTypeCircuitBreaker {
		z.logger.Warn(string(event.Type), fields...)
		return
	}
	z.logger.Info(string(event.Type), fields...)
}
