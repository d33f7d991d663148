package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development where no durable store is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Product
// imports are logged at debug level since a run produces many of them.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("scope", string(evt.Scope)),
		}
		switch evt.Stage {
		case progress.StageTierAttempt:
			fields = append(fields,
				zap.String("family", string(evt.Family)),
				zap.String("tier", evt.Tier),
				zap.Int("count", evt.Count),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageProductImported:
			fields = append(fields,
				zap.String("source", string(evt.Source)),
				zap.String("external_id", evt.Product.ExternalID),
				zap.Bool("new", evt.NewProduct),
			)
			s.logger.Debug("progress event", fields...)
			continue
		default:
			fields = append(fields,
				zap.String("category", evt.Category),
				zap.Int("created", evt.Created),
				zap.Int("updated", evt.Updated),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
