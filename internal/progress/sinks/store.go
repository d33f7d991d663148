package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/progress"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// StoreSink persists run lifecycle events to a sourcing.RunStore. Tier and
// import events are ignored; the run totals arrive on the terminal event.
type StoreSink struct {
	repo   sourcing.RunStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo sourcing.RunStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards run events to the repository in batch order. It respects
// ctx deadlines and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			run := sourcing.RunRecord{
				ID:        evt.RunID,
				Scope:     evt.Scope,
				Category:  evt.Category,
				Status:    sourcing.RunStatusRunning,
				StartedAt: evt.TS,
			}
			if err := s.repo.CreateRun(ctx, run); err != nil {
				return fmt.Errorf("create run %s: %w", evt.RunID, err)
			}
		case progress.StageRunDone, progress.StageRunError:
			if err := s.finish(ctx, evt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *StoreSink) finish(ctx context.Context, evt progress.Event) error {
	finished := evt.TS
	run := sourcing.RunRecord{
		ID:         evt.RunID,
		Scope:      evt.Scope,
		Category:   evt.Category,
		Status:     sourcing.RunStatusSucceeded,
		FinishedAt: &finished,
		Created:    evt.Created,
		Updated:    evt.Updated,
	}
	if evt.Stage == progress.StageRunError {
		run.Status = sourcing.RunStatusFailed
		run.ErrorText = evt.Note
	}
	if err := s.repo.FinishRun(ctx, run); err != nil {
		return fmt.Errorf("finish run %s: %w", evt.RunID, err)
	}
	s.logger.Debug("run persisted", zap.String("run_id", evt.RunID), zap.String("status", string(run.Status)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
