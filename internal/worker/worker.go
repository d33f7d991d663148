// Package worker implements the run execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/metrics"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

var tracer = otel.Tracer("github.com/JakeFAU/realtime-product-sourcing/internal/worker")

// Executor runs one accepted sourcing run to completion.
type Executor interface {
	Execute(ctx context.Context, req sourcing.RunRequest) error
}

// Config controls Worker behavior.
type Config struct {
	// RunTimeout bounds a single run. Zero means no bound.
	RunTimeout time.Duration
}

// Worker consumes queued runs and hands them to the executor.
type Worker struct {
	id       int
	queue    sourcing.Queue
	executor Executor
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue sourcing.Queue, executor Executor, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		executor: executor,
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queued runs until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, sourcing.ErrQueueClosed) {
				w.logger.Debug("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", req.ID), zap.String("scope", string(req.Scope())))
		w.processRun(ctx, req)
	}
}

func (w *Worker) processRun(ctx context.Context, req sourcing.RunRequest) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runCtx := ctx
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}

	runCtx, span := tracer.Start(runCtx, "sourcing.run")
	span.SetAttributes(
		attribute.String("run.id", req.ID),
		attribute.String("run.scope", string(req.Scope())),
		attribute.Int("worker.id", w.id),
	)
	defer span.End()

	start := time.Now()
	err := w.executor.Execute(runCtx, req)
	status := deriveStatus(ctx, err)
	metrics.ObserveRun(status)
	span.SetAttributes(attribute.String("run.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		w.logger.Error("run failed",
			zap.String("run_id", req.ID),
			zap.String("status", status),
			zap.Duration("dur", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("run processed", zap.String("run_id", req.ID), zap.Duration("dur", time.Since(start)))
}

func deriveStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return string(sourcing.RunStatusSucceeded)
	case ctx.Err() != nil:
		return "canceled"
	default:
		return string(sourcing.RunStatusFailed)
	}
}
