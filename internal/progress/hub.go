package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Config tunes how run events are buffered before they reach the sinks.
type Config struct {
	// BufferSize bounds events waiting for the batcher. Emit drops beyond it.
	BufferSize int
	// MaxBatchEvents flushes a batch once it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait flushes a partial batch after this long.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each sink call.
	SinkTimeout time.Duration
	// BaseContext parents sink calls so shutdown can cancel slow publishes.
	BaseContext context.Context
	// Clock stamps events emitted without TS.
	Clock  sourcing.Clock
	Logger *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropWarnInterval      = 5 * time.Second
)

// Hub fans sourcing run events out to the log, metrics, run history and
// Pub/Sub sinks. Coordinators call Emit from the run goroutine; Emit never
// blocks a run. A batch is flushed early when a run finishes so run history
// reflects the outcome without waiting for MaxBatchWait.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	dropWarn warnGate
	dropped  atomic.Int64
	total    atomic.Int64
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine for sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
		dropWarn: warnGate{interval: dropWarnInterval},
	}
	go h.run()
	return h
}

// Emit queues evt. Invalid events are discarded; when the buffer is full the
// event is dropped and a warning is logged at most every few seconds.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.TS.IsZero() && h.cfg.Clock != nil {
		evt.TS = h.cfg.Clock.Now().UTC()
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid run event", zap.String("run_id", evt.RunID), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.total.Add(1)
		if h.dropWarn.Allow(time.Now()) {
			h.logger.Warn("run events dropped, sinks are falling behind",
				zap.Int64("dropped", h.dropped.Swap(0)),
				zap.String("stage", string(evt.Stage)),
			)
		}
	}
}

// Dropped reports how many events were discarded since the hub started.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.total.Load()
}

// Close stops accepting events, drains what is buffered, closes every sink
// and waits for the batcher to exit or ctx to end. Repeated calls wait on the
// same shutdown.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := &batcher{
		hub:   h,
		batch: make([]Event, 0, h.cfg.MaxBatchEvents),
		timer: time.NewTimer(h.cfg.MaxBatchWait),
	}
	b.stop()
	for {
		select {
		case evt := <-h.events:
			b.add(evt)
		case <-b.timer.C:
			b.armed = false
			b.flush()
		case <-h.stopCh:
			b.stop()
			b.drain()
			h.closeSinks()
			return
		}
	}
}

// batcher is owned by the run goroutine.
type batcher struct {
	hub   *Hub
	batch []Event
	timer *time.Timer
	armed bool
}

func (b *batcher) add(evt Event) {
	b.batch = append(b.batch, evt)
	if len(b.batch) >= b.hub.cfg.MaxBatchEvents || evt.Terminal() {
		b.flush()
		b.stop()
		return
	}
	if !b.armed {
		b.timer.Reset(b.hub.cfg.MaxBatchWait)
		b.armed = true
	}
}

func (b *batcher) drain() {
	for {
		select {
		case evt := <-b.hub.events:
			b.batch = append(b.batch, evt)
			if len(b.batch) >= b.hub.cfg.MaxBatchEvents {
				b.flush()
			}
		default:
			b.flush()
			return
		}
	}
}

func (b *batcher) stop() {
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

func (b *batcher) flush() {
	if len(b.batch) == 0 {
		return
	}
	b.hub.deliver(append([]Event(nil), b.batch...))
	b.batch = b.batch[:0]
}

func (h *Hub) deliver(batch []Event) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("batch", len(batch)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

// warnGate lets one warning through per interval.
type warnGate struct {
	interval time.Duration
	last     atomic.Int64
}

func (g *warnGate) Allow(now time.Time) bool {
	if g.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := g.last.Load()
	if nano-last < g.interval.Nanoseconds() {
		return false
	}
	return g.last.CompareAndSwap(last, nano)
}
