package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	queuemem "github.com/JakeFAU/realtime-product-sourcing/internal/queue/memory"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

type fakeExecutor struct {
	mu    sync.Mutex
	seen  []string
	errs  map[string]error
	block bool
}

func (f *fakeExecutor) Execute(ctx context.Context, req sourcing.RunRequest) error {
	f.mu.Lock()
	f.seen = append(f.seen, req.ID)
	err := f.errs[req.ID]
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeExecutor) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func TestWorkerProcessesRunsInOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuemem.NewQueue(4)
	exec := &fakeExecutor{errs: map[string]error{"run-2": errors.New("boom")}}
	core, logs := observer.New(zap.InfoLevel)
	w := New(1, q, exec, Config{}, zap.New(core))

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, q.Enqueue(ctx, sourcing.RunRequest{ID: id}))
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(exec.ids()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"run-1", "run-2", "run-3"}, exec.ids())
	require.Eventually(t, func() bool {
		return logs.FilterMessage("run failed").Len() == 1 && logs.FilterMessage("run processed").Len() == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerExitsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := queuemem.NewQueue(1)
	w := New(1, q, &fakeExecutor{}, Config{}, nil)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on closed queue")
	}
}

func TestWorkerAppliesRunTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuemem.NewQueue(1)
	exec := &fakeExecutor{block: true}
	core, logs := observer.New(zap.InfoLevel)
	w := New(1, q, exec, Config{RunTimeout: 20 * time.Millisecond}, zap.New(core))
	require.NoError(t, q.Enqueue(ctx, sourcing.RunRequest{ID: "slow"}))

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		entries := logs.FilterMessage("run failed").All()
		if len(entries) != 1 {
			return false
		}
		return entries[0].ContextMap()["status"] == "failed"
	}, time.Second, 5*time.Millisecond)
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	require.Equal(t, "succeeded", deriveStatus(context.Background(), nil))
	require.Equal(t, "failed", deriveStatus(context.Background(), errors.New("x")))
	require.Equal(t, "canceled", deriveStatus(canceled, context.Canceled))
}
