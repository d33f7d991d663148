package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

type scriptedTrigger struct {
	mu      sync.Mutex
	results []sourcing.TriggerResult
	calls   int
	global  bool
}

func (s *scriptedTrigger) Trigger(_ context.Context, family *sourcing.Family, _ string) sourcing.TriggerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = family == nil
	res := s.results[s.calls%len(s.results)]
	s.calls++
	return res
}

func (s *scriptedTrigger) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func manualTicks(s *Scheduler) chan time.Time {
	ch := make(chan time.Time)
	s.tick = func(time.Duration) (<-chan time.Time, func()) { return ch, func() {} }
	return ch
}

func TestSchedulerFiresGlobalTriggers(t *testing.T) {
	t.Parallel()

	trig := &scriptedTrigger{results: []sourcing.TriggerResult{
		{Status: sourcing.TriggerSuccess, RunID: "run-1"},
		{Status: sourcing.TriggerRunning, Message: "A sourcing run is already in progress"},
		{Status: sourcing.TriggerError, Message: "enqueue run: queue closed"},
	}}
	core, logs := observer.New(zap.InfoLevel)
	s := New(trig, time.Minute, zap.New(core))
	ticks := manualTicks(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	for range 3 {
		ticks <- time.Now()
	}
	require.Eventually(t, func() bool { return trig.count() == 3 }, time.Second, 5*time.Millisecond)
	require.True(t, trig.global)

	cancel()
	<-done
	require.Equal(t, 1, logs.FilterMessage("scheduled run accepted").Len())
	require.Equal(t, 1, logs.FilterMessage("scheduled run skipped").Len())
	require.Equal(t, 1, logs.FilterMessage("scheduled run rejected").Len())
}

func TestSchedulerDisabled(t *testing.T) {
	t.Parallel()

	trig := &scriptedTrigger{results: []sourcing.TriggerResult{{Status: sourcing.TriggerSuccess}}}
	s := New(trig, 0, nil)
	require.False(t, s.Enabled())

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled scheduler should return immediately")
	}
	require.Zero(t, trig.count())
}
