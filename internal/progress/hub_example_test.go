package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID: "run-1",
		TS:    time.Unix(0, 0),
		Stage: StageRunStart,
		Scope: "Global",
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals candidates per tier attempt.
func ExampleSink() {
	var candidates int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			candidates += evt.Count
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(Event{
		RunID:  "run-2",
		TS:     time.Unix(0, 0),
		Stage:  StageTierAttempt,
		Family: sourcing.FamilyEbay,
		Source: sourcing.SourceScrapedEbay,
		Tier:   "scrape",
		Count:  12,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("candidates: %d\n", candidates)
	// Output:
	// candidates: 12
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
