package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-product-sourcing/internal/progress"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", TS: now, Stage: progress.StageRunStart, Scope: "Amazon", Category: "audio"},
		{RunID: "r", TS: now, Stage: progress.StageProductImported, Product: &sourcing.Product{ExternalID: "x"}},
		{RunID: "r", TS: now, Stage: progress.StageTierAttempt, Family: sourcing.FamilyAmazon, Tier: "paid", Count: 3},
	}))

	entries := logs.All()
	require.Len(t, entries, 2, "imports log at debug")
	require.Equal(t, "audio", entries[0].ContextMap()["category"])
	require.Equal(t, "paid", entries[1].ContextMap()["tier"])
}
