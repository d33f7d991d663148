package fallback

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

type stubAdapter struct {
	source sourcing.Source
	count  int
	delay  time.Duration
	calls  atomic.Int32
}

func (s *stubAdapter) Source() sourcing.Source { return s.source }

func (s *stubAdapter) Search(ctx context.Context, query string, limit int) []sourcing.CandidateProduct {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil
		}
	}
	out := make([]sourcing.CandidateProduct, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, sourcing.CandidateProduct{Name: query, Source: s.source})
	}
	return out
}

func TestSourceForFallsThroughToSynthetic(t *testing.T) {
	t.Parallel()

	scrape := &stubAdapter{source: sourcing.SourceScrapedAmazon}
	paid := &stubAdapter{source: sourcing.SourcePaidAmazon}
	synth := &stubAdapter{source: sourcing.SourceSynthetic, count: 3}
	r, err := New(map[sourcing.Family]Chain{
		sourcing.FamilyAmazon: {Scrape: scrape, Paid: paid, Synthetic: synth},
	}, nil)
	require.NoError(t, err)

	res, err := r.SourceFor(context.Background(), sourcing.FamilyAmazon, "smartphone", 5)
	require.NoError(t, err)
	require.Equal(t, sourcing.SourceSynthetic, res.Source)
	require.Len(t, res.Candidates, 3)
	require.Len(t, res.Attempts, 3)
	require.Equal(t, []Tier{TierScrape, TierPaid, TierSynthetic},
		[]Tier{res.Attempts[0].Tier, res.Attempts[1].Tier, res.Attempts[2].Tier})
	require.Zero(t, res.Attempts[0].Count)
}

func TestSourceForStopsAtFirstNonEmptyTier(t *testing.T) {
	t.Parallel()

	scrape := &stubAdapter{source: sourcing.SourceScrapedEbay, count: 7}
	synth := &stubAdapter{source: sourcing.SourceSynthetic, count: 3}
	r, err := New(map[sourcing.Family]Chain{
		sourcing.FamilyEbay: {Scrape: scrape, Synthetic: synth},
	}, nil)
	require.NoError(t, err)

	res, err := r.SourceFor(context.Background(), sourcing.FamilyEbay, "lamp", 5)
	require.NoError(t, err)
	require.Equal(t, sourcing.SourceScrapedEbay, res.Source)
	require.Len(t, res.Candidates, 5, "results are bounded by limit")
	require.Len(t, res.Attempts, 1)
	require.Zero(t, synth.calls.Load())
}

func TestSourceForSkipsMissingPaidTier(t *testing.T) {
	t.Parallel()

	synth := &stubAdapter{source: sourcing.SourceSynthetic, count: 1}
	r, err := New(map[sourcing.Family]Chain{
		sourcing.FamilyAliExpress: {Scrape: &stubAdapter{source: sourcing.SourceScrapedAliExpress}, Synthetic: synth},
	}, nil)
	require.NoError(t, err)

	res, err := r.SourceFor(context.Background(), sourcing.FamilyAliExpress, "bag", 2)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	require.Equal(t, TierSynthetic, res.Attempts[1].Tier)
}

func TestSourceForUnknownFamily(t *testing.T) {
	t.Parallel()

	r, err := New(map[sourcing.Family]Chain{
		sourcing.FamilyEbay: {Synthetic: &stubAdapter{source: sourcing.SourceSynthetic, count: 1}},
	}, nil)
	require.NoError(t, err)

	_, err = r.SourceFor(context.Background(), sourcing.FamilyAmazon, "x", 1)
	require.ErrorIs(t, err, sourcing.ErrUnknownFamily)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	require.Error(t, err)
	_, err = New(map[sourcing.Family]Chain{sourcing.FamilyEbay: {}}, nil)
	require.Error(t, err)
	_, err = New(map[sourcing.Family]Chain{"Etsy": {Synthetic: &stubAdapter{}}}, nil)
	require.ErrorIs(t, err, sourcing.ErrUnknownFamily)
}

func TestSourceAllRunsFamiliesConcurrently(t *testing.T) {
	t.Parallel()

	chains := map[sourcing.Family]Chain{}
	for _, fam := range sourcing.Families() {
		chains[fam] = Chain{Scrape: &stubAdapter{source: sourcing.ScrapedSource(fam), count: 2, delay: 100 * time.Millisecond}}
	}
	r, err := New(chains, nil)
	require.NoError(t, err)
	require.Equal(t, sourcing.Families(), r.Families())

	start := time.Now()
	results, err := r.SourceAll(context.Background(), "desk", 4)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 250*time.Millisecond)

	require.Len(t, results, 3)
	for i, fam := range sourcing.Families() {
		require.Equal(t, fam, results[i].Family)
		require.Len(t, results[i].Candidates, 2)
	}
}

func TestSourceAllCanceled(t *testing.T) {
	t.Parallel()

	r, err := New(map[sourcing.Family]Chain{
		sourcing.FamilyEbay: {Synthetic: &stubAdapter{source: sourcing.SourceSynthetic, count: 1}},
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.SourceAll(ctx, "x", 1)
	require.ErrorIs(t, err, context.Canceled)
}
