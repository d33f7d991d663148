// Package fallback resolves a family's candidates by walking its adapter
// chain (scrape, paid API, synthetic) until one tier yields results.
package fallback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Tier names a position in the chain.
type Tier string

// Chain tiers in priority order.
const (
	TierScrape    Tier = "scrape"
	TierPaid      Tier = "paid"
	TierSynthetic Tier = "synthetic"
)

// Chain holds one family's adapters. Paid is nil when no API key is configured.
type Chain struct {
	Scrape    sourcing.Adapter
	Paid      sourcing.Adapter
	Synthetic sourcing.Adapter
}

type step struct {
	tier    Tier
	adapter sourcing.Adapter
}

func (c Chain) steps() []step {
	steps := make([]step, 0, 3)
	for _, s := range []step{{TierScrape, c.Scrape}, {TierPaid, c.Paid}, {TierSynthetic, c.Synthetic}} {
		if s.adapter != nil {
			steps = append(steps, s)
		}
	}
	return steps
}

// Attempt records one tier's outcome.
type Attempt struct {
	Tier     Tier            `json:"tier"`
	Source   sourcing.Source `json:"source"`
	Count    int             `json:"count"`
	Duration time.Duration   `json:"duration"`
}

// Resolution is the accepted batch for one family plus the attempt trail.
type Resolution struct {
	Family     sourcing.Family
	Query      string
	Source     sourcing.Source
	Candidates []sourcing.CandidateProduct
	Attempts   []Attempt
}

// Resolver maps families to chains.
type Resolver struct {
	chains map[sourcing.Family]Chain
	order  []sourcing.Family
	logger *zap.Logger
}

// New validates the chains. Every configured family needs at least one adapter.
func New(chains map[sourcing.Family]Chain, logger *zap.Logger) (*Resolver, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("at least one chain is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	order := make([]sourcing.Family, 0, len(chains))
	for _, fam := range sourcing.Families() {
		chain, ok := chains[fam]
		if !ok {
			continue
		}
		if len(chain.steps()) == 0 {
			return nil, fmt.Errorf("chain for %s has no adapters", fam)
		}
		order = append(order, fam)
	}
	if len(order) != len(chains) {
		return nil, fmt.Errorf("%w in chain table", sourcing.ErrUnknownFamily)
	}
	return &Resolver{chains: chains, order: order, logger: logger}, nil
}

// Families lists the configured families in dispatch order.
func (r *Resolver) Families() []sourcing.Family {
	return append([]sourcing.Family(nil), r.order...)
}

// SourceFor tries the family's tiers in order and accepts the first non-empty
// batch wholesale. An empty resolution means every tier came back empty.
func (r *Resolver) SourceFor(ctx context.Context, family sourcing.Family, query string, limit int) (Resolution, error) {
	chain, ok := r.chains[family]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", sourcing.ErrUnknownFamily, family)
	}
	res := Resolution{Family: family, Query: query}
	for _, s := range chain.steps() {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("resolve %s: %w", family, err)
		}
		start := time.Now()
		candidates := s.adapter.Search(ctx, query, limit)
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		attempt := Attempt{
			Tier:     s.tier,
			Source:   s.adapter.Source(),
			Count:    len(candidates),
			Duration: time.Since(start),
		}
		res.Attempts = append(res.Attempts, attempt)
		r.logger.Debug("tier attempted",
			zap.String("family", string(family)),
			zap.String("tier", string(s.tier)),
			zap.String("query", query),
			zap.Int("count", attempt.Count),
			zap.Duration("duration", attempt.Duration),
		)
		if len(candidates) > 0 {
			res.Source = attempt.Source
			res.Candidates = candidates
			return res, nil
		}
	}
	return res, nil
}

// SourceAll resolves every family concurrently. Results come back in family
// order so callers can reduce them sequentially.
func (r *Resolver) SourceAll(ctx context.Context, query string, limit int) ([]Resolution, error) {
	results := make([]Resolution, len(r.order))
	g, gctx := errgroup.WithContext(ctx)
	for i, fam := range r.order {
		g.Go(func() error {
			res, err := r.SourceFor(gctx, fam, query, limit)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("source all: %w", err)
	}
	return results, nil
}
