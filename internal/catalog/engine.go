// Package catalog keeps the product table idempotent: re-importing a listing
// refreshes its volatile fields instead of inserting a duplicate.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/pricing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// SyntheticIDPrefix marks external ids minted for listings that arrived without one.
const SyntheticIDPrefix = "AI-"

// UpsertResult reports what Upsert did.
type UpsertResult struct {
	Created bool
	Product sourcing.Product
}

// Engine upserts normalized products keyed by (source, externalId).
type Engine struct {
	store   sourcing.ProductStore
	ids     sourcing.IDGenerator
	clock   sourcing.Clock
	logger  *zap.Logger
	counter atomic.Uint64
}

// New wires the engine.
func New(store sourcing.ProductStore, ids sourcing.IDGenerator, clock sourcing.Clock, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("product store is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, ids: ids, clock: clock, logger: logger}, nil
}

// Upsert inserts product when its key is new, otherwise refreshes the volatile
// fields of the stored row. Name, description and category of an existing row
// are never overwritten.
func (e *Engine) Upsert(ctx context.Context, product sourcing.Product) (UpsertResult, error) {
	if product.ExternalID == "" {
		product.ExternalID = e.syntheticID()
	}
	now := e.clock.Now().UTC()

	existing, err := e.store.FindByExternalID(ctx, product.Source, product.ExternalID)
	switch {
	case err == nil:
		return e.refresh(ctx, existing, product, now)
	case !errors.Is(err, sourcing.ErrNotFound):
		return UpsertResult{}, fmt.Errorf("find %s/%s: %w", product.Source, product.ExternalID, err)
	}

	id, err := e.ids.NewID()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("generate product id: %w", err)
	}
	product.ID = id
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	product.Margin = pricing.Margin(product.Price, product.Cost)

	err = e.store.Create(ctx, product)
	if err == nil {
		return UpsertResult{Created: true, Product: product}, nil
	}
	if !errors.Is(err, sourcing.ErrConflict) {
		return UpsertResult{}, fmt.Errorf("create %s/%s: %w", product.Source, product.ExternalID, err)
	}

	// Lost a race with a concurrent insert of the same key.
	e.logger.Debug("create conflict, updating instead",
		zap.String("source", string(product.Source)),
		zap.String("external_id", product.ExternalID),
	)
	existing, err = e.store.FindByExternalID(ctx, product.Source, product.ExternalID)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("re-find after conflict %s/%s: %w", product.Source, product.ExternalID, err)
	}
	return e.refresh(ctx, existing, product, now)
}

func (e *Engine) refresh(ctx context.Context, existing, incoming sourcing.Product, now time.Time) (UpsertResult, error) {
	fields := incoming.Volatile()
	fields.Active = true
	fields.UpdatedAt = now
	if err := e.store.UpdateVolatile(ctx, existing.ID, fields); err != nil {
		return UpsertResult{}, fmt.Errorf("update %s: %w", existing.ID, err)
	}
	existing.Apply(fields)
	existing.Margin = pricing.Margin(existing.Price, existing.Cost)
	return UpsertResult{Created: false, Product: existing}, nil
}

// CountBySource reports stored products per source.
func (e *Engine) CountBySource(ctx context.Context) (map[sourcing.Source]int, error) {
	counts, err := e.store.CountBySource(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	return counts, nil
}

func (e *Engine) syntheticID() string {
	n := e.counter.Add(1)
	return SyntheticIDPrefix + strconv.FormatInt(e.clock.Now().UnixMilli(), 10) + "-" + strconv.FormatUint(n, 10)
}
