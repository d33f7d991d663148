package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/realtime-product-sourcing/internal/pricing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

type productKey struct {
	source     sourcing.Source
	externalID string
}

// ProductStore provides an in-memory product table for development/testing.
type ProductStore struct {
	mu       sync.RWMutex
	products map[string]sourcing.Product
	keys     map[productKey]string
}

// NewProductStore constructs a ProductStore.
func NewProductStore() *ProductStore {
	return &ProductStore{
		products: make(map[string]sourcing.Product),
		keys:     make(map[productKey]string),
	}
}

// FindByExternalID looks a product up by its natural key.
func (s *ProductStore) FindByExternalID(_ context.Context, source sourcing.Source, externalID string) (sourcing.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[productKey{source, externalID}]
	if !ok {
		return sourcing.Product{}, sourcing.ErrNotFound
	}
	return readProduct(s.products[id]), nil
}

// Create inserts a new product. A duplicate (source, externalId) returns ErrConflict.
func (s *ProductStore) Create(_ context.Context, product sourcing.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := productKey{product.Source, product.ExternalID}
	if _, exists := s.keys[key]; exists {
		return fmt.Errorf("%s/%s: %w", product.Source, product.ExternalID, sourcing.ErrConflict)
	}
	if _, exists := s.products[product.ID]; exists {
		return fmt.Errorf("id %s: %w", product.ID, sourcing.ErrConflict)
	}
	product.Images = append([]string(nil), product.Images...)
	s.products[product.ID] = product
	s.keys[key] = product.ID
	return nil
}

// UpdateVolatile refreshes the volatile columns of an existing product.
func (s *ProductStore) UpdateVolatile(_ context.Context, id string, fields sourcing.VolatileFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[id]
	if !ok {
		return sourcing.ErrNotFound
	}
	product.Apply(fields)
	s.products[id] = product
	return nil
}

// Update replaces the editable columns of a product, the way an admin edit would.
// The natural key cannot change.
func (s *ProductStore) Update(_ context.Context, product sourcing.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.products[product.ID]
	if !ok {
		return sourcing.ErrNotFound
	}
	product.Source = current.Source
	product.ExternalID = current.ExternalID
	product.CreatedAt = current.CreatedAt
	product.Images = append([]string(nil), product.Images...)
	s.products[product.ID] = product
	return nil
}

// Get fetches a product by id.
func (s *ProductStore) Get(_ context.Context, id string) (sourcing.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	if !ok {
		return sourcing.Product{}, sourcing.ErrNotFound
	}
	return readProduct(product), nil
}

// List returns every product ordered by creation time.
func (s *ProductStore) List(_ context.Context) ([]sourcing.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]sourcing.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, readProduct(p))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CountBySource tallies products per source.
func (s *ProductStore) CountBySource(_ context.Context) (map[sourcing.Source]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[sourcing.Source]int)
	for _, p := range s.products {
		counts[p.Source]++
	}
	return counts, nil
}

// readProduct returns a detached copy with margin derived from price and cost.
func readProduct(p sourcing.Product) sourcing.Product {
	p.Images = append([]string(nil), p.Images...)
	p.Margin = pricing.Margin(p.Price, p.Cost)
	return p
}
