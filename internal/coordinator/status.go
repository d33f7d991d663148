package coordinator

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Status is the read-only snapshot served to the dashboard.
type Status struct {
	ActiveSources        []string                      `json:"activeSources"`
	LastRun              *time.Time                    `json:"lastRun"`
	Stats                Stats                         `json:"stats"`
	Logs                 []string                      `json:"logs"`
	LastProductsBySource map[string][]sourcing.Product `json:"lastProductsBySource"`
}

// Stats groups the counters and selections of past runs.
type Stats struct {
	ProductsFound    int                         `json:"productsFound"`
	PerSourceCounts  map[sourcing.Source]int     `json:"perSourceCounts"`
	LastCategory     string                      `json:"lastCategory"`
	RecentCategories []string                    `json:"recentCategories"`
	FeaturedProducts map[string]sourcing.Product `json:"featuredProducts"`
	Rules            map[string]string           `json:"rules"`
}

// Status builds a snapshot. Per-source counts come from the product store;
// when it is unavailable the in-memory import counters are reported instead.
func (c *Coordinator) Status(ctx context.Context) Status {
	counts, err := c.deps.Catalog.CountBySource(ctx)
	if err != nil {
		c.logger.Warn("count by source failed, using run counters", zap.Error(err))
		counts = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	active := make([]string, 0, len(c.active))
	for scope := range c.active {
		active = append(active, string(scope))
	}
	sort.Strings(active)

	if counts == nil {
		counts = make(map[sourcing.Source]int, len(c.perSource))
		for src, n := range c.perSource {
			counts[src] = n
		}
	}

	featured := make(map[string]sourcing.Product, len(c.featured))
	for fam, p := range c.featured {
		featured[string(fam)] = p
	}
	last := make(map[string][]sourcing.Product, len(c.lastProducts))
	for fam, list := range c.lastProducts {
		last[string(fam)] = append([]sourcing.Product(nil), list...)
	}

	var lastRun *time.Time
	if c.lastRun != nil {
		ts := *c.lastRun
		lastRun = &ts
	}

	return Status{
		ActiveSources: active,
		LastRun:       lastRun,
		Stats: Stats{
			ProductsFound:    c.productsFound,
			PerSourceCounts:  counts,
			LastCategory:     c.lastCategory,
			RecentCategories: append([]string{}, c.recent...),
			FeaturedProducts: featured,
			Rules:            c.cfg.Rules.Describe(),
		},
		Logs:                 c.logs.Snapshot(),
		LastProductsBySource: last,
	}
}

// LastProducts returns the products imported for family by its most recent run.
func (c *Coordinator) LastProducts(family sourcing.Family) []sourcing.Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sourcing.Product{}, c.lastProducts[family]...)
}

// Categories lists the configured category names.
func (c *Coordinator) Categories() []string {
	return append([]string(nil), c.categories...)
}
