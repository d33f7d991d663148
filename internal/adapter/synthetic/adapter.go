// Package synthetic implements the last tier of the fallback chain: a
// generator that always yields placeholder listings so the catalog stays
// populated when every live upstream is down.
package synthetic

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/pricing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Config controls one synthetic adapter.
type Config struct {
	Family  sourcing.Family
	Markup  float64
	CostMin float64
	CostMax float64
	// ImageBase receives a seed and must contain one "%s".
	ImageBase string
}

// Adapter generates candidates with gofakeit. Listings carry no external id,
// so every run imports fresh records.
type Adapter struct {
	cfg    Config
	mu     sync.Mutex
	faker  *gofakeit.Faker
	logger *zap.Logger
}

// New builds a synthetic adapter drawing from src. A nil src seeds from time.
func New(cfg Config, src rand.Source, logger *zap.Logger) *Adapter {
	if cfg.Markup <= 0 {
		cfg.Markup = pricing.DefaultRules().Multiplier(cfg.Family)
	}
	if cfg.CostMin <= 0 {
		cfg.CostMin = 5
	}
	if cfg.CostMax <= cfg.CostMin {
		cfg.CostMax = cfg.CostMin + 95
	}
	if cfg.ImageBase == "" {
		cfg.ImageBase = "https://picsum.photos/seed/%s/600/600"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	faker := gofakeit.New(0)
	if src != nil {
		faker = gofakeit.NewFaker(src, false)
	}
	return &Adapter{
		cfg:    cfg,
		faker:  faker,
		logger: logger.With(zap.String("source", string(sourcing.SourceSynthetic)), zap.String("family", string(cfg.Family))),
	}
}

// Source implements sourcing.Adapter.
func (a *Adapter) Source() sourcing.Source {
	return sourcing.SourceSynthetic
}

// Search implements sourcing.Adapter. It always returns exactly limit items.
func (a *Adapter) Search(_ context.Context, query string, limit int) []sourcing.CandidateProduct {
	if limit <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	topic := strings.TrimSpace(query)
	out := make([]sourcing.CandidateProduct, 0, limit)
	for i := 0; i < limit; i++ {
		cost := pricing.ApplyMarkup(a.faker.Float64Range(a.cfg.CostMin, a.cfg.CostMax), 1)
		name := a.faker.ProductName()
		if topic != "" {
			name = fmt.Sprintf("%s %s", name, titleCase(topic))
		}
		seed := fmt.Sprintf("%s-%d", strings.ToLower(string(a.cfg.Family)), a.faker.Number(1, 1_000_000))
		image := fmt.Sprintf(a.cfg.ImageBase, seed)
		out = append(out, sourcing.CandidateProduct{
			Name:        name,
			Description: a.faker.ProductDescription(),
			Cost:        cost,
			Price:       pricing.ApplyMarkup(cost, a.cfg.Markup),
			ImageURL:    image,
			Images:      []string{image},
			Source:      sourcing.SourceSynthetic,
			Family:      a.cfg.Family,
			Rating:      pricing.ApplyMarkup(a.faker.Float64Range(3.5, 5), 1),
		})
	}
	a.logger.Debug("synthetic listings generated", zap.String("query", query), zap.Int("count", len(out)))
	return out
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
