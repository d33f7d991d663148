// Package scrape implements the free tier of the fallback chain: it fetches a
// marketplace search page, promotes to a headless render when the probe looks
// like a script shell, archives the page, and extracts listings with goquery.
package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/archive"
	"github.com/JakeFAU/realtime-product-sourcing/internal/pricing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// DefaultSearchURLs holds the stock search endpoints. "%s" receives the
// escaped query.
var DefaultSearchURLs = map[sourcing.Family]string{
	sourcing.FamilyAmazon:     "https://www.amazon.com/s?k=%s",
	sourcing.FamilyAliExpress: "https://www.aliexpress.com/wholesale?SearchText=%s",
	sourcing.FamilyEbay:       "https://www.ebay.com/sch/i.html?_nkw=%s",
}

// Limiter is the slice of the rate limiter the adapter relies on.
type Limiter interface {
	Wait(ctx context.Context, url string) error
	AllowHeadless(url string) bool
}

// Config controls one scrape adapter.
type Config struct {
	Family    sourcing.Family
	SearchURL string
	Markup    float64
}

// Deps are the collaborators of a scrape adapter. Only Probe is required.
type Deps struct {
	Probe    sourcing.Fetcher
	Headless sourcing.Fetcher
	Detector sourcing.HeadlessDetector
	Limiter  Limiter
	Archive  *archive.Archive
}

// Adapter scrapes one marketplace.
type Adapter struct {
	cfg    Config
	deps   Deps
	source sourcing.Source
	logger *zap.Logger
}

// New builds a scrape adapter for cfg.Family.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Adapter, error) {
	if deps.Probe == nil {
		return nil, fmt.Errorf("probe fetcher is required")
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURLs[cfg.Family]
	}
	if !strings.Contains(cfg.SearchURL, "%s") {
		return nil, fmt.Errorf("search url for %s must contain %%s", cfg.Family)
	}
	if cfg.Markup <= 0 {
		cfg.Markup = pricing.DefaultRules().Multiplier(cfg.Family)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	source := sourcing.ScrapedSource(cfg.Family)
	return &Adapter{
		cfg:    cfg,
		deps:   deps,
		source: source,
		logger: logger.With(zap.String("source", string(source))),
	}, nil
}

// Source implements sourcing.Adapter.
func (a *Adapter) Source() sourcing.Source {
	return a.source
}

// Search implements sourcing.Adapter. Failures are logged and produce an
// empty result.
func (a *Adapter) Search(ctx context.Context, query string, limit int) (out []sourcing.CandidateProduct) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("scrape panicked", zap.Any("panic", r), zap.String("query", query))
			out = nil
		}
	}()

	target := fmt.Sprintf(a.cfg.SearchURL, url.QueryEscape(query))
	if a.deps.Limiter != nil {
		if err := a.deps.Limiter.Wait(ctx, target); err != nil {
			a.logger.Warn("rate limit wait aborted", zap.String("url", target), zap.Error(err))
			return nil
		}
	}

	resp, err := a.deps.Probe.Fetch(ctx, sourcing.FetchRequest{URL: target, Headers: searchHeaders()})
	if err != nil {
		a.logger.Warn("probe fetch failed", zap.String("url", target), zap.Error(err))
		return nil
	}
	resp = a.maybePromote(ctx, target, resp)
	a.archivePage(ctx, resp)

	listings, err := Extract(a.cfg.Family, resp.Body, resp.URL)
	if err != nil {
		a.logger.Warn("extract listings failed", zap.String("url", target), zap.Error(err))
		return nil
	}
	a.logger.Debug("listings extracted",
		zap.String("query", query),
		zap.Int("count", len(listings)),
		zap.Bool("headless", resp.UsedHeadless),
	)

	for _, l := range listings {
		if len(out) >= limit {
			break
		}
		out = append(out, a.toCandidate(l, query))
	}
	return out
}

func (a *Adapter) toCandidate(l Listing, query string) sourcing.CandidateProduct {
	cost := pricing.ParsePrice(l.PriceText, pricing.FallbackPrice)
	var images []string
	if l.ImageURL != "" {
		images = []string{l.ImageURL}
	}
	return sourcing.CandidateProduct{
		Name:        l.Title,
		Description: fmt.Sprintf("%s listing found for %q.", a.cfg.Family, query),
		Cost:        cost,
		Price:       pricing.ApplyMarkup(cost, a.cfg.Markup),
		ImageURL:    l.ImageURL,
		Images:      images,
		Source:      a.source,
		Family:      a.cfg.Family,
		ExternalID:  l.ExternalID,
		OriginLink:  l.Link,
		Rating:      l.Rating,
	}
}

func (a *Adapter) maybePromote(ctx context.Context, target string, resp sourcing.FetchResponse) sourcing.FetchResponse {
	if a.deps.Headless == nil || a.deps.Detector == nil || !a.deps.Detector.ShouldPromote(resp) {
		return resp
	}
	if a.deps.Limiter != nil && !a.deps.Limiter.AllowHeadless(target) {
		a.logger.Debug("headless budget exhausted", zap.String("url", target))
		return resp
	}
	rendered, err := a.deps.Headless.Fetch(ctx, sourcing.FetchRequest{
		URL:          target,
		Headers:      searchHeaders(),
		UseHeadless:  true,
		WaitSelector: CardSelector(a.cfg.Family),
	})
	if err != nil {
		a.logger.Warn("headless promotion failed", zap.String("url", target), zap.Error(err))
		return resp
	}
	rendered.UsedHeadless = true
	a.logger.Info("headless promotion applied", zap.String("url", target))
	return rendered
}

func (a *Adapter) archivePage(ctx context.Context, resp sourcing.FetchResponse) {
	uri, err := a.deps.Archive.Store(ctx, string(a.source), ".html", "text/html; charset=utf-8", resp.Body)
	if err != nil {
		a.logger.Warn("archive page failed", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	if uri != "" {
		a.logger.Debug("page archived", zap.String("url", resp.URL), zap.String("blob_uri", uri))
	}
}

func searchHeaders() http.Header {
	return http.Header{
		"Accept":          {"text/html,application/xhtml+xml"},
		"Accept-Language": {"en-US,en;q=0.9"},
	}
}
