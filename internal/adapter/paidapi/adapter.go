// Package paidapi implements the paid tier of the fallback chain: an
// authenticated product-data search API that returns a fixed JSON schema.
package paidapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/archive"
	"github.com/JakeFAU/realtime-product-sourcing/internal/metrics"
	"github.com/JakeFAU/realtime-product-sourcing/internal/policy/retry"
	"github.com/JakeFAU/realtime-product-sourcing/internal/pricing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

const (
	maxResponseBytes = 8 << 20
	apiKeyParam      = "api_key"
)

// DefaultParams are the fixed query parameters sent per family.
var DefaultParams = map[sourcing.Family]map[string]string{
	sourcing.FamilyAmazon:     {"type": "search", "amazon_domain": "amazon.com"},
	sourcing.FamilyAliExpress: {"type": "search", "engine": "aliexpress"},
	sourcing.FamilyEbay:       {"type": "search", "ebay_domain": "ebay.com"},
}

// Retrier decides whether and how long to back off between attempts.
type Retrier interface {
	ShouldRetry(err error, attempt int) bool
	Sleep(ctx context.Context, attempt int) error
}

// Limiter throttles requests per host and learns from 429s.
type Limiter interface {
	Wait(ctx context.Context, url string) error
	ReportStatus(url string, code int)
}

// Config controls one paid adapter.
type Config struct {
	Family  sourcing.Family
	BaseURL string
	APIKey  string
	Params  map[string]string
	Timeout time.Duration
	Markup  float64
}

// Deps are optional collaborators.
type Deps struct {
	Client  *http.Client
	Retry   Retrier
	Limiter Limiter
	Archive *archive.Archive
}

// Adapter queries the paid API for one family.
type Adapter struct {
	cfg    Config
	deps   Deps
	source sourcing.Source
	logger *zap.Logger
}

// New builds a paid adapter. An empty API key is an error: callers skip the
// tier entirely when no credential is configured.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Params == nil {
		cfg.Params = DefaultParams[cfg.Family]
	}
	if cfg.Markup <= 0 {
		cfg.Markup = pricing.DefaultRules().Multiplier(cfg.Family)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if deps.Client == nil {
		deps.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if deps.Retry == nil {
		deps.Retry = retry.NewExponentialPolicy(3, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	source := sourcing.PaidSource(cfg.Family)
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
			a.logger.Error("paid api search panicked", zap.Any("panic", r), zap.String("query", query))
			out = nil
		}
	}()

	body, err := a.fetch(ctx, query)
	if err != nil {
		a.logger.Warn("paid api search failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	if _, err := a.deps.Archive.Store(ctx, string(a.source), ".json", "application/json", body); err != nil {
		a.logger.Warn("archive response failed", zap.Error(err))
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		a.logger.Warn("decode paid api response failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	if payload.RequestInfo.Success != nil && !*payload.RequestInfo.Success {
		a.logger.Warn("paid api reported failure", zap.String("message", payload.RequestInfo.Message))
		return nil
	}

	for _, r := range payload.Results {
		if len(out) >= limit {
			break
		}
		if c, ok := a.toCandidate(r); ok {
			out = append(out, c)
		}
	}
	a.logger.Debug("paid api results", zap.String("query", query), zap.Int("count", len(out)))
	return out
}

func (a *Adapter) fetch(ctx context.Context, query string) ([]byte, error) {
	reqURL := a.requestURL(query)
	for attempt := 1; ; attempt++ {
		body, err := a.do(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		if !a.deps.Retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		a.logger.Debug("retrying paid api request", zap.Int("attempt", attempt), zap.Error(err))
		if err := a.deps.Retry.Sleep(ctx, attempt); err != nil {
			return nil, fmt.Errorf("retry backoff: %w", err)
		}
	}
}

func (a *Adapter) do(ctx context.Context, reqURL string) ([]byte, error) {
	if a.deps.Limiter != nil {
		if err := a.deps.Limiter.Wait(ctx, reqURL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", a.cfg.APIKey)

	resp, err := a.deps.Client.Do(req)
	if err != nil {
		metrics.ObserveUpstream(string(a.source), 0)
		return nil, fmt.Errorf("paid api request: %w", redactURLError(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	metrics.ObserveUpstream(string(a.source), resp.StatusCode)
	if a.deps.Limiter != nil {
		a.deps.Limiter.ReportStatus(reqURL, resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, &retry.RetryableStatusError{Code: resp.StatusCode}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, retry.Permanent(fmt.Errorf("paid api status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// requestURL renders BaseURL plus the fixed params, the key and the search term.
// Params are written in sorted order so requests are reproducible.
func (a *Adapter) requestURL(query string) string {
	u, _ := url.Parse(a.cfg.BaseURL)
	q := u.Query()
	keys := make([]string, 0, len(a.cfg.Params))
	for k := range a.cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, a.cfg.Params[k])
	}
	q.Set(apiKeyParam, a.cfg.APIKey)
	q.Set("search_term", query)
	u.RawQuery = q.Encode()
	return u.String()
}

// redactURLError masks the api key in the URL that net/http embeds in
// transport errors, keeping the *url.Error so timeouts stay detectable.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = redactURL(urlErr.URL)
	}
	return err
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	if q.Has(apiKeyParam) {
		q.Set(apiKeyParam, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (a *Adapter) toCandidate(r searchResult) (sourcing.CandidateProduct, bool) {
	name := strings.TrimSpace(r.Title)
	if name == "" {
		return sourcing.CandidateProduct{}, false
	}
	cost := r.Price.Value
	if cost <= 0 {
		for _, p := range r.Prices {
			if p.Value > 0 {
				cost = p.Value
				break
			}
		}
	}
	if cost <= 0 {
		cost = pricing.FallbackPrice
	}
	images := r.Images
	if len(images) == 0 && r.Image != "" {
		images = []string{r.Image}
	}
	image := r.Image
	if image == "" && len(images) > 0 {
		image = images[0]
	}
	desc := strings.TrimSpace(r.Description)
	if desc == "" {
		desc = fmt.Sprintf("%s listing sourced via product data API.", a.cfg.Family)
	}
	return sourcing.CandidateProduct{
		Name:        name,
		Description: desc,
		Cost:        cost,
		Price:       pricing.ApplyMarkup(cost, a.cfg.Markup),
		ImageURL:    image,
		Images:      images,
		Source:      a.source,
		Family:      a.cfg.Family,
		ExternalID:  r.externalID(),
		OriginLink:  r.Link,
		Rating:      float64(r.Rating),
	}, true
}

type searchResponse struct {
	RequestInfo struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	} `json:"request_info"`
	Results []searchResult `json:"search_results"`
}

type searchResult struct {
	ASIN        string      `json:"asin"`
	ItemID      string      `json:"item_id"`
	ProductID   string      `json:"product_id"`
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Link        string      `json:"link"`
	Image       string      `json:"image"`
	Images      []string    `json:"images"`
	Rating      flexFloat   `json:"rating"`
	Price       flexPrice   `json:"price"`
	Prices      []flexPrice `json:"prices"`
}

func (r searchResult) externalID() string {
	for _, id := range []string{r.ASIN, r.ItemID, r.ProductID, r.ID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

// flexPrice accepts {"value": 12.5, "raw": "$12.50"}, a bare number, or a string.
type flexPrice struct {
	Value float64
}

func (p *flexPrice) UnmarshalJSON(b []byte) error {
	var obj struct {
		Value *float64 `json:"value"`
		Raw   string   `json:"raw"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		if obj.Value != nil {
			p.Value = *obj.Value
			return nil
		}
		p.Value = pricing.ParsePrice(obj.Raw, 0)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		p.Value = n
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		p.Value = pricing.ParsePrice(s, 0)
		return nil
	}
	p.Value = 0
	return nil
}

// flexFloat accepts a number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexFloat(pricing.ParsePrice(s, 0))
		return nil
	}
	*f = 0
	return nil
}
