// Package headless renders JavaScript-heavy marketplace search pages through
// headless Chrome.
//
// A render waits for the results grid rather than a fixed delay: once any
// listing card matches the request's WaitSelector the grid is scrolled so
// lazily loaded cards attach, and the document is snapshotted. A page that
// never shows a card (an empty search or a robot check) is still returned so
// the extractor can decide what it holds.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultListingWait       = 8 * time.Second
	scrollPause              = 250 * time.Millisecond
	settlePause              = 300 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// ScrollPasses scrolls the results grid this many times so lazily
	// loaded listing cards are present in the DOM.
	ScrollPasses int
	// ListingWait bounds how long a render waits for the first listing card.
	ListingWait time.Duration
}

// Fetcher implements sourcing.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	tabs        chan struct{}
	browser     context.Context
	stopBrowser context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// started lazily by the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ListingWait <= 0 {
		cfg.ListingWait = defaultListingWait
	}
	var tabs chan struct{}
	if cfg.MaxParallel > 0 {
		tabs = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.WindowSize(1366, 900),
	)
	browser, stop := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		tabs:        tabs,
		browser:     browser,
		stopBrowser: stop,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.stopBrowser()
}

// Fetch renders a search page in a fresh tab and returns its DOM.
func (f *Fetcher) Fetch(ctx context.Context, request sourcing.FetchRequest) (sourcing.FetchResponse, error) {
	if err := f.openTab(ctx); err != nil {
		return sourcing.FetchResponse{}, err
	}
	defer f.closeTab()

	tabCtx, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()
	// Tie the tab to the caller so a canceled run stops rendering.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	page, err := f.render(tabCtx, request)
	if err != nil {
		return sourcing.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers, pageURL := doc.resolve(request.URL, page.location)
	return sourcing.FetchResponse{
		URL:          pageURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(page.html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

type renderedPage struct {
	html     string
	location string
}

func (f *Fetcher) render(ctx context.Context, request sourcing.FetchRequest) (renderedPage, error) {
	var page renderedPage
	plan := []chromedp.Action{
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitForListings(request.WaitSelector, f.cfg.ListingWait),
	}
	plan = append(plan, scrollGrid(f.cfg.ScrollPasses)...)
	plan = append(plan,
		chromedp.Sleep(settlePause),
		chromedp.Location(&page.location),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, plan...); err != nil {
		return renderedPage{}, err
	}
	return page, nil
}

// waitForListings blocks until selector matches or budget runs out. Running
// out of budget is not an error; the tab's own deadline still is.
func waitForListings(selector string, budget time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if selector == "" {
			return nil
		}
		waitCtx, cancel := context.WithTimeout(ctx, budget)
		defer cancel()
		err := chromedp.WaitVisible(selector, chromedp.ByQuery).Do(waitCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("wait for listings: %w", err)
	})
}

// scrollGrid pages down the results grid passes times.
func scrollGrid(passes int) []chromedp.Action {
	if passes <= 0 {
		return nil
	}
	actions := make([]chromedp.Action, 0, passes*2)
	for range passes {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
			chromedp.Sleep(scrollPause),
		)
	}
	return actions
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := toNetworkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) openTab(ctx context.Context) error {
	if f.tabs == nil {
		return nil
	}
	select {
	case f.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for a browser tab: %w", ctx.Err())
	}
}

func (f *Fetcher) closeTab() {
	if f.tabs == nil {
		return
	}
	<-f.tabs
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

// documentResponse records the main document's response as the browser
// reports it. Sub-resource responses are ignored.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := fromNetworkHeaders(resp.Response.Headers)
	d.mu.Lock()
	defer d.mu.Unlock()
	// Redirect chains report several documents; the last one is the page.
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
}

// resolve returns the status, headers and URL of the rendered page, filling
// gaps from the browser location and the requested URL.
func (d *documentResponse) resolve(requestURL, location string) (int, http.Header, string) {
	d.mu.Lock()
	status, headers, pageURL := d.status, d.headers.Clone(), d.url
	d.mu.Unlock()

	if pageURL == "" {
		pageURL = location
	}
	if pageURL == "" {
		pageURL = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, pageURL
}

func fromNetworkHeaders(src network.Headers) http.Header {
	headers := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
