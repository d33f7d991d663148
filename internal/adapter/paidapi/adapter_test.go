package paidapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-product-sourcing/internal/archive"
	"github.com/JakeFAU/realtime-product-sourcing/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-product-sourcing/internal/policy/retry"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/storage/memory"
)

const searchPayload = `{
  "request_info": {"success": true},
  "search_results": [
    {"asin": "B0PAID0001", "title": "Tablet 10", "link": "https://www.amazon.com/dp/B0PAID0001",
     "image": "https://img/tablet.jpg", "rating": 4.4, "price": {"value": 100, "raw": "$100.00"}},
    {"asin": "B0PAID0002", "title": "Tablet Case", "rating": "3.9", "price": "$12.50"},
    {"item_id": "778899", "title": "Stylus", "prices": [{"raw": "N/A"}, {"value": 5}]},
    {"asin": "B0PAID0004", "title": "", "price": 9},
    {"id": "x-5", "title": "Mystery Box", "price": [1, 2]}
  ]
}`

func fastRetry() *retry.ExponentialPolicy {
	return retry.NewExponentialPolicy(3, time.Millisecond, 2*time.Millisecond)
}

func newAdapter(t *testing.T, baseURL string, deps Deps) *Adapter {
	t.Helper()
	if deps.Retry == nil {
		deps.Retry = fastRetry()
	}
	a, err := New(Config{Family: sourcing.FamilyAmazon, BaseURL: baseURL, APIKey: "secret"}, deps, nil)
	require.NoError(t, err)
	return a
}

func TestSearchDecodesResults(t *testing.T) {
	t.Parallel()

	var gotQuery, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchPayload))
	}))
	t.Cleanup(srv.Close)

	blobs := memory.NewBlobStore()
	a := newAdapter(t, srv.URL+"/request", Deps{Archive: archive.New(blobs, nil, "api", nil)})
	require.Equal(t, sourcing.SourcePaidAmazon, a.Source())

	got := a.Search(context.Background(), "tablet", 10)
	require.Len(t, got, 4)
	require.Equal(t, "amazon_domain=amazon.com&api_key=secret&search_term=tablet&type=search", gotQuery)
	require.Equal(t, "secret", gotHeader)

	require.Equal(t, "B0PAID0001", got[0].ExternalID)
	require.InDelta(t, 100.0, got[0].Cost, 1e-9)
	require.InDelta(t, 130.0, got[0].Price, 1e-9)
	require.InDelta(t, 4.4, got[0].Rating, 1e-9)
	require.Equal(t, []string{"https://img/tablet.jpg"}, got[0].Images)

	require.InDelta(t, 12.5, got[1].Cost, 1e-9)
	require.InDelta(t, 3.9, got[1].Rating, 1e-9)

	require.Equal(t, "778899", got[2].ExternalID)
	require.InDelta(t, 5.0, got[2].Cost, 1e-9)

	// unknown price shape falls back to the fixed price
	require.Equal(t, "x-5", got[3].ExternalID)
	require.InDelta(t, 10.0, got[3].Cost, 1e-9)

	require.Len(t, blobs.Paths(), 1)
}

func TestSearchRespectsLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(searchPayload))
	}))
	t.Cleanup(srv.Close)

	require.Len(t, newAdapter(t, srv.URL, Deps{}).Search(context.Background(), "tablet", 2), 2)
}

func TestSearchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(searchPayload))
	}))
	t.Cleanup(srv.Close)

	got := newAdapter(t, srv.URL, Deps{}).Search(context.Background(), "tablet", 1)
	require.Len(t, got, 1)
	require.EqualValues(t, 3, calls.Load())
}

func TestSearchGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 1000, DefaultBurst: 10})
	got := newAdapter(t, srv.URL, Deps{Limiter: limiter}).Search(context.Background(), "tablet", 1)
	require.Empty(t, got)
	require.EqualValues(t, 3, calls.Load())
	require.Less(t, float64(limiter.CurrentLimit(srv.URL)), float64(1000))
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	require.Empty(t, newAdapter(t, srv.URL, Deps{}).Search(context.Background(), "tablet", 1))
	require.EqualValues(t, 1, calls.Load())
}

func TestSearchHandlesBadPayloads(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"malformed":      `{"search_results": [`,
		"reported error": `{"request_info": {"success": false, "message": "credits exhausted"}, "search_results": [{"title": "x"}]}`,
		"empty":          `{"search_results": []}`,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		require.Empty(t, newAdapter(t, srv.URL, Deps{}).Search(context.Background(), "tablet", 3), name)
		srv.Close()
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Family: sourcing.FamilyEbay, BaseURL: "https://api.example.com"}, Deps{}, nil)
	require.Error(t, err)
	_, err = New(Config{Family: sourcing.FamilyEbay, APIKey: "k"}, Deps{}, nil)
	require.Error(t, err)

	a, err := New(Config{Family: sourcing.FamilyEbay, BaseURL: "https://api.example.com/request", APIKey: "k"}, Deps{}, nil)
	require.NoError(t, err)
	require.Equal(t, sourcing.SourcePaidEbay, a.Source())
	require.Equal(t, "https://api.example.com/request?api_key=k&ebay_domain=ebay.com&search_term=usb+hub&type=search",
		a.requestURL("usb hub"))
}

func TestSearchFailureLogsDoNotLeakAPIKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL + "/request"
	srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	a, err := New(Config{Family: sourcing.FamilyAmazon, BaseURL: baseURL, APIKey: "SECRET-KEY-123"},
		Deps{Retry: fastRetry()}, zap.New(core))
	require.NoError(t, err)

	require.Empty(t, a.Search(context.Background(), "phone", 5))

	failed := logs.FilterMessage("paid api search failed").All()
	require.Len(t, failed, 1)
	for _, entry := range logs.All() {
		for key, val := range entry.ContextMap() {
			require.False(t, strings.Contains(fmt.Sprint(val), "SECRET-KEY-123"), "%s leaks the key in %q", entry.Message, key)
		}
	}
	require.Contains(t, fmt.Sprint(failed[0].ContextMap()["error"]), "api_key=REDACTED")
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://api.test/request?api_key=REDACTED&q=x", redactURL("https://api.test/request?api_key=k&q=x"))
	require.Equal(t, "https://api.test/request?q=x", redactURL("https://api.test/request?q=x"))
}
