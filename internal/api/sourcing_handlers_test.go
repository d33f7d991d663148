package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/catalog"
	"github.com/JakeFAU/realtime-product-sourcing/internal/clock/system"
	"github.com/JakeFAU/realtime-product-sourcing/internal/coordinator"
	"github.com/JakeFAU/realtime-product-sourcing/internal/fallback"
	queuemem "github.com/JakeFAU/realtime-product-sourcing/internal/queue/memory"
	"github.com/JakeFAU/realtime-product-sourcing/internal/random"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/storage/memory"
)

type triggerCall struct {
	family   *sourcing.Family
	category string
}

type fakeCoordinator struct {
	mu       sync.Mutex
	result   sourcing.TriggerResult
	calls    []triggerCall
	products map[sourcing.Family][]sourcing.Product
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		result:   sourcing.TriggerResult{Status: sourcing.TriggerSuccess, Message: "Sourcing started for all sources", RunID: "run-1"},
		products: map[sourcing.Family][]sourcing.Product{},
	}
}

func (f *fakeCoordinator) Trigger(_ context.Context, family *sourcing.Family, category string) sourcing.TriggerResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, triggerCall{family: family, category: category})
	return f.result
}

func (f *fakeCoordinator) Status(context.Context) coordinator.Status {
	return coordinator.Status{ActiveSources: []string{"Amazon"}, Logs: []string{"[2025-07-01T12:00:00Z] hello"}}
}

func (f *fakeCoordinator) LastProducts(family sourcing.Family) []sourcing.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sourcing.Product{}, f.products[family]...)
}

func (f *fakeCoordinator) Categories() []string {
	return []string{"Home", "Tech"}
}

type fakeRuns struct {
	runs        []sourcing.RunRecord
	err         error
	limit, skip int
}

func (f *fakeRuns) ListRuns(_ context.Context, limit, offset int) ([]sourcing.RunRecord, error) {
	f.limit, f.skip = limit, offset
	return f.runs, f.err
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTriggerRunStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result sourcing.TriggerStatus
		want   int
	}{
		{"accepted", sourcing.TriggerSuccess, http.StatusAccepted},
		{"busy", sourcing.TriggerRunning, http.StatusConflict},
		{"queue failure", sourcing.TriggerError, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			coord := newFakeCoordinator()
			coord.result = sourcing.TriggerResult{Status: tt.result, Message: "msg"}
			srv := NewServer(NewSourcingHandler(coord, nil, nil), Options{}, zap.NewNop())

			rec := serve(t, srv.Handler(), http.MethodPost, "/api/sourcing/run", `{"source":"ebay","category":"Tech"}`)
			require.Equal(t, tt.want, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, string(tt.result), body["status"])
			require.Len(t, coord.calls, 1)
			require.Equal(t, sourcing.FamilyEbay, *coord.calls[0].family)
			require.Equal(t, "Tech", coord.calls[0].category)
		})
	}
}

func TestTriggerRunGlobalWhenSourceOmitted(t *testing.T) {
	t.Parallel()

	coord := newFakeCoordinator()
	srv := NewServer(NewSourcingHandler(coord, nil, nil), Options{}, zap.NewNop())

	rec := serve(t, srv.Handler(), http.MethodPost, "/api/sourcing/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Nil(t, coord.calls[0].family)
	require.Contains(t, rec.Body.String(), `"runId":"run-1"`)
}

func TestTriggerRunRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		body string
		want string
	}{
		"malformed json":   {`{"source":`, "invalid JSON"},
		"unknown family":   {`{"source":"Etsy"}`, "unknown source family"},
		"unknown category": {`{"category":"Garden"}`, "unknown category"},
		"too long":         {`{"category":"` + strings.Repeat("x", 65) + `"}`, "category failed max"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			coord := newFakeCoordinator()
			srv := NewServer(NewSourcingHandler(coord, nil, nil), Options{}, zap.NewNop())

			rec := serve(t, srv.Handler(), http.MethodPost, "/api/sourcing/run", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
			require.Empty(t, coord.calls)
		})
	}
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	runs := &fakeRuns{runs: []sourcing.RunRecord{{ID: "run-1", Scope: "Global", Status: sourcing.RunStatusSucceeded, StartedAt: started}}}
	srv := NewServer(NewSourcingHandler(newFakeCoordinator(), runs, nil), Options{}, zap.NewNop())

	rec := serve(t, srv.Handler(), http.MethodGet, "/api/sourcing/runs?limit=1000&offset=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, maxRunLimit, runs.limit)
	require.Equal(t, 5, runs.skip)
	require.Contains(t, rec.Body.String(), `"id":"run-1"`)

	rec = serve(t, srv.Handler(), http.MethodGet, "/api/sourcing/runs?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	runs.err = errors.New("db down")
	rec = serve(t, srv.Handler(), http.MethodGet, "/api/sourcing/runs", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, defaultRunLimit, runs.limit)

	noHistory := NewServer(NewSourcingHandler(newFakeCoordinator(), nil, nil), Options{}, zap.NewNop())
	rec = serve(t, noHistory.Handler(), http.MethodGet, "/api/sourcing/runs", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListProducts(t *testing.T) {
	t.Parallel()

	coord := newFakeCoordinator()
	coord.products[sourcing.FamilyAmazon] = []sourcing.Product{{ID: "p1", Name: "Kettle", Family: sourcing.FamilyAmazon}}
	srv := NewServer(NewSourcingHandler(coord, nil, nil), Options{}, zap.NewNop())

	rec := serve(t, srv.Handler(), http.MethodGet, "/api/sourcing/products?source=amazon", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Kettle"`)

	rec = serve(t, srv.Handler(), http.MethodGet, "/api/sourcing/products?source=eBay", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"products":[]`)

	rec = serve(t, srv.Handler(), http.MethodGet, "/api/sourcing/products", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, srv.Handler(), http.MethodGet, "/api/sourcing/products?source=etsy", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type oneShotAdapter struct{}

func (oneShotAdapter) Source() sourcing.Source { return sourcing.SourceSynthetic }

func (oneShotAdapter) Search(_ context.Context, query string, _ int) []sourcing.CandidateProduct {
	return []sourcing.CandidateProduct{{
		Name: "Phone " + query, Cost: 10, Price: 13, Source: sourcing.SourceSynthetic,
		Family: sourcing.FamilyAmazon, ExternalID: "SYN-1", ImageURL: "https://img.example/1.jpg",
	}}
}

type counterIDs struct {
	mu sync.Mutex
	n  int
}

func (c *counterIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return "id-" + strconv.Itoa(c.n), nil
}

func TestTriggerThenStatusEndToEnd(t *testing.T) {
	t.Parallel()

	resolver, err := fallback.New(map[sourcing.Family]fallback.Chain{
		sourcing.FamilyAmazon: {Synthetic: oneShotAdapter{}},
	}, nil)
	require.NoError(t, err)
	clock := system.NewFixed(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	engine, err := catalog.New(memory.NewProductStore(), &counterIDs{}, clock, nil)
	require.NoError(t, err)
	q := queuemem.NewQueue(4)
	coord, err := coordinator.New(coordinator.Config{Categories: map[string][]string{"Tech": {"smartphone"}}}, coordinator.Deps{
		Resolver: resolver,
		Catalog:  engine,
		Queue:    q,
		IDs:      &counterIDs{},
		Clock:    clock,
		Rand:     random.New(1).Rand(),
	}, nil)
	require.NoError(t, err)

	runs := memory.NewRunStore()
	srv := NewServer(NewSourcingHandler(coord, runs, nil), Options{}, zap.NewNop())

	rec := serve(t, srv.Handler(), http.MethodPost, "/api/sourcing/run", `{"source":"Amazon"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = serve(t, srv.Handler(), http.MethodPost, "/api/sourcing/run", `{"source":"Amazon"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Sourcing for Amazon is already running")

	req, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, coord.Execute(context.Background(), req))

	rec = serve(t, srv.Handler(), http.MethodGet, "/api/sourcing/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status coordinator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Empty(t, status.ActiveSources)
	require.Equal(t, 1, status.Stats.ProductsFound)
	require.Equal(t, "Tech", status.Stats.LastCategory)
	require.Equal(t, "Phone smartphone", status.Stats.FeaturedProducts["Amazon"].Name)

	rec = serve(t, srv.Handler(), http.MethodGet, "/api/sourcing/products?source=Amazon", "")
	require.Contains(t, rec.Body.String(), `"externalId":"SYN-1"`)
}
