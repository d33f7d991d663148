// Package coordinator owns the sourcing run state machine: it admits or
// rejects triggers, runs the fallback/normalize/upsert pipeline for accepted
// runs, and keeps the in-memory observability state served by the status API.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/catalog"
	"github.com/JakeFAU/realtime-product-sourcing/internal/fallback"
	"github.com/JakeFAU/realtime-product-sourcing/internal/pricing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/progress"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

const (
	defaultPerKeywordLimit   = 10
	defaultRecentCategories  = 3
	defaultLastProductsLimit = 20
	enqueueTimeout           = 2 * time.Second
)

// ErrUnknownCategory is returned when a trigger names a category with no keywords.
var ErrUnknownCategory = errors.New("unknown category")

// Resolver sources candidates through the fallback chain.
type Resolver interface {
	SourceFor(ctx context.Context, family sourcing.Family, query string, limit int) (fallback.Resolution, error)
	SourceAll(ctx context.Context, query string, limit int) ([]fallback.Resolution, error)
}

// Upserter persists normalized products.
type Upserter interface {
	Upsert(ctx context.Context, product sourcing.Product) (catalog.UpsertResult, error)
	CountBySource(ctx context.Context) (map[sourcing.Source]int, error)
}

// Config tunes the coordinator.
type Config struct {
	// Categories maps a category name to the search keywords run for it.
	Categories map[string][]string
	// PerKeywordLimit bounds candidates requested per keyword and family.
	PerKeywordLimit int
	// LogCapacity bounds the ring log.
	LogCapacity int
	// RotateCategories draws a fresh random category for every run that names
	// none. By default the last category is reused once one exists.
	RotateCategories bool
	// RecentCategories bounds the recent category history.
	RecentCategories int
	// LastProductsLimit bounds the per-family last products list.
	LastProductsLimit int
	// Rules are reported in status as markup percentages.
	Rules pricing.Rules
}

// Deps are the collaborators a coordinator needs.
type Deps struct {
	Resolver Resolver
	Catalog  Upserter
	Queue    sourcing.Queue
	IDs      sourcing.IDGenerator
	Clock    sourcing.Clock
	Rand     sourcing.Rand
	Emitter  progress.Emitter
}

// Coordinator is constructed once per process and shared by the API,
// scheduler, and workers.
type Coordinator struct {
	cfg        Config
	deps       Deps
	categories []string
	logs       *Ring
	logger     *zap.Logger

	mu            sync.Mutex
	active        map[sourcing.RunScope]bool
	pending       map[string]*Claim
	lastRun       *time.Time
	productsFound int
	perSource     map[sourcing.Source]int
	lastCategory  string
	recent        []string
	featured      map[sourcing.Family]sourcing.Product
	lastProducts  map[sourcing.Family][]sourcing.Product
}

// New validates deps and builds a Coordinator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Coordinator, error) {
	if deps.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if deps.IDs == nil || deps.Clock == nil || deps.Rand == nil {
		return nil, errors.New("id generator, clock and rand are required")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if len(cfg.Categories) == 0 {
		return nil, errors.New("at least one category is required")
	}
	if cfg.PerKeywordLimit <= 0 {
		cfg.PerKeywordLimit = defaultPerKeywordLimit
	}
	if cfg.RecentCategories <= 0 {
		cfg.RecentCategories = defaultRecentCategories
	}
	if cfg.LastProductsLimit <= 0 {
		cfg.LastProductsLimit = defaultLastProductsLimit
	}
	if cfg.Rules == nil {
		cfg.Rules = pricing.DefaultRules()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	categories := make([]string, 0, len(cfg.Categories))
	for name, keywords := range cfg.Categories {
		if len(keywords) == 0 {
			return nil, fmt.Errorf("category %q has no keywords", name)
		}
		categories = append(categories, name)
	}
	sort.Strings(categories)

	return &Coordinator{
		cfg:          cfg,
		deps:         deps,
		categories:   categories,
		logs:         NewRing(cfg.LogCapacity),
		logger:       logger,
		active:       make(map[sourcing.RunScope]bool),
		pending:      make(map[string]*Claim),
		perSource:    make(map[sourcing.Source]int),
		featured:     make(map[sourcing.Family]sourcing.Product),
		lastProducts: make(map[sourcing.Family][]sourcing.Product),
	}, nil
}

// Claim is a held run scope. Release is idempotent.
type Claim struct {
	scope   sourcing.RunScope
	once    sync.Once
	release func()
}

// Scope reports what the claim holds.
func (c *Claim) Scope() sourcing.RunScope {
	return c.scope
}

// Release frees the scope.
func (c *Claim) Release() {
	c.once.Do(c.release)
}

// Claim tries to take scope. Global conflicts with any active scope; a
// family conflicts with itself and with Global.
func (c *Coordinator) Claim(scope sourcing.RunScope) (*Claim, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	global := sourcing.RunScope(sourcing.GlobalToken)
	if scope == global {
		if len(c.active) > 0 {
			return nil, false
		}
	} else if c.active[scope] || c.active[global] {
		return nil, false
	}
	c.active[scope] = true
	return &Claim{
		scope: scope,
		release: func() {
			c.mu.Lock()
			delete(c.active, scope)
			c.mu.Unlock()
		},
	}, true
}

// Trigger admits a run for family (nil means every family) and enqueues it.
// It returns immediately; the run executes on a worker.
func (c *Coordinator) Trigger(ctx context.Context, family *sourcing.Family, category string) sourcing.TriggerResult {
	scope := sourcing.ScopeOf(family)
	category = strings.TrimSpace(category)
	if category != "" {
		if _, ok := c.cfg.Categories[category]; !ok {
			return sourcing.TriggerResult{
				Status:  sourcing.TriggerError,
				Message: fmt.Sprintf("%s: %q", ErrUnknownCategory, category),
			}
		}
	}

	claim, ok := c.Claim(scope)
	if !ok {
		c.logger.Info("run rejected, scope busy", zap.String("scope", string(scope)))
		return sourcing.TriggerResult{Status: sourcing.TriggerRunning, Message: busyMessage(scope)}
	}

	id, err := c.deps.IDs.NewID()
	if err != nil {
		claim.Release()
		return sourcing.TriggerResult{Status: sourcing.TriggerError, Message: fmt.Sprintf("generate run id: %v", err)}
	}
	req := sourcing.RunRequest{
		ID:        id,
		Family:    family,
		Category:  category,
		Submitted: c.deps.Clock.Now().UTC(),
	}

	c.mu.Lock()
	c.pending[id] = claim
	c.mu.Unlock()

	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := c.deps.Queue.Enqueue(enqueueCtx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		claim.Release()
		c.logger.Error("enqueue run failed", zap.String("run_id", id), zap.Error(err))
		return sourcing.TriggerResult{Status: sourcing.TriggerError, Message: fmt.Sprintf("enqueue run: %v", err)}
	}

	c.logger.Info("run accepted", zap.String("run_id", id), zap.String("scope", string(scope)))
	return sourcing.TriggerResult{Status: sourcing.TriggerSuccess, Message: startedMessage(scope), RunID: id}
}

func busyMessage(scope sourcing.RunScope) string {
	if scope == sourcing.RunScope(sourcing.GlobalToken) {
		return "A sourcing run is already in progress"
	}
	return fmt.Sprintf("Sourcing for %s is already running", scope)
}

func startedMessage(scope sourcing.RunScope) string {
	if scope == sourcing.RunScope(sourcing.GlobalToken) {
		return "Sourcing started for all sources"
	}
	return fmt.Sprintf("Sourcing started for %s", scope)
}

// takeClaim returns the claim Trigger took for req, or claims now when req
// did not come through Trigger.
func (c *Coordinator) takeClaim(req sourcing.RunRequest) (*Claim, error) {
	c.mu.Lock()
	claim, ok := c.pending[req.ID]
	delete(c.pending, req.ID)
	c.mu.Unlock()
	if ok {
		return claim, nil
	}
	claim, ok = c.Claim(req.Scope())
	if !ok {
		return nil, fmt.Errorf("scope %s is busy", req.Scope())
	}
	return claim, nil
}

// runState accumulates one run's progress. It is only touched by the
// goroutine executing the run.
type runState struct {
	id       string
	scope    sourcing.RunScope
	category string
	started  time.Time
	created  int
	updated  int
	featured map[sourcing.Family]bool
	products map[sourcing.Family][]sourcing.Product
}

// Execute runs req to completion. Errors and panics are converted into a
// failed run; the claim is released on every path.
func (c *Coordinator) Execute(ctx context.Context, req sourcing.RunRequest) (err error) {
	claim, err := c.takeClaim(req)
	if err != nil {
		return err
	}
	defer claim.Release()

	run := &runState{
		id:       req.ID,
		scope:    req.Scope(),
		started:  c.deps.Clock.Now().UTC(),
		featured: make(map[sourcing.Family]bool),
		products: make(map[sourcing.Family][]sourcing.Product),
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
		c.finish(run, err)
	}()

	c.mu.Lock()
	started := run.started
	c.lastRun = &started
	c.mu.Unlock()

	run.category = c.selectCategory(req.Category)
	c.log("%s run started (category %s)", run.scope, run.category)
	c.deps.Emitter.Emit(progress.Event{
		RunID:    run.id,
		TS:       run.started,
		Stage:    progress.StageRunStart,
		Scope:    run.scope,
		Category: run.category,
	})

	limit := c.cfg.PerKeywordLimit
	for _, keyword := range c.cfg.Categories[run.category] {
		if req.Family != nil {
			res, err := c.deps.Resolver.SourceFor(ctx, *req.Family, keyword, limit)
			if err != nil {
				return fmt.Errorf("source %s for %q: %w", *req.Family, keyword, err)
			}
			if err := c.reduce(ctx, run, res); err != nil {
				return err
			}
			continue
		}
		results, err := c.deps.Resolver.SourceAll(ctx, keyword, limit)
		if err != nil {
			return fmt.Errorf("source all for %q: %w", keyword, err)
		}
		for _, res := range results {
			if err := c.reduce(ctx, run, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// reduce applies one family's resolution: normalize, upsert, and fold the
// outcome into run and coordinator state in candidate order.
func (c *Coordinator) reduce(ctx context.Context, run *runState, res fallback.Resolution) error {
	for _, attempt := range res.Attempts {
		c.log("[%s] %s tier returned %d for %q in %s",
			res.Family, attempt.Tier, attempt.Count, res.Query, attempt.Duration.Round(time.Millisecond))
		c.deps.Emitter.Emit(progress.Event{
			RunID:  run.id,
			TS:     c.deps.Clock.Now().UTC(),
			Stage:  progress.StageTierAttempt,
			Scope:  run.scope,
			Family: res.Family,
			Source: attempt.Source,
			Tier:   string(attempt.Tier),
			Count:  attempt.Count,
			Dur:    attempt.Duration,
		})
	}
	if len(res.Candidates) == 0 {
		c.log("[%s] no candidates for %q", res.Family, res.Query)
		return nil
	}

	for _, candidate := range res.Candidates {
		if candidate.Family == "" {
			candidate.Family = res.Family
		}
		product := pricing.Normalize(candidate, run.category)
		result, err := c.deps.Catalog.Upsert(ctx, product)
		if err != nil {
			return fmt.Errorf("upsert %s product: %w", product.Source, err)
		}
		c.record(run, result)
		c.deps.Emitter.Emit(progress.Event{
			RunID:      run.id,
			TS:         c.deps.Clock.Now().UTC(),
			Stage:      progress.StageProductImported,
			Scope:      run.scope,
			Family:     result.Product.Family,
			Source:     result.Product.Source,
			NewProduct: result.Created,
			Product:    &result.Product,
		})
	}
	c.log("[%s] imported %d from %s for %q", res.Family, len(res.Candidates), res.Source, res.Query)
	return nil
}

func (c *Coordinator) record(run *runState, result catalog.UpsertResult) {
	product := result.Product
	family := product.Family
	if result.Created {
		run.created++
	} else {
		run.updated++
	}

	list := append(run.products[family], product)
	if len(list) > c.cfg.LastProductsLimit {
		list = list[len(list)-c.cfg.LastProductsLimit:]
	}
	run.products[family] = list

	c.mu.Lock()
	defer c.mu.Unlock()
	c.productsFound++
	c.perSource[product.Source]++
	if !run.featured[family] {
		run.featured[family] = true
		c.featured[family] = product
	}
	c.lastProducts[family] = append([]sourcing.Product(nil), list...)
}

func (c *Coordinator) finish(run *runState, err error) {
	dur := c.deps.Clock.Now().UTC().Sub(run.started)
	evt := progress.Event{
		RunID:    run.id,
		TS:       run.started.Add(dur),
		Scope:    run.scope,
		Category: run.category,
		Created:  run.created,
		Updated:  run.updated,
		Dur:      dur,
	}
	if err != nil {
		evt.Stage = progress.StageRunError
		evt.Note = err.Error()
		c.log("%s run failed: %v", run.scope, err)
		c.logger.Error("run failed", zap.String("run_id", run.id), zap.String("scope", string(run.scope)), zap.Error(err))
	} else {
		evt.Stage = progress.StageRunDone
		c.log("%s run finished: %d created, %d updated", run.scope, run.created, run.updated)
		c.logger.Info("run finished",
			zap.String("run_id", run.id),
			zap.String("scope", string(run.scope)),
			zap.Int("created", run.created),
			zap.Int("updated", run.updated),
			zap.Duration("dur", dur),
		)
	}
	c.deps.Emitter.Emit(evt)
}

// selectCategory picks the run category: the requested one, else the last
// category, else a uniformly random one. It also records history.
func (c *Coordinator) selectCategory(requested string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var category string
	switch {
	case requested != "":
		category = requested
	case !c.cfg.RotateCategories && c.lastCategory != "":
		category = c.lastCategory
	default:
		category = c.categories[c.deps.Rand.IntN(len(c.categories))]
	}
	c.lastCategory = category

	recent := make([]string, 0, c.cfg.RecentCategories)
	recent = append(recent, category)
	for _, prev := range c.recent {
		if prev != category && len(recent) < c.cfg.RecentCategories {
			recent = append(recent, prev)
		}
	}
	c.recent = recent
	return category
}

func (c *Coordinator) log(format string, args ...any) {
	ts := c.deps.Clock.Now().UTC().Format(time.RFC3339)
	c.logs.Add("[" + ts + "] " + fmt.Sprintf(format, args...))
}
