// Package server builds the sourcing service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/adapter/paidapi"
	"github.com/JakeFAU/realtime-product-sourcing/internal/adapter/scrape"
	"github.com/JakeFAU/realtime-product-sourcing/internal/adapter/synthetic"
	"github.com/JakeFAU/realtime-product-sourcing/internal/api"
	"github.com/JakeFAU/realtime-product-sourcing/internal/archive"
	rediscache "github.com/JakeFAU/realtime-product-sourcing/internal/cache/redis"
	"github.com/JakeFAU/realtime-product-sourcing/internal/catalog"
	"github.com/JakeFAU/realtime-product-sourcing/internal/clock/system"
	"github.com/JakeFAU/realtime-product-sourcing/internal/config"
	"github.com/JakeFAU/realtime-product-sourcing/internal/coordinator"
	"github.com/JakeFAU/realtime-product-sourcing/internal/dispatcher"
	"github.com/JakeFAU/realtime-product-sourcing/internal/fallback"
	collyfetcher "github.com/JakeFAU/realtime-product-sourcing/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/realtime-product-sourcing/internal/fetcher/headless"
	"github.com/JakeFAU/realtime-product-sourcing/internal/hash/sha256"
	"github.com/JakeFAU/realtime-product-sourcing/internal/headless/detector"
	"github.com/JakeFAU/realtime-product-sourcing/internal/id/uuid"
	"github.com/JakeFAU/realtime-product-sourcing/internal/metrics"
	"github.com/JakeFAU/realtime-product-sourcing/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-product-sourcing/internal/policy/retry"
	"github.com/JakeFAU/realtime-product-sourcing/internal/progress"
	progresssinks "github.com/JakeFAU/realtime-product-sourcing/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/realtime-product-sourcing/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/realtime-product-sourcing/internal/queue/memory"
	"github.com/JakeFAU/realtime-product-sourcing/internal/random"
	"github.com/JakeFAU/realtime-product-sourcing/internal/scheduler"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/telemetry"
	gcsstorage "github.com/JakeFAU/realtime-product-sourcing/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-product-sourcing/internal/storage/local"
	memoryStorage "github.com/JakeFAU/realtime-product-sourcing/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-product-sourcing/internal/storage/postgres"
	"github.com/JakeFAU/realtime-product-sourcing/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	coord       *coordinator.Coordinator
	dispatch    *dispatcher.Dispatcher
	sched       *scheduler.Scheduler
	progressHub *progress.Hub
	queue       *queueMemory.Queue

	pool         *pgxpool.Pool
	redis        *goredis.Client
	gcs          *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	headless     *headlessfetcher.Fetcher
	readyChecks  []api.ReadyCheck

	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
		}
	}()

	metrics.Init()
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.Bool("paid_api", cfg.PaidEnabled()),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	clock := system.New()
	ids := uuid.New()
	rnd := random.New(cfg.Seed)

	blobs, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	products, runs, err := app.setupStores(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx, reg, runs, publisher, clock); err != nil {
		return nil, err
	}

	chains, err := app.setupChains(blobs, rnd)
	if err != nil {
		return nil, err
	}
	resolver, err := fallback.New(chains, logger.Named("fallback"))
	if err != nil {
		return nil, fmt.Errorf("resolver init failed: %w", err)
	}
	engine, err := catalog.New(products, ids, clock, logger.Named("catalog"))
	if err != nil {
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}

	app.queue = queueMemory.NewQueue(cfg.Sourcing.QueueDepth)
	app.coord, err = coordinator.New(coordinator.Config{
		Categories:        cfg.CategoryMap(),
		PerKeywordLimit:   cfg.Sourcing.PerKeywordLimit,
		LogCapacity:       cfg.Sourcing.LogCapacity,
		RotateCategories:  cfg.Sourcing.RotateCategories,
		RecentCategories:  cfg.Sourcing.RecentCategories,
		LastProductsLimit: cfg.Sourcing.LastProductsLimit,
		Rules:             cfg.Rules(),
	}, coordinator.Deps{
		Resolver: resolver,
		Catalog:  engine,
		Queue:    app.queue,
		IDs:      ids,
		Clock:    clock,
		Rand:     rnd.Rand(),
		Emitter:  app.progressHub,
	}, logger.Named("coordinator"))
	if err != nil {
		return nil, fmt.Errorf("coordinator init failed: %w", err)
	}

	app.dispatch = dispatcher.NewPool(
		cfg.Sourcing.Workers,
		app.queue,
		app.coord,
		worker.Config{RunTimeout: cfg.RunTimeout()},
		logger.Named("worker"),
	)
	app.sched = scheduler.New(app.coord, cfg.ScheduleInterval(), logger.Named("scheduler"))

	handler := api.NewSourcingHandler(app.coord, runs, logger.Named("api"))
	app.apiServer = api.NewServer(handler, api.Options{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
		ReadyChecks: app.readyChecks,
	}, logger.Named("http"))

	return app, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()
	go a.sched.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

// setupArchive returns the blob store for raw payloads, or nil when archiving
// is off.
func (a *App) setupArchive(ctx context.Context) (sourcing.BlobStore, error) {
	cfg := a.cfg.Archive
	switch cfg.Driver {
	case "gcs":
		a.logger.Info("using GCS archive backend", zap.String("bucket", cfg.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		if _, err := client.Bucket(cfg.GCSBucket).Attrs(ctx); err != nil {
			return nil, fmt.Errorf("gcs bucket %q not reachable: %w", cfg.GCSBucket, err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		a.logger.Info("using local archive backend", zap.String("path", cfg.Dir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	case "memory":
		a.logger.Info("using in-memory archive backend")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("raw payload archive disabled")
		return nil, nil
	}
}

func (a *App) setupStores(ctx context.Context) (sourcing.ProductStore, sourcing.RunStore, error) {
	var products sourcing.ProductStore
	var runs sourcing.RunStore

	switch a.cfg.Storage.Driver {
	case "postgres":
		pool, err := pgstore.Connect(ctx, pgstore.Config{
			DSN:      a.cfg.Storage.DSN,
			MaxConns: a.cfg.Storage.MaxConns,
			MinConns: a.cfg.Storage.MinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres init failed: %w", err)
		}
		a.pool = pool
		if a.cfg.Storage.MigrateOnStart {
			if err := pgstore.Migrate(ctx, pool); err != nil {
				return nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		pgProducts, err := pgstore.NewProductStore(pool, "")
		if err != nil {
			return nil, nil, fmt.Errorf("product store init failed: %w", err)
		}
		pgRuns, err := pgstore.NewRunStore(pool, "")
		if err != nil {
			return nil, nil, fmt.Errorf("run store init failed: %w", err)
		}
		products, runs = pgProducts, pgRuns
		a.readyChecks = append(a.readyChecks, api.ReadyCheck{Name: "postgres", Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		}})
		a.logger.Info("using postgres stores")
	default:
		products, runs = memoryStorage.NewProductStore(), memoryStorage.NewRunStore()
		a.logger.Info("using in-memory stores")
	}

	if a.cfg.Cache.RedisAddr == "" {
		return products, runs, nil
	}
	client, err := rediscache.Connect(ctx, a.cfg.Cache.RedisAddr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB)
	if err != nil {
		return nil, nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.redis = client
	cached, err := rediscache.New(products, client,
		rediscache.WithTTL(time.Duration(a.cfg.Cache.TTLSeconds)*time.Second),
		rediscache.WithPrefix(a.cfg.Cache.Prefix),
		rediscache.WithLogger(a.logger.Named("cache")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("product cache init failed: %w", err)
	}
	a.readyChecks = append(a.readyChecks, api.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}})
	a.logger.Info("redis product cache enabled", zap.String("addr", a.cfg.Cache.RedisAddr))
	return cached, runs, nil
}

func (a *App) setupPublisher(ctx context.Context) (sourcing.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, import events stay local")
		return nil, nil
	}
	client, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = gcppublisher.New(client, a.logger.Named("pubsub"))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}

func (a *App) setupProgress(
	ctx context.Context,
	reg prometheus.Registerer,
	runs sourcing.RunStore,
	publisher sourcing.Publisher,
	clock sourcing.Clock,
) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(runs, a.logger.Named("progress_store")),
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	if publisher != nil {
		pubSink, err := progresssinks.NewPublishSink(publisher, a.cfg.PubSub.TopicName, a.logger.Named("progress_publish"))
		if err != nil {
			return fmt.Errorf("publish sink init failed: %w", err)
		}
		sinkList = append(sinkList, pubSink)
	}

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		BaseContext:    ctx,
		Clock:          clock,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

// setupChains builds scrape, paid, and synthetic adapters for every family.
func (a *App) setupChains(blobs sourcing.BlobStore, rnd *random.Source) (map[sourcing.Family]fallback.Chain, error) {
	cfg := a.cfg
	rules := cfg.Rules()
	arch := archive.New(blobs, sha256.New(), cfg.Archive.Prefix, a.logger.Named("archive"))
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:        cfg.Scrape.RateLimitRPS,
		DefaultBurst:      cfg.Scrape.RateLimitBurst,
		HeadlessPerMinute: cfg.Headless.PerMinute,
	})

	var probe sourcing.Fetcher
	var headless sourcing.Fetcher
	var detect sourcing.HeadlessDetector
	if cfg.Scrape.Enabled {
		probe = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Scrape.UserAgent,
			RespectRobots: cfg.Scrape.RespectRobots,
			Timeout:       time.Duration(cfg.Scrape.TimeoutSeconds) * time.Second,
		})
		a.logger.Info("using colly probe fetcher", zap.String("user_agent", cfg.Scrape.UserAgent))
		if cfg.Headless.Enabled {
			hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
				MaxParallel:       cfg.Headless.MaxParallel,
				UserAgent:         cfg.Scrape.UserAgent,
				NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
				ScrollPasses:      cfg.Headless.ScrollPasses,
				ListingWait:       time.Duration(cfg.Headless.ListingWaitSec) * time.Second,
			})
			if err != nil {
				a.logger.Warn("headless fetcher init failed, scraping without promotion", zap.Error(err))
			} else {
				a.headless = hf
				headless = hf
				detect = detector.NewHeuristic(cfg.Headless.PromotionThresh)
				a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
			}
		}
	}

	chains := make(map[sourcing.Family]fallback.Chain, len(sourcing.Families()))
	for _, fam := range sourcing.Families() {
		var chain fallback.Chain
		if probe != nil {
			sa, err := scrape.New(scrape.Config{
				Family:    fam,
				SearchURL: cfg.SearchURL(fam),
				Markup:    rules.Multiplier(fam),
			}, scrape.Deps{
				Probe:    probe,
				Headless: headless,
				Detector: detect,
				Limiter:  limiter,
				Archive:  arch,
			}, a.logger.Named("scrape"))
			if err != nil {
				return nil, fmt.Errorf("scrape adapter %s: %w", fam, err)
			}
			chain.Scrape = sa
		}
		if cfg.PaidEnabled() {
			pa, err := paidapi.New(paidapi.Config{
				Family:  fam,
				BaseURL: cfg.PaidAPI.BaseURL,
				APIKey:  cfg.PaidAPI.APIKey,
				Timeout: time.Duration(cfg.PaidAPI.TimeoutSeconds) * time.Second,
				Markup:  rules.Multiplier(fam),
			}, paidapi.Deps{
				Retry: retry.NewExponentialPolicy(
					cfg.PaidAPI.MaxRetries,
					time.Duration(cfg.PaidAPI.BackoffInitialMs)*time.Millisecond,
					time.Duration(cfg.PaidAPI.BackoffMaxMs)*time.Millisecond,
				),
				Limiter: limiter,
				Archive: arch,
			}, a.logger.Named("paidapi"))
			if err != nil {
				return nil, fmt.Errorf("paid adapter %s: %w", fam, err)
			}
			chain.Paid = pa
		}
		chain.Synthetic = synthetic.New(synthetic.Config{
			Family:    fam,
			Markup:    rules.Multiplier(fam),
			CostMin:   cfg.Synthetic.CostMin,
			CostMax:   cfg.Synthetic.CostMax,
			ImageBase: cfg.Synthetic.ImageBase,
		}, rnd, a.logger.Named("synthetic"))
		chains[fam] = chain
	}
	return chains, nil
}
