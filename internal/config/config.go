// Package config loads and validates sourcer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-product-sourcing/internal/pricing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Sourcing  SourcingConfig  `mapstructure:"sourcing"`
	Markup    MarkupConfig    `mapstructure:"markup"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	PaidAPI   PaidAPIConfig   `mapstructure:"paid_api"`
	Synthetic SyntheticConfig `mapstructure:"synthetic"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Seed      uint64          `mapstructure:"seed"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CategoryConfig names a category and the keywords searched for it.
// Categories are a list rather than a map because Viper lowercases map keys.
type CategoryConfig struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
}

// SourcingConfig governs the run coordinator, queue, and workers.
type SourcingConfig struct {
	Categories              []CategoryConfig `mapstructure:"categories"`
	PerKeywordLimit         int              `mapstructure:"per_keyword_limit"`
	LogCapacity             int              `mapstructure:"log_capacity"`
	RotateCategories        bool             `mapstructure:"rotate_categories"`
	RecentCategories        int              `mapstructure:"recent_categories"`
	LastProductsLimit       int              `mapstructure:"last_products_limit"`
	QueueDepth              int              `mapstructure:"queue_depth"`
	Workers                 int              `mapstructure:"workers"`
	ScheduleIntervalSeconds int              `mapstructure:"schedule_interval_seconds"`
	RunTimeoutSeconds       int              `mapstructure:"run_timeout_seconds"`
}

// MarkupConfig holds the cost-to-resale multiplier per family.
type MarkupConfig struct {
	Amazon     float64 `mapstructure:"amazon"`
	AliExpress float64 `mapstructure:"aliexpress"`
	Ebay       float64 `mapstructure:"ebay"`
}

// ScrapeConfig configures the HTML scrape tier.
type ScrapeConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	UserAgent      string            `mapstructure:"user_agent"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	RespectRobots  bool              `mapstructure:"respect_robots"`
	RateLimitRPS   float64           `mapstructure:"rate_limit_rps"`
	RateLimitBurst int               `mapstructure:"rate_limit_burst"`
	SearchURLs     map[string]string `mapstructure:"search_urls"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	MaxParallel     int     `mapstructure:"max_parallel"`
	NavTimeoutSec   int     `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int     `mapstructure:"promotion_threshold"`
	PerMinute       float64 `mapstructure:"per_minute"`
	ScrollPasses    int     `mapstructure:"scroll_passes"`
	ListingWaitSec  int     `mapstructure:"listing_wait_seconds"`
}

// PaidAPIConfig configures the paid product-data tier. An empty key disables it.
type PaidAPIConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// SyntheticConfig bounds generated listings.
type SyntheticConfig struct {
	CostMin   float64 `mapstructure:"cost_min"`
	CostMax   float64 `mapstructure:"cost_max"`
	ImageBase string  `mapstructure:"image_base"`
}

// StorageConfig selects the product and run store backend.
type StorageConfig struct {
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// CacheConfig enables the Redis lookup cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
	Prefix        string `mapstructure:"prefix"`
}

// ArchiveConfig selects where raw upstream payloads are kept.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Dir       string `mapstructure:"dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig names the service on emitted trace spans.
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOURCER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultCategories is the stock category table.
func DefaultCategories() []CategoryConfig {
	return []CategoryConfig{
		{Name: "Beauty", Keywords: []string{"face serum", "makeup brush set", "hair dryer"}},
		{Name: "Fitness", Keywords: []string{"yoga mat", "resistance bands", "water bottle"}},
		{Name: "Home", Keywords: []string{"led desk lamp", "kitchen gadget", "storage organizer"}},
		{Name: "Pets", Keywords: []string{"dog chew toy", "cat bed"}},
		{Name: "Tech", Keywords: []string{"smartphone", "wireless earbuds", "smart watch"}},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("sourcing.categories", categoriesDefault())
	v.SetDefault("sourcing.per_keyword_limit", 10)
	v.SetDefault("sourcing.log_capacity", 50)
	v.SetDefault("sourcing.rotate_categories", false)
	v.SetDefault("sourcing.recent_categories", 3)
	v.SetDefault("sourcing.last_products_limit", 20)
	v.SetDefault("sourcing.queue_depth", 16)
	v.SetDefault("sourcing.workers", 2)
	v.SetDefault("sourcing.schedule_interval_seconds", 0)
	v.SetDefault("sourcing.run_timeout_seconds", 600)
	v.SetDefault("markup.amazon", 1.30)
	v.SetDefault("markup.aliexpress", 1.50)
	v.SetDefault("markup.ebay", 1.20)
	v.SetDefault("scrape.enabled", true)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("scrape.timeout_seconds", 15)
	v.SetDefault("scrape.respect_robots", false)
	v.SetDefault("scrape.rate_limit_rps", 0.5)
	v.SetDefault("scrape.rate_limit_burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("headless.per_minute", 6)
	v.SetDefault("headless.scroll_passes", 2)
	v.SetDefault("headless.listing_wait_seconds", 8)
	v.SetDefault("paid_api.base_url", "https://api.rainforestapi.com/request")
	v.SetDefault("paid_api.timeout_seconds", 20)
	v.SetDefault("paid_api.max_retries", 3)
	v.SetDefault("paid_api.backoff_initial_ms", 500)
	v.SetDefault("paid_api.backoff_max_ms", 8000)
	v.SetDefault("synthetic.cost_min", 5)
	v.SetDefault("synthetic.cost_max", 100)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.max_conns", 8)
	v.SetDefault("storage.min_conns", 1)
	v.SetDefault("storage.migrate_on_start", true)
	v.SetDefault("cache.ttl_seconds", 600)
	v.SetDefault("cache.prefix", "sourcer")
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.dir", "./archive")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "product-sourcer")
	v.SetDefault("telemetry.service_version", "dev")

	// AutomaticEnv only resolves keys Viper already knows about.
	for _, key := range []string{
		"auth.enabled", "auth.api_key", "paid_api.api_key", "storage.dsn",
		"cache.redis_addr", "cache.redis_password", "cache.redis_db",
		"archive.gcs_bucket", "pubsub.project_id", "pubsub.topic_name", "seed",
	} {
		if !v.IsSet(key) {
			v.SetDefault(key, "")
		}
	}
}

func categoriesDefault() []map[string]any {
	cats := DefaultCategories()
	out := make([]map[string]any, 0, len(cats))
	for _, c := range cats {
		out = append(out, map[string]any{"name": c.Name, "keywords": c.Keywords})
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Sourcing.Categories) == 0 {
		return fmt.Errorf("sourcing.categories must not be empty")
	}
	seen := make(map[string]bool, len(c.Sourcing.Categories))
	for _, cat := range c.Sourcing.Categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			return fmt.Errorf("sourcing.categories: name is required")
		}
		if seen[name] {
			return fmt.Errorf("sourcing.categories: duplicate %q", name)
		}
		seen[name] = true
		if len(cat.Keywords) == 0 {
			return fmt.Errorf("sourcing.categories: %q needs keywords", name)
		}
	}
	if c.Sourcing.Workers <= 0 {
		return fmt.Errorf("sourcing.workers must be > 0")
	}
	if c.Sourcing.QueueDepth <= 0 {
		return fmt.Errorf("sourcing.queue_depth must be > 0")
	}
	if c.Sourcing.PerKeywordLimit <= 0 {
		return fmt.Errorf("sourcing.per_keyword_limit must be > 0")
	}
	if c.Sourcing.ScheduleIntervalSeconds < 0 {
		return fmt.Errorf("sourcing.schedule_interval_seconds must be >= 0")
	}
	if c.Markup.Amazon <= 0 || c.Markup.AliExpress <= 0 || c.Markup.Ebay <= 0 {
		return fmt.Errorf("markup multipliers must be > 0")
	}
	if c.Scrape.Enabled && c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	for key := range c.Scrape.SearchURLs {
		if _, err := c.familyKey(key); err != nil {
			return fmt.Errorf("scrape.search_urls: %w", err)
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.PaidAPI.APIKey != "" && c.PaidAPI.BaseURL == "" {
		return fmt.Errorf("paid_api.base_url must be set when paid_api.api_key is set")
	}
	if c.Synthetic.CostMax < c.Synthetic.CostMin {
		return fmt.Errorf("synthetic.cost_max must be >= synthetic.cost_min")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Archive.Driver {
	case "", "none", "memory":
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local driver")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CategoryMap converts the category list into the coordinator's lookup table.
func (c Config) CategoryMap() map[string][]string {
	out := make(map[string][]string, len(c.Sourcing.Categories))
	for _, cat := range c.Sourcing.Categories {
		out[strings.TrimSpace(cat.Name)] = append([]string(nil), cat.Keywords...)
	}
	return out
}

// Rules builds the markup table.
func (c Config) Rules() pricing.Rules {
	return pricing.Rules{
		sourcing.FamilyAmazon:     c.Markup.Amazon,
		sourcing.FamilyAliExpress: c.Markup.AliExpress,
		sourcing.FamilyEbay:       c.Markup.Ebay,
	}
}

// SearchURL returns the configured scrape URL override for f, if any.
func (c Config) SearchURL(f sourcing.Family) string {
	for key, u := range c.Scrape.SearchURLs {
		if fam, err := c.familyKey(key); err == nil && fam == f {
			return u
		}
	}
	return ""
}

// Viper lowercases map keys, so family names are matched case-insensitively.
func (c Config) familyKey(key string) (sourcing.Family, error) {
	for _, f := range sourcing.Families() {
		if strings.EqualFold(string(f), key) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %s", sourcing.ErrUnknownFamily, key)
}

// PaidEnabled reports whether the paid tier participates in the chain.
func (c Config) PaidEnabled() bool {
	return strings.TrimSpace(c.PaidAPI.APIKey) != ""
}

// ScheduleInterval converts the scheduler interval to a duration.
func (c Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Sourcing.ScheduleIntervalSeconds) * time.Second
}

// RunTimeout bounds a single run.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Sourcing.RunTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
