package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Extractor  ExtractorConfig  `yaml:"extractor" mapstructure:"extractor"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Geo        GeoConfig        `yaml:"geo" mapstructure:"geo"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Feedback   FeedbackConfig   `yaml:"feedback" mapstructure:"feedback"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DiscoveryConfig configures the scrape cadences and pagination.
type DiscoveryConfig struct {
	QuickCheckIntervalMinutes int      `yaml:"quick_check_interval_minutes" mapstructure:"quick_check_interval_minutes"`
	FullScrapeIntervalMinutes int      `yaml:"full_scrape_interval_minutes" mapstructure:"full_scrape_interval_minutes"`
	MaxSafetyPages            int      `yaml:"max_safety_pages" mapstructure:"max_safety_pages"`
	BaselinePages             int      `yaml:"baseline_pages" mapstructure:"baseline_pages"`
	Categories                []string `yaml:"categories" mapstructure:"categories"`
	QuickCheckCategory        string   `yaml:"quick_check_category" mapstructure:"quick_check_category"`
	ScrapeOnStart             bool     `yaml:"scrape_on_start" mapstructure:"scrape_on_start"`
	DelayMinMs                int      `yaml:"delay_min_ms" mapstructure:"delay_min_ms"`
	DelayMaxMs                int      `yaml:"delay_max_ms" mapstructure:"delay_max_ms"`
	RetryAttempts             int      `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs            int      `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// QuickCheckInterval returns the quick check cadence.
func (d DiscoveryConfig) QuickCheckInterval() time.Duration {
	return time.Duration(d.QuickCheckIntervalMinutes) * time.Minute
}

// FullScrapeInterval returns the full scrape cadence.
func (d DiscoveryConfig) FullScrapeInterval() time.Duration {
	return time.Duration(d.FullScrapeIntervalMinutes) * time.Minute
}

// ExtractorConfig configures the marketplace extraction service client.
type ExtractorConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Source      string  `yaml:"source" mapstructure:"source"`
	// BreakerThreshold consecutive transient failures open the breaker for
	// BreakerCooldownSecs.
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GeoConfig points at the location whitelist/blacklist file. Empty uses the
// built-in lists.
type GeoConfig struct {
	ListsFile string `yaml:"lists_file" mapstructure:"lists_file"`
}

// DedupConfig holds cross-portal duplicate thresholds.
type DedupConfig struct {
	PriceTolerance        float64 `yaml:"price_tolerance" mapstructure:"price_tolerance"`
	AreaTolerance         float64 `yaml:"area_tolerance" mapstructure:"area_tolerance"`
	MinLocationSimilarity float64 `yaml:"min_location_similarity" mapstructure:"min_location_similarity"`
}

// FeedbackConfig configures the score feedback topic. No brokers disables
// publishing.
type FeedbackConfig struct {
	Brokers           []string `yaml:"brokers" mapstructure:"brokers"`
	Topic             string   `yaml:"topic" mapstructure:"topic"`
	ModelCacheTTLSecs int      `yaml:"model_cache_ttl_secs" mapstructure:"model_cache_ttl_secs"`
}

// MonitoringConfig configures cycle alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	PageFailureThreshold float64 `yaml:"page_failure_threshold" mapstructure:"page_failure_threshold"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("discovery.quick_check_interval_minutes", 2)
	v.SetDefault("discovery.full_scrape_interval_minutes", 30)
	v.SetDefault("discovery.max_safety_pages", 20)
	v.SetDefault("discovery.baseline_pages", 5)
	v.SetDefault("discovery.categories", []string{"land", "houses"})
	v.SetDefault("discovery.quick_check_category", "land")
	v.SetDefault("discovery.scrape_on_start", true)
	v.SetDefault("discovery.delay_min_ms", 800)
	v.SetDefault("discovery.delay_max_ms", 2500)
	v.SetDefault("discovery.retry_attempts", 3)
	v.SetDefault("discovery.retry_backoff_ms", 1000)
	v.SetDefault("extractor.base_url", "http://localhost:8090")
	v.SetDefault("extractor.timeout_secs", 30)
	v.SetDefault("extractor.rate_limit", 1.0)
	v.SetDefault("extractor.source", "willhaben")
	v.SetDefault("extractor.breaker_threshold", 5)
	v.SetDefault("extractor.breaker_cooldown_secs", 60)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("geo.lists_file", "")
	v.SetDefault("dedup.price_tolerance", 0.10)
	v.SetDefault("dedup.area_tolerance", 0.10)
	v.SetDefault("dedup.min_location_similarity", 0.7)
	v.SetDefault("feedback.brokers", []string{})
	v.SetDefault("feedback.topic", "listing-score-feedback")
	v.SetDefault("feedback.model_cache_ttl_secs", 300)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.page_failure_threshold", 0.25)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Discovery.Categories = splitList(cfg.Discovery.Categories)
	cfg.Feedback.Brokers = splitList(cfg.Feedback.Brokers)
	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)

	return &cfg, nil
}

// splitList flattens comma-separated entries, which is how list values
// arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the settings the given command needs. All problems are
// reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	switch mode {
	case "run", "scrape", "quickcheck":
		d := c.Discovery
		if c.Extractor.BaseURL == "" {
			errs = append(errs, "extractor.base_url is required")
		}
		if len(d.Categories) == 0 {
			errs = append(errs, "discovery.categories must not be empty")
		}
		if d.MaxSafetyPages <= 0 {
			errs = append(errs, "discovery.max_safety_pages must be positive")
		}
		if d.BaselinePages <= 0 {
			errs = append(errs, "discovery.baseline_pages must be positive")
		}
		if d.DelayMaxMs < d.DelayMinMs {
			errs = append(errs, "discovery.delay_max_ms must not be below discovery.delay_min_ms")
		}
		if mode == "run" {
			if d.QuickCheckIntervalMinutes <= 0 || d.FullScrapeIntervalMinutes <= 0 {
				errs = append(errs, "discovery intervals must be positive")
			}
			if c.Server.Port <= 0 || c.Server.Port > 65535 {
				errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
			}
		}
	}

	if t := c.Monitoring.PageFailureThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Sprintf("monitoring.page_failure_threshold must be between 0 and 1, got %g", t))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
