package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/config"
	"github.com/sells-group/listing-radar/internal/dedup"
	"github.com/sells-group/listing-radar/internal/discovery"
	"github.com/sells-group/listing-radar/internal/feedback"
	"github.com/sells-group/listing-radar/internal/geo"
	"github.com/sells-group/listing-radar/internal/monitoring"
	"github.com/sells-group/listing-radar/internal/pagination"
	"github.com/sells-group/listing-radar/internal/resilience"
	"github.com/sells-group/listing-radar/internal/store"
	"github.com/sells-group/listing-radar/pkg/extractor"
)

// discoveryEnv holds everything the run/scrape/quickcheck commands need.
type discoveryEnv struct {
	Store        store.Store
	Orchestrator *discovery.Orchestrator
	Metrics      *monitoring.Metrics
	Breaker      *resilience.Breaker
	Feedback     feedback.Publisher
}

// Close releases resources held by the environment.
func (e *discoveryEnv) Close() {
	if e.Feedback != nil {
		if err := e.Feedback.Close(); err != nil {
			zap.L().Warn("close feedback publisher", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "radar.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore validates the config for mode, opens the store and migrates it.
func openStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func loadGeoFilter(path string) (*geo.Filter, error) {
	if path == "" {
		return geo.NewFilter(geo.DefaultLists()), nil
	}
	lists, err := geo.LoadLists(path)
	if err != nil {
		return nil, err
	}
	return geo.NewFilter(lists), nil
}

func dedupConfig(c config.DedupConfig) dedup.Config {
	d := dedup.DefaultConfig()
	if c.PriceTolerance > 0 {
		d.PriceTolerance = c.PriceTolerance
	}
	if c.AreaTolerance > 0 {
		d.AreaTolerance = c.AreaTolerance
	}
	if c.MinLocationSimilarity > 0 {
		d.MinLocationSimilarity = c.MinLocationSimilarity
	}
	return d
}

// discoveryConfig maps the discovery settings onto the orchestrator's.
func discoveryConfig(c *config.Config) discovery.Config {
	d := c.Discovery
	retry := resilience.NewPolicy(d.RetryAttempts, d.RetryBackoffMs)
	pause := resilience.NewPause(d.DelayMinMs, d.DelayMaxMs)
	return discovery.Config{
		Categories: d.Categories,
		Paging: pagination.Config{
			MaxSafetyPages: d.MaxSafetyPages,
			BaselinePages:  d.BaselinePages,
			Retry:          retry,
			Pause:          pause,
		},
		DetailRetry: retry,
		DetailPause: pause,
		Dedup:       dedupConfig(c.Dedup),
	}
}

// initDiscovery builds the orchestrator and its collaborators. Callers
// should defer env.Close().
func initDiscovery(ctx context.Context, mode string) (*discoveryEnv, error) {
	st, err := openStore(ctx, mode)
	if err != nil {
		return nil, err
	}
	env := &discoveryEnv{Store: st, Metrics: monitoring.NewMetrics()}

	filter, err := loadGeoFilter(cfg.Geo.ListsFile)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Breaker = resilience.NewBreaker(resilience.BreakerConfig{
		Threshold: cfg.Extractor.BreakerThreshold,
		Cooldown:  time.Duration(cfg.Extractor.BreakerCooldownSecs) * time.Second,
		OnChange: func(from, to resilience.BreakerState) {
			env.Metrics.SetBreakerState(float64(to))
			zap.L().Warn("extractor breaker state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	client := extractor.NewClient(
		extractor.WithBaseURL(cfg.Extractor.BaseURL),
		extractor.WithTimeout(time.Duration(cfg.Extractor.TimeoutSecs)*time.Second),
		extractor.WithRateLimit(cfg.Extractor.RateLimit),
		extractor.WithSource(cfg.Extractor.Source),
		extractor.WithBreaker(env.Breaker),
	)

	env.Feedback = feedback.New(
		cfg.Feedback.Brokers,
		cfg.Feedback.Topic,
		st,
		time.Duration(cfg.Feedback.ModelCacheTTLSecs)*time.Second,
	)
	if len(cfg.Feedback.Brokers) == 0 {
		zap.L().Debug("feedback.brokers not set, score feedback disabled")
	}

	env.Orchestrator = discovery.NewOrchestrator(discovery.Deps{
		Oracle:   client,
		Store:    st,
		Geo:      filter,
		Feedback: env.Feedback,
	}, discoveryConfig(cfg))

	env.Orchestrator.Events().OnProgress(func(msg string) {
		zap.L().Debug("discovery progress", zap.String("message", msg))
	})
	env.Orchestrator.Events().OnPhone(func(e discovery.PhoneEvent) {
		zap.L().Info("listing phone found", zap.String("url", e.URL))
	})

	return env, nil
}
