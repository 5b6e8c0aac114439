package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/haukened/rr-pulse/internal/pulse/common/clock"
	"github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/config"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
	"github.com/haukened/rr-pulse/internal/pulse/gateways/hostapi"
	"github.com/haukened/rr-pulse/internal/pulse/infra/metrics"
	"github.com/haukened/rr-pulse/internal/pulse/repos/hostcache"
	"github.com/haukened/rr-pulse/internal/pulse/repos/rules"
	"github.com/haukened/rr-pulse/internal/pulse/repos/rules/bloom"
	"github.com/haukened/rr-pulse/internal/pulse/repos/whitelist/bolt"
	"github.com/haukened/rr-pulse/internal/pulse/services/classifier"
	"github.com/haukened/rr-pulse/internal/pulse/services/engine"
	"github.com/haukened/rr-pulse/internal/pulse/services/rewriter"
	"github.com/haukened/rr-pulse/internal/pulse/services/stats"
	"github.com/haukened/rr-pulse/internal/pulse/services/whitelist"
)

// Application holds all the components of the filter daemon
type Application struct {
	config    *config.AppConfig
	server    *hostapi.Server
	engine    *engine.Engine
	whitelist *whitelist.Manager
	metrics   *metrics.Metrics
	repos     *repositories
	stats     *stats.Aggregator
	rewriter  *rewriter.Service
	logger    log.Logger

	closeOnce sync.Once
	closeErr  error
}

// repositories holds all repository implementations
type repositories struct {
	loader      *rules.Loader
	store       *rules.Store
	hostCache   *hostcache.Cache
	whitelistDB *bolt.Store
}

// newRulesLoader selects the rules file, or the built-in rules when none is configured.
func newRulesLoader(cfg *config.AppConfig, logger log.Logger) *rules.Loader {
	if cfg.Rules.File == "" {
		return rules.NewDefaultLoader(logger)
	}
	return rules.NewFileLoader(cfg.Rules.File, logger)
}

// loadRules loads a rule set. An empty rule set is not fatal: the filter then
// allows everything until rules appear.
func loadRules(loader *rules.Loader, logger log.Logger) (domain.RuleSet, error) {
	rs, err := loader.Load()
	if errors.Is(err, domain.ErrConfigurationMissing) {
		logger.Error(map[string]any{"rules": loader.Name(), "error": err.Error()}, "No filtering rules loaded; all requests will be allowed")
		return rs, nil
	}
	if err != nil {
		return domain.RuleSet{}, fmt.Errorf("%w: %w", ErrRules, err)
	}
	return rs, nil
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := &clock.RealClock{}
	logger := log.GetLogger()
	m := metrics.New()

	repos, err := buildRepositories(cfg, m, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	wl := whitelist.New(whitelist.Options{
		Publisher: repos.store,
		Store:     repos.whitelistDB,
		Logger:    logger,
	})

	agg := stats.New(stats.Options{
		Interval:   cfg.Stats.Interval,
		KBPerBlock: cfg.Stats.KBPerBlock,
		Clock:      clk,
		Logger:     logger,
	})

	rw, err := rewriter.New(rewriter.Options{
		MaxBodyBytes: cfg.Responses.MaxBodyBytes,
		Logger:       logger,
	})
	if err != nil {
		agg.Close()
		_ = repos.whitelistDB.Close()
		return nil, fmt.Errorf("failed to build rewriter: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Rules: repos.store,
		Classifier: classifier.New(classifier.Options{
			MissingReferrer: classifier.ReferrerPolicy(cfg.Classifier.MissingReferrer),
			FirstPartyMode:  classifier.FirstPartyMode(cfg.Classifier.FirstPartyMode),
			Cache:           repos.hostCache,
			Logger:          logger,
		}),
		Stats:    agg,
		Rewriter: rw,
		Observer: m,
		Headers: engine.HeaderOptions{
			UserAgent:     cfg.Headers.UserAgent,
			ChromeVersion: cfg.Headers.ChromeVersion,
			DoNotTrack:    cfg.Headers.DoNotTrack,
		},
		Enabled:     cfg.Enabled,
		PendingSize: cfg.Responses.PendingSize,
		PendingTTL:  cfg.Responses.PendingTTL,
		Logger:      logger,
	})
	if err != nil {
		agg.Close()
		_ = rw.Close()
		_ = repos.whitelistDB.Close()
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}
	m.ObserveEnabled(cfg.Enabled)

	server, err := hostapi.New(hostapi.Options{
		Addr:           cfg.API.Listen,
		Hooks:          eng,
		Whitelist:      wl,
		Recorder:       m,
		MetricsHandler: m.Handler(),
		StreamBuffer:   cfg.Stats.SubscriberBuffer,
		Logger:         logger,
	})
	if err != nil {
		agg.Close()
		_ = rw.Close()
		_ = repos.whitelistDB.Close()
		return nil, fmt.Errorf("failed to build host API: %w", err)
	}

	return &Application{
		config:    cfg,
		server:    server,
		engine:    eng,
		whitelist: wl,
		metrics:   m,
		repos:     repos,
		stats:     agg,
		rewriter:  rw,
		logger:    logger,
	}, nil
}

// buildRepositories creates and configures all repository implementations
func buildRepositories(cfg *config.AppConfig, m *metrics.Metrics, logger log.Logger) (*repositories, error) {
	loader := newRulesLoader(cfg, logger)
	rs, err := loadRules(loader, logger)
	if err != nil {
		return nil, err
	}

	store := rules.NewStore(rs, nil, rules.StoreOptions{
		Bloom:       bloom.NewFactory(),
		BloomFPRate: cfg.Classifier.BloomFPRate,
		Logger:      logger,
		OnPublish:   m.ObserveSnapshot,
	})

	cache, err := hostcache.New(cfg.Classifier.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create host cache: %w", err)
	}
	log.Info(map[string]any{
		"type": "LRU",
		"size": cfg.Classifier.CacheSize,
	}, "Host match cache configured")

	db, err := bolt.New(cfg.Whitelist.DB, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrWhitelistDB, cfg.Whitelist.DB, err)
	}

	return &repositories{
		loader:      loader,
		store:       store,
		hostCache:   cache,
		whitelistDB: db,
	}, nil
}

// reloadRules reloads the rules file and publishes the result. A failed or
// empty load keeps the current rules; editors often truncate before writing.
func (app *Application) reloadRules(watchErr error) {
	if watchErr != nil {
		app.logger.Warn(map[string]any{"error": watchErr.Error()}, "Rules watch error")
		return
	}
	rs, err := app.repos.loader.Load()
	if errors.Is(err, domain.ErrConfigurationMissing) {
		app.logger.Warn(map[string]any{"error": err.Error()}, "Reloaded rules are empty; keeping current rules")
		return
	}
	if err != nil {
		app.logger.Error(map[string]any{"error": err.Error()}, "Rules reload failed; keeping current rules")
		return
	}
	app.repos.hostCache.Purge()
	app.repos.store.Reload(rs)
}

// Run starts the host API and blocks until ctx is cancelled
func (app *Application) Run(ctx context.Context) error {
	if err := app.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start host API: %w", err)
	}

	if app.config.Rules.Watch && app.config.Rules.File != "" {
		if err := app.repos.loader.Watch(app.reloadRules); err != nil {
			app.logger.Warn(map[string]any{"error": err.Error()}, "Rules watch unavailable")
		} else {
			app.logger.Info(map[string]any{"file": app.config.Rules.File}, "Watching rules file")
		}
	}

	log.Info(map[string]any{
		"address": app.server.Address(),
		"enabled": app.engine.Enabled(),
	}, "Filter daemon started")

	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- multierr.Append(app.server.Stop(), app.Close())
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Errors during shutdown")
		}
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}

// Close releases every component holding resources. It is safe to call more than once.
func (app *Application) Close() error {
	app.closeOnce.Do(func() {
		app.stats.Close()
		app.closeErr = multierr.Combine(
			app.rewriter.Close(),
			app.repos.whitelistDB.Close(),
		)
	})
	return app.closeErr
}
