package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"folio/api/internal/app"
	"folio/api/internal/config"
	"folio/api/internal/export"
	"folio/api/internal/gitrepo"
	"folio/api/internal/metrics"
	"folio/api/internal/pagecache"
	"folio/api/internal/search"
	"folio/api/internal/store"
	"folio/api/internal/vcs"
)

// runtime owns the process-wide dependencies shared by the commands.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.SQLStore
	engine  *vcs.Engine
	metrics *metrics.Metrics
	cache   *pagecache.RedisCache
	meili   *search.Meili
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.ConfigPath != "" {
		return config.LoadFrom(opts.ConfigPath)
	}
	return config.Load()
}

// openRuntime connects to the database, applies migrations and builds the
// engine. Redis is only dialed when configured.
func openRuntime(ctx context.Context, opts *RootOptions, logOut io.Writer) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(logOut)

	db, dialect, err := store.OpenURL(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store.New(db, dialect),
		metrics: metrics.New(),
	}
	engineOpts := []vcs.Option{
		vcs.WithLogger(logger),
		vcs.WithMaxChainDepth(cfg.MaxChainDepth),
		vcs.WithObserver(rt.metrics),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := pagecache.NewRedisCache(cfg.RedisURL, cfg.SnapshotTTL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.cache = cache
		engineOpts = append(engineOpts, vcs.WithSnapshotCache(cache))
		logger.Info("page snapshot cache enabled", "ttl", cfg.SnapshotTTL)
	}
	rt.engine = vcs.New(rt.store, engineOpts...)
	return rt, nil
}

// service assembles the application service. Meilisearch is attached when
// withIndex is set and a URL is configured.
func (rt *runtime) service(withIndex bool) (*app.Service, error) {
	if err := os.MkdirAll(rt.cfg.ReposDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repos dir: %w", err)
	}
	var index search.Index
	if withIndex && strings.TrimSpace(rt.cfg.MeiliURL) != "" {
		rt.meili = search.NewMeili(rt.cfg.MeiliURL, rt.cfg.MeiliMasterKey, rt.logger)
		index = rt.meili
	}
	return app.New(rt.cfg, app.Deps{
		Engine:   rt.engine,
		Members:  rt.store,
		Search:   search.NewService(index, rt.engine, rt.logger),
		Mirror:   gitrepo.New(rt.cfg.ReposDir),
		Exporter: export.NewService(),
		Metrics:  rt.metrics,
		Logger:   rt.logger,
	}), nil
}

func (rt *runtime) Close() {
	if rt.meili != nil {
		rt.meili.Close()
	}
	if rt.cache != nil {
		_ = rt.cache.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
