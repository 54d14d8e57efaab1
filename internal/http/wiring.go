package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/parking-prices/internal/config"
	"github.com/example/parking-prices/internal/coverage"
	"github.com/example/parking-prices/internal/feed"
	"github.com/example/parking-prices/internal/geo"
	"github.com/example/parking-prices/internal/lookup"
	"github.com/example/parking-prices/internal/places"
	"github.com/example/parking-prices/internal/reconcile"
	"github.com/example/parking-prices/internal/storage"
)

// NewServerFromConfig wires the service with fallbacks: without Redis the
// coverage index lives in memory, without Postgres so do the locations.
// The returned func releases every connection it opened.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) (*Server, func() error) {
	var (
		closers []func() error
		checks  []func(context.Context) error
	)

	var index geo.Index
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rc.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis_unavailable_using_memory_coverage", "addr", cfg.RedisAddr, "error", err)
			_ = rc.Close()
		} else {
			index = geo.NewRedisIndex(rc, cfg.RedisCoverageKey)
			closers = append(closers, rc.Close)
			checks = append(checks, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
		}
	}
	if index == nil {
		index = geo.NewMemIndex()
	}

	var store storage.LocationStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres_unavailable_using_memory_store", "error", err)
		} else {
			store = ps
			closers = append(closers, ps.Close)
			checks = append(checks, func(ctx context.Context) error { return ps.DB().PingContext(ctx) })
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	cov := coverage.NewStore(index)
	hub := feed.NewHub(logger)
	closers = append(closers, func() error { hub.Close(); return nil })

	if cfg.PlacesAPIKey == "" {
		logger.Warn("places_api_key_missing", "effect", "uncovered areas return stored locations only")
	}
	svc := &lookup.Service{
		Coverage: cov,
		Places: &places.Adapter{
			Search:   places.NewClient(cfg.PlacesEndpoint, cfg.PlacesAPIKey, cfg.PlacesMaxResults, cfg.PlacesTimeout),
			Coverage: cov,
			Timeout:  cfg.PlacesTimeout,
			Logger:   logger,
		},
		Store:         store,
		Engine:        reconcile.NewEngine(cfg.MergeDistanceM),
		Upserter:      &storage.Upserter{Store: store, Concurrency: cfg.UpsertConcurrency, Logger: logger},
		Notifier:      hub,
		DefaultRadius: cfg.DefaultRadiusM,
		MaxRadius:     cfg.MaxRadiusM,
		Logger:        logger,
	}

	s := NewServer(svc, hub, logger)
	s.Ready = func(r *http.Request) error {
		var errs []error
		for _, check := range checks {
			errs = append(errs, check(r.Context()))
		}
		return errors.Join(errs...)
	}
	return s, func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
}
