package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/config"
	"github.com/sells-group/lead-engine/internal/db"
	"github.com/sells-group/lead-engine/internal/dispatch"
	"github.com/sells-group/lead-engine/internal/importer"
	"github.com/sells-group/lead-engine/internal/ingest"
	"github.com/sells-group/lead-engine/internal/lock"
	"github.com/sells-group/lead-engine/internal/match"
	"github.com/sells-group/lead-engine/internal/merge"
	"github.com/sells-group/lead-engine/internal/metrics"
	"github.com/sells-group/lead-engine/internal/resilience"
	"github.com/sells-group/lead-engine/internal/store"
)

// engineEnv holds the store and every service built on it.
type engineEnv struct {
	Store      store.Store
	Redis      *redis.Client // may be nil
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Resolver   *match.Resolver
	Merger     *merge.Consolidator
	Dispatcher *dispatch.Dispatcher
	Ingest     *ingest.Service
	Importer   *importer.Importer
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured backend, retrying transient connect
// failures.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	retry := resilience.FromConfig(c.Retry)
	retry.OnRetry = resilience.RetryLogger("store connect")

	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "leads.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (store.Store, error) {
			st, err := store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
				MaxConns: c.Store.MaxConns,
				MinConns: c.Store.MinConns,
			})
			if err != nil {
				return nil, err
			}
			return st, nil
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initRedis connects to Redis when a URL is configured.
func initRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "ping redis")
	}
	return client, nil
}

// newLocker picks the merge lock backend: Redis, then Postgres advisory
// locks, then an in-process table.
func newLocker(client *redis.Client, st store.Store) lock.Locker {
	var pool db.Pool
	if pg, ok := st.(*store.PostgresStore); ok {
		pool = pg.Pool()
	}
	return lock.NewLocker(client, pool)
}

// initEnv validates cfg for mode, opens the store and builds the services.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rdb, err := initRedis(ctx, cfg.Redis.URL)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	env := &engineEnv{Store: st, Redis: rdb, Registry: prometheus.NewRegistry()}
	env.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	env.Metrics = metrics.New(env.Registry)

	env.Resolver = match.NewResolver(st, cfg.Match)
	env.Merger = merge.NewConsolidator(st, newLocker(rdb, st), cfg.Merge, env.Metrics)
	env.Dispatcher = dispatch.New(st, cfg.Dispatch, env.Metrics)
	env.Ingest = ingest.NewService(st, env.Resolver, env.Merger, env.Dispatcher, cfg.Scoring, env.Metrics)
	env.Importer = importer.New(st, env.Ingest)

	zap.L().Debug("engine initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", rdb != nil),
	)
	return env, nil
}
