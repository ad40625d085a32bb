package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aevon-lab/matchstats/internal/aggregation"
	"github.com/aevon-lab/matchstats/internal/batch"
	"github.com/aevon-lab/matchstats/internal/cache"
	corecfg "github.com/aevon-lab/matchstats/internal/core/config"
	"github.com/aevon-lab/matchstats/internal/core/storage/postgres"
	"github.com/aevon-lab/matchstats/internal/fallback"
	"github.com/aevon-lab/matchstats/internal/migrations"
	"github.com/aevon-lab/matchstats/internal/projection"
	"github.com/aevon-lab/matchstats/internal/server"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "matchstats.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	if err := dbAdapter.ValidateSchema(ctx); err != nil {
		slog.Error("Database schema is not usable", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Response Cache (Redis, fail-open)
	respCache, closeCache := newResponseCache(ctx, cfg)
	defer closeCache()

	// 4. Initialize Snapshot Persistence
	var snapshotStore aggregation.SnapshotStore = aggregation.NewMemorySnapshotStore()
	if cfg.Aggregation.PersistSnapshots {
		mutator := batch.NewMutator(postgres.NewSnapshotRecordsExecutor(dbAdapter.DB()), batch.Options{
			ChunkSize:   cfg.Batch.ChunkSize,
			MaxAttempts: cfg.Batch.MaxAttempts,
			BackoffBase: cfg.Batch.BackoffBase,
			BackoffMax:  cfg.Batch.BackoffMax,
		})
		snapshotStore = postgres.NewSnapshotAdapter(dbAdapter.DB(), mutator)
	} else {
		slog.Info("Snapshot persistence disabled by config, snapshots live in memory only")
	}

	// 5. Initialize Aggregate Store and Refresh Scheduler
	store := aggregation.NewStore(dbAdapter, snapshotStore, nil, aggregation.StoreOptions{
		MinGames:       cfg.Aggregation.MinGames,
		RankWindow:     cfg.Aggregation.RankWindow,
		RebuildTimeout: cfg.Aggregation.RebuildTimeout,
		AllowDiskSpill: cfg.Aggregation.AllowDiskSpill,
	})
	if err := store.Warm(ctx); err != nil {
		slog.Warn("Failed to warm snapshots, serving through live fallback until first refresh", "error", err)
	}

	scheduler := aggregation.NewScheduler(store, dbAdapter, nil, aggregation.SchedulerOptions{
		Interval:     cfg.Refresh.Interval,
		InitialDelay: cfg.Refresh.InitialDelay,
		StaleAfter:   cfg.Refresh.StaleAfter,
		Parallelism:  cfg.Refresh.Parallelism,
		Window:       cfg.Aggregation.RankWindow,
		ReadTimeout:  cfg.Refresh.ReadTimeout,
	})

	// 6. Initialize Fallback Chain
	defaults, err := fallback.LoadDefaults(cfg.Fallback.DefaultsPath)
	if err != nil {
		slog.Error("Failed to load degraded defaults", "path", cfg.Fallback.DefaultsPath, "error", err)
		os.Exit(1)
	}
	ttls := cache.TTLs{
		Short:    cfg.Cache.TTLShort,
		Long:     cfg.Cache.TTLLong,
		Degraded: cfg.Cache.TTLDegraded,
	}
	chain := fallback.NewChain(respCache, store, defaults, nil, fallback.Options{
		SnapshotTimeout: cfg.Fallback.SnapshotTimeout,
		LiveTimeout:     cfg.Fallback.LiveTimeout,
		SourceCooldown:  cfg.Fallback.SourceCooldown,
		TTLs:            ttls,
	})

	// 7. Initialize Projection (query API)
	projectionSvc := projection.NewService(chain, scheduler, store, respCache, ttls.Short)

	// 8. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode, respCache)
	projectionSvc.RegisterRoutes(srv.Engine)

	// 9. Start Services
	schedulerDone := make(chan struct{})
	if cfg.Refresh.Enabled {
		go func() {
			defer close(schedulerDone)
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Scheduler stopped with error", "error", err)
			}
		}()
	} else {
		close(schedulerDone)
		slog.Info("Refresh scheduler disabled by config, manual refreshes only")
	}

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	scheduler.Stop()
	<-schedulerDone
	scheduler.Wait()

	slog.Info("Shutdown complete")
}

// newResponseCache builds the request cache. With the cache disabled it has no
// remote tier and every lookup is a miss.
func newResponseCache(ctx context.Context, cfg *corecfg.Config) (*cache.RequestCache, func()) {
	opts := cache.Options{
		KeyPrefix: cfg.Cache.KeyPrefix,
		OpTimeout: cfg.Redis.OpTimeout,
		LocalSize: cfg.Cache.LocalSize,
		LocalTTL:  cfg.Cache.LocalTTL,
	}
	if !cfg.Cache.Enabled {
		slog.Info("Response cache disabled by config")
		return cache.New(nil, nil, opts), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
		MaxRetries:  -1,
	})
	health := cache.NewHealth(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, cache.HealthOptions{
		ReconnectBase:     cfg.Redis.ReconnectBase,
		ReconnectMax:      cfg.Redis.ReconnectMax,
		ReconnectAttempts: cfg.Redis.ReconnectAttempts,
	})
	if err := health.Check(ctx); err != nil {
		slog.Warn("Redis unreachable at startup, serving uncached", "addr", cfg.Redis.Addr, "error", err)
	}

	return cache.New(client, health, opts), func() {
		health.Close()
		_ = client.Close()
	}
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
