package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/myshop-backend/internal/clients/redis"
	"github.com/yungbote/myshop-backend/internal/data/db"
	httpserver "github.com/yungbote/myshop-backend/internal/http"
	"github.com/yungbote/myshop-backend/internal/jobs/tasks"
	"github.com/yungbote/myshop-backend/internal/observability"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Redis    goredis.UniversalClient
	Router   *gin.Engine
	Cfg      *Config
	Repos    Repos
	Services Services
	Handlers Handlers
	Metrics  *observability.Metrics

	server       *httpserver.Server
	otelShutdown func(context.Context) error
	closers      []func() error
}

// New loads configuration, connects to Postgres and Redis and wires the
// service graph.
func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)

	pg, err := db.NewPostgresService(log, cfg.Postgres)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}

	rdb, err := connectRedis(log, cfg.Redis)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	a, err := Build(log, cfg, pg.DB(), rdb, nil)
	if err != nil {
		_ = rdb.Close()
		_ = pg.Close()
		log.Sync()
		return nil, err
	}
	a.otelShutdown = otelShutdown
	a.closers = append(a.closers, rdb.Close, pg.Close)
	return a, nil
}

// connectRedis only fails on bad configuration. Redis backs recommendations
// alone, so an unreachable server is logged and the lazily redialing client is
// kept; payments keep flowing while the score store reports unavailable.
func connectRedis(log *logger.Logger, cfg redis.Config) (*goredis.Client, error) {
	rdb, err := redis.NewClient(log, cfg)
	if err == nil {
		return rdb, nil
	}
	if errors.Is(err, redis.ErrUnreachable) && rdb != nil {
		log.Warn("Redis unreachable at startup, recommendations degraded until it recovers", "error", err)
		return rdb, nil
	}
	return nil, err
}

// Build wires the application on top of already-open stores. A nil sender
// logs invoices instead of mailing them.
func Build(log *logger.Logger, cfg *Config, gdb *gorm.DB, rdb goredis.UniversalClient, sender tasks.InvoiceSender) (*App, error) {
	metrics := observability.NewMetrics()
	reposet := wireRepos(gdb, log)
	serviceset, err := wireServices(gdb, rdb, log, cfg, reposet, metrics, sender)
	if err != nil {
		return nil, err
	}
	handlerset := wireHandlers(log, serviceset, metrics)
	router := wireRouter(log, cfg, handlerset, metrics)

	return &App{
		Log:      log,
		DB:       gdb,
		Redis:    rdb,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
		Handlers: handlerset,
		Metrics:  metrics,
		server:   httpserver.NewServer(log, cfg.HTTP, router),
	}, nil
}

// Run serves HTTP and drains the job queue until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB, a.Cfg.QueueMetricsEvery)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Services.Worker.Run(gctx) })
	g.Go(func() error { return a.server.Run(gctx) })
	err := g.Wait()

	a.Handlers.Admin.Wait()
	return err
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.Log.Sync()
}
