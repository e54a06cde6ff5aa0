// Package app wires storage, services and transports from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"gopkg.in/tomb.v2"

	"github.com/dukkani/dukkani/internal/adapter/handler"
	"github.com/dukkani/dukkani/internal/adapter/handler/rpc"
	"github.com/dukkani/dukkani/internal/adapter/storage"
	"github.com/dukkani/dukkani/internal/config"
	"github.com/dukkani/dukkani/internal/core/service"
	"github.com/dukkani/dukkani/internal/metrics"
	"github.com/dukkani/dukkani/internal/port"
	"github.com/dukkani/dukkani/internal/ratelimit"
	"github.com/dukkani/dukkani/internal/telegram"
)

type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	DB       port.DatabaseRepository
	Services handler.Services
	Telegram *telegram.Client

	httpServer *http.Server
	grpcServer *grpc.Server

	notifier *service.TelegramNotifier
	sweepers []*ratelimit.Sweeper
	closers  []func() error
}

// New builds every component. Resources opened before a failure are
// released before returning the error.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	sqlDB, err := a.openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	if sqlDB != nil {
		if err := sqlDB.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}

	var rdb *storage.RedisAdapter
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		a.closers = append(a.closers, client.Close)
		rdb = storage.NewRedisAdapter(client)
		if err := rdb.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")
	}

	cache := storage.NewMemoryCache()
	a.sweepers = append(a.sweepers, ratelimit.StartSweeper(cache, cfg.RateLimit.SweepInterval, a.component("cache")))

	var idempotency port.IdempotencyGuard = cache
	if rdb != nil {
		idempotency = rdb
	}

	limiters, err := a.limiters(rdb)
	if err != nil {
		return nil, err
	}

	state, err := a.telegramState(cache, rdb)
	if err != nil {
		return nil, err
	}

	a.Telegram = telegram.NewClient(cfg.Telegram.Token,
		telegram.WithAPIURL(cfg.Telegram.APIURL),
		telegram.WithMinInterval(cfg.Telegram.MinSendInterval),
		telegram.WithLogger(a.component("telegram_client")),
	)

	orderOpts := []service.OrderOption{
		service.WithIdempotency(idempotency),
		service.WithOrderMetrics(a.metrics),
		service.WithOrderLogger(a.component("orders")),
	}
	if cfg.Telegram.Token != "" {
		a.notifier = service.NewTelegramNotifier(a.DB, a.Telegram,
			cfg.Telegram.NotifyWorkers, cfg.Telegram.NotifyQueueSize,
			a.metrics, a.component("notifier"))
		a.notifier.Start()
		orderOpts = append(orderOpts, service.WithNotifier(a.notifier))
	} else {
		log.Warn().Msg("telegram token not set, order notifications disabled")
	}

	orders := service.NewOrderService(a.DB, orderOpts...)
	a.Services = handler.Services{
		Orders:    orders,
		Stores:    service.NewStoreService(a.DB),
		Products:  service.NewProductService(a.DB),
		Customers: service.NewCustomerService(a.DB),
		Dashboard: service.NewDashboardService(a.DB, cfg.Dashboard.LowStockThreshold),
		Telegram: service.NewTelegramService(a.DB, orders, state, a.Telegram,
			service.WithBotUsername(cfg.Telegram.BotUsername),
			service.WithTelegramMetrics(a.metrics),
			service.WithTelegramLogger(a.component("telegram")),
		),
	}

	httpHandler := handler.NewHTTPHandler(a.Services, handler.HTTPOptions{
		Limiters:      limiters,
		IPHeaders:     cfg.RateLimit.IPHeaders,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		Metrics:       a.metrics,
		Logger:        a.component("http"),
	})
	a.httpServer = &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpHandler.Routes(),
	}

	if cfg.GRPC.Addr != "" {
		a.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(handler.UnaryLogger(a.component("grpc"))))
		rpc.RegisterOrderServiceServer(a.grpcServer, handler.NewGRPCHandler(orders, a.component("grpc")))
	}

	return a, nil
}

func (a *App) component(name string) zerolog.Logger {
	return a.log.With().Str("component", name).Logger()
}

// openDatabase sets a.DB and returns the SQL adapter when one is used.
func (a *App) openDatabase(ctx context.Context) (*storage.SQLAdapter, error) {
	cfg := a.cfg.Database
	if cfg.Driver == "memory" {
		a.log.Warn().Msg("using in-memory database, data is lost on exit")
		a.DB = storage.NewMemoryAdapter()
		return nil, nil
	}

	dialect, err := storage.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := storage.OpenDB(ctx, dialect, cfg.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	a.log.Info().Str("driver", string(dialect)).Msg("connected to database")

	adapter := storage.NewSQLAdapter(db, dialect)
	a.DB = adapter
	return adapter, nil
}

func (a *App) limiters(rdb *storage.RedisAdapter) (*ratelimit.Limiters, error) {
	switch a.cfg.RateLimit.Backend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis rate limit backend needs redis.addr")
		}
		return ratelimit.NewLimiters(rdb, ratelimit.DefaultPresets), nil
	default:
		store := ratelimit.NewMemoryStore()
		a.sweepers = append(a.sweepers, ratelimit.StartSweeper(store, a.cfg.RateLimit.SweepInterval, a.component("ratelimit")))
		return ratelimit.NewLimiters(store, ratelimit.DefaultPresets), nil
	}
}

func (a *App) telegramState(cache *storage.MemoryCache, rdb *storage.RedisAdapter) (port.ExpiringStore, error) {
	switch a.cfg.Telegram.StateBackend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis telegram state backend needs redis.addr")
		}
		return rdb, nil
	case "bolt":
		bolt, err := storage.OpenBoltAdapter(a.cfg.Telegram.StatePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bolt.Close)
		a.sweepers = append(a.sweepers, ratelimit.StartSweeper(bolt, a.cfg.RateLimit.SweepInterval, a.component("telegram_state")))
		return bolt, nil
	default:
		return cache, nil
	}
}

// Handler exposes the HTTP routes, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run serves HTTP and gRPC until ctx is cancelled or a listener fails,
// then shuts both down.
func (a *App) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	var grpcLis net.Listener
	if a.grpcServer != nil {
		grpcLis, err = net.Listen("tcp", a.cfg.GRPC.Addr)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("listen grpc: %w", err)
		}
	}

	var t tomb.Tomb
	t.Go(func() error {
		a.log.Info().Str("addr", httpLis.Addr().String()).Msg("HTTP server listening")
		if err := a.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if grpcLis != nil {
		t.Go(func() error {
			a.log.Info().Str("addr", grpcLis.Addr().String()).Msg("gRPC server listening")
			if err := a.grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	t.Go(func() error {
		select {
		case <-ctx.Done():
		case <-t.Dying():
		}
		a.log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("HTTP shutdown")
		}
		a.log.Info().Msg("HTTP server stopped")

		if a.grpcServer != nil {
			a.grpcServer.GracefulStop()
			a.log.Info().Msg("gRPC server stopped")
		}
		return nil
	})

	return t.Wait()
}

// Close drains the notifier, stops the sweepers and closes connections.
// It is safe to call on a partially built App.
func (a *App) Close() error {
	if a.notifier != nil {
		a.notifier.Close()
		a.log.Info().Msg("notifier stopped")
	}
	for _, s := range a.sweepers {
		s.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.log.Info().Msg("connections closed")
	return errors.Join(errs...)
}

// Migrate creates the SQL schema for the configured driver.
func Migrate(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) error {
	if cfg.Driver == "memory" {
		log.Info().Msg("memory driver has no schema")
		return nil
	}
	dialect, err := storage.ParseDialect(cfg.Driver)
	if err != nil {
		return err
	}
	db, err := storage.OpenDB(ctx, dialect, cfg.DSN, storage.PoolOptions{MaxOpenConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.NewSQLAdapter(db, dialect).EnsureSchema(ctx); err != nil {
		return err
	}
	log.Info().Str("driver", string(dialect)).Msg("schema is up to date")
	return nil
}
