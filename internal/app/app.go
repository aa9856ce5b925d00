// Package app assembles the service from configuration. Optional backends
// (redis, kafka, elasticsearch, tracing) are only dialed when configured.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Skotchmaster/auth_service/internal/config"
	"github.com/Skotchmaster/auth_service/internal/db"
	"github.com/Skotchmaster/auth_service/internal/es"
	"github.com/Skotchmaster/auth_service/internal/guard"
	"github.com/Skotchmaster/auth_service/internal/hash"
	"github.com/Skotchmaster/auth_service/internal/httpserver"
	"github.com/Skotchmaster/auth_service/internal/lock"
	"github.com/Skotchmaster/auth_service/internal/metrics"
	"github.com/Skotchmaster/auth_service/internal/mykafka"
	"github.com/Skotchmaster/auth_service/internal/repo"
	"github.com/Skotchmaster/auth_service/internal/search"
	"github.com/Skotchmaster/auth_service/internal/service"
	"github.com/Skotchmaster/auth_service/internal/telemetry"
	"github.com/Skotchmaster/auth_service/internal/tokens"
	"github.com/Skotchmaster/auth_service/internal/validation"
)

type App struct {
	Cfg  config.Config
	Log  *slog.Logger
	DB   *gorm.DB
	Echo *echo.Echo

	redis    *redis.Client
	events   mykafka.Publisher
	shutdown func(context.Context) error
}

// OpenDB connects and migrates. The migrate and seed commands stop here.
func OpenDB(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	conn, err := db.Connect(ctx, cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

func New(ctx context.Context, cfg config.Config, l *slog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: l}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	shutdown, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	a.shutdown = shutdown
	metrics.Register()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a.DB, err = OpenDB(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db init: %w", err)
	}
	hasher := hash.New(cfg.BcryptCost)
	if err := db.Seed(initCtx, a.DB, hasher, nil, l); err != nil {
		return nil, fmt.Errorf("seed roles: %w", err)
	}

	codec, err := tokens.NewCodec(tokens.Options{
		AccessSecret:  []byte(cfg.JWTAccessSecret),
		RefreshSecret: []byte(cfg.JWTRefreshSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.JWTIssuer,
	})
	if err != nil {
		return nil, err
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		a.redis, err = lock.NewRedisClient(initCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		locker = lock.NewRedisLocker(a.redis, cfg.ServiceName+":account:", cfg.LockTTL)
		l.Info("lock_backend", "kind", "redis", "addr", cfg.RedisAddr)
	}

	a.events = mykafka.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		prod, err := mykafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		a.events = prod
		l.Info("event_backend", "kind", "kafka", "topic", cfg.KafkaTopic)
	}

	var index service.AccountSearcher
	if cfg.ESURL != "" {
		client, err := es.NewClient(initCtx, es.Config{URL: cfg.ESURL, Username: cfg.ESUser, Password: cfg.ESPassword}, l)
		if err != nil {
			return nil, err
		}
		index = search.NewIndex(client, cfg.ESIndex)
	}

	accounts := repo.NewAccountRepo(a.DB)
	roles := repo.NewRoleRepo(a.DB)

	authDeps := service.AuthDeps{
		Accounts:          accounts,
		Roles:             roles,
		Tokens:            codec,
		Hasher:            hasher,
		Locker:            locker,
		Events:            a.events,
		MinPasswordLength: cfg.MinPasswordLength,
	}
	userDeps := service.UserDeps{
		Accounts: accounts,
		Roles:    roles,
		Locker:   locker,
		Events:   a.events,
	}
	if index != nil {
		authDeps.Index = index
		userDeps.Index = index
	}

	g := &guard.Guard{Tokens: codec}
	if cfg.RecheckAccount {
		g.Accounts = accounts
	}

	a.Echo = httpserver.New(httpserver.Options{
		Logger:         l,
		Validator:      validation.New(cfg.MinPasswordLength),
		Development:    cfg.Development(),
		RequestTimeout: cfg.RequestTimeout,
	})
	a.Echo.Server.ReadTimeout = 10 * time.Second
	a.Echo.Server.WriteTimeout = 15 * time.Second
	a.Echo.Server.ReadHeaderTimeout = 3 * time.Second
	a.Echo.Server.IdleTimeout = 60 * time.Second

	httpserver.Register(a.Echo, &httpserver.Deps{
		Auth:  &httpserver.AuthHTTP{Svc: service.NewAuthService(authDeps)},
		Users: &httpserver.UsersHTTP{Svc: service.NewUserService(userDeps)},
		Guard: g,
		Ready: func(ctx context.Context) error { return db.Ping(ctx, a.DB) },
	})

	ok = true
	return a, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("http_listening", "addr", a.Cfg.HTTPAddr)
		if err := a.Echo.Start(a.Cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("echo start: %w", err)
		}
	case <-ctx.Done():
	}

	a.Log.Info("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
	defer cancel()
	if err := a.Echo.Shutdown(shutdownCtx); err != nil {
		a.Log.Error("echo_shutdown_failed", "error", err)
	}
	a.Close(shutdownCtx)
	a.Log.Info("shutdown_complete")
	return nil
}

// Close releases every backend that was opened. It is safe on a partly
// built App and safe to call twice.
func (a *App) Close(ctx context.Context) {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.Log.Error("kafka_close_failed", "error", err)
		}
		a.events = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.Error("redis_close_failed", "error", err)
		}
		a.redis = nil
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Error("db_close_failed", "error", err)
			}
		}
		a.DB = nil
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.Log.Error("tracer_shutdown_failed", "error", err)
		}
		a.shutdown = nil
	}
}
