// Command authkeeper-server starts the authentication HTTP API.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/authkeeper/internal/config"
	"github.com/and161185/authkeeper/internal/crypto"
	"github.com/and161185/authkeeper/internal/metrics"
	"github.com/and161185/authkeeper/internal/migrate"
	"github.com/and161185/authkeeper/internal/model"
	"github.com/and161185/authkeeper/internal/server/httpapi"
	"github.com/and161185/authkeeper/internal/service"
	"github.com/and161185/authkeeper/internal/session"
	"github.com/and161185/authkeeper/internal/store"
	"github.com/and161185/authkeeper/internal/store/memory"
	"github.com/and161185/authkeeper/internal/store/postgres"
	redisstore "github.com/and161185/authkeeper/internal/store/redis"
	"github.com/and161185/authkeeper/internal/sweeper"
	"github.com/and161185/authkeeper/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, and serves the HTTP API plus a gRPC health endpoint.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("sessionBackend", cfg.SessionBackend),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]httpapi.HealthCheck{}

	var (
		users store.Gateway[model.User]
		rows  store.Gateway[model.Session]
	)
	if cfg.SessionBackend == config.BackendMemory {
		logger.Warn("using in-memory storage; all data is lost on restart")
		users = memory.New(store.UserMapper)
		rows = memory.New(store.SessionMapper)
	} else {
		if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres", zap.Error(err))
		}
		defer db.Close()
		checks["postgres"] = db.Ping
		users = postgres.NewUsers(db)
		rows = postgres.NewSessions(db)

		if cfg.SessionBackend == config.BackendRedis {
			rdb, err := redisstore.NewClient(ctx, cfg.RedisURL)
			if err != nil {
				logger.Fatal("redis", zap.Error(err))
			}
			defer func() { _ = rdb.Close() }()
			checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
			rows = redisstore.NewTable(rdb, store.SessionMapper)
		}
	}
	sessions := session.NewStore(rows)

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	authSvc := service.NewAuthService(
		users,
		sessions,
		crypto.NewPool(crypto.NewHasher(cfg.HashParams()), cfg.HashWorkers),
		token.NewIssuer(cfg.Token()),
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithRevokeSessionsOnPasswordChange(cfg.RevokeSessionsOnPasswordChange),
	)

	sweep, err := sweeper.New(cfg.SessionSweepSpec, sessions, logger, m)
	if err != nil {
		logger.Fatal("sweeper", zap.Error(err))
	}
	sweep.Start()

	api := httpapi.New(authSvc, logger, reg, checks)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC health for orchestrators that probe over gRPC
	grpcSrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)

	lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening (http)", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("listening (grpc health)", zap.String("addr", cfg.GRPCHealthAddr))
		errCh <- grpcSrv.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sweep.Stop(shutdownCtx)

	done := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}

	logger.Info("shutdown complete")
}
