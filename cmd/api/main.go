package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adledger/internal/audit"
	"adledger/internal/auth"
	"adledger/internal/commission"
	"adledger/internal/config"
	"adledger/internal/httpapi"
	"adledger/internal/ledger"
	"adledger/internal/metrics"
	"adledger/internal/migrations"
	"adledger/internal/reporting"
	"adledger/pkg/logger"
	"adledger/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns: cfg.DB.MaxOpenConns,
		MaxIdleConns: cfg.DB.MaxIdleConns,
	})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrations.Run(rootCtx, db, log); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	m := metrics.New()
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	rates := commission.NewSchedule(commission.NewPostgresRepo(db), cfg.Ledger.DefaultCommissionRate).WithAudit(auditSvc)
	engine := ledger.NewEngine(ledger.NewPostgresStore(db), ledger.Options{
		CommissionMode: ledger.CommissionMode(cfg.Ledger.CommissionMode),
		Rates:          rates,
		Cache:          ledger.NewRedisBalanceCache(rdb, cfg.Ledger.BalanceCacheTTL),
		Metrics:        m,
		Audit:          auditSvc,
		Logger:         log,
		MaxRetries:     cfg.Ledger.MaxRetries,
	})

	handlers := httpapi.Handlers{
		Auth:    authManager,
		Ledger:  engine,
		Reports: reporting.NewService(engine),
		Rates:   rates,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/metrics"))
	r.Use(m.Middleware())

	registerRoutes(r, routeDeps{
		handlers:    handlers,
		authMW:      auth.RequireAccessToken(authManager),
		idempotency: httpapi.Idempotency(httpapi.NewRedisResponseStore(rdb), cfg.Ledger.IdempotencyTTL, m),
		metrics:     m,
		ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
		devLogin: cfg.IsLocal(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "commission_mode", cfg.Ledger.CommissionMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

}
