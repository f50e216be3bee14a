package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cart-recovery/internal/alerts"
	"cart-recovery/internal/auth"
	"cart-recovery/internal/calltrack"
	"cart-recovery/internal/config"
	"cart-recovery/internal/directory"
	"cart-recovery/internal/outcome"
	"cart-recovery/internal/provider"
	"cart-recovery/internal/recovery"
	"cart-recovery/internal/scheduler"
	"cart-recovery/internal/settings"
	"cart-recovery/pkg/logger"
	"cart-recovery/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

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

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Repositories
	dir := directory.NewPostgresRepo(db)
	callRepo := calltrack.NewPostgresRepo(db)
	jobRepo := scheduler.NewPostgresRepo(db)
	alertRepo := alerts.NewPostgresRepo(db)
	suppRepo := recovery.NewSuppressionPostgresRepo(db)
	settingsRepo := settings.NewPostgresRepo(db)

	// Services
	settingsSvc := settings.NewService(settingsRepo, settings.FromConfig(cfg.Recovery))
	registry := recovery.NewRegistry(suppRepo)
	superu := provider.NewSuperU(cfg.SuperU)

	dispatcher := outcome.NewDispatcher(registry, outcome.LogTicketCreator(log), outcome.LogNotifier(log), log)
	tracker := calltrack.NewTracker(callRepo, dispatcher, superu.Name())
	alertSvc := alerts.NewService(alertRepo, callRepo, jobRepo, log)
	schedSvc := scheduler.NewService(jobRepo, dir, dir, dir, registry, tracker, callRepo, superu, alertSvc, log)
	recoverySvc := recovery.NewService(settingsSvc, schedSvc, tracker, superu, alertSvc, registry, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	handlers := recovery.Handlers{
		Recovery:     recoverySvc,
		Settings:     settingsSvc,
		Scheduler:    schedSvc,
		Tracker:      tracker,
		Alerts:       alertSvc,
		Suppressions: registry,
		Client:       superu,
	}
	registerRoutes(r, handlers, db, auth.RequireAccessToken(authManager))

	// The recovery cycle runs on every instance, but only the lease holder
	// executes it; the others skip their tick.
	holderID := uuid.NewString()
	var cycleMu sync.Mutex
	runner := cron.New()
	_, err = runner.AddFunc("@every "+cfg.Recovery.CycleInterval.String(), func() {
		if !cycleMu.TryLock() {
			log.Warn("previous recovery cycle still running, skipping tick")
			return
		}
		defer cycleMu.Unlock()

		ctx, cancel := context.WithTimeout(rootCtx, cfg.Recovery.CycleInterval)
		defer cancel()

		held, err := utils.AcquireLeaderLease(ctx, rdb, "voice:recovery:leader", holderID, cfg.Recovery.LeaderLeaseTTL)
		if err != nil {
			log.Error("leader lease check failed", "err", err)
			return
		}
		if !held {
			return
		}
		if _, err := recoverySvc.RunCycle(ctx); err != nil {
			log.Error("recovery cycle failed", "err", err)
		}
	})
	if err != nil {
		log.Error("cron setup failed", "err", err)
		os.Exit(1)
	}
	runner.Start()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	cronCtx := runner.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	releaseCtx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelRelease()
	if err := utils.ReleaseLeaderLease(releaseCtx, rdb, "voice:recovery:leader", holderID); err != nil {
		log.Warn("leader lease release failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
