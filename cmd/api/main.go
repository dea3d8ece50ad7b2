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

	"voiceai-agency/internal/auth"
	"voiceai-agency/internal/calls"
	"voiceai-agency/internal/callsession"
	"voiceai-agency/internal/config"
	"voiceai-agency/internal/database"
	"voiceai-agency/internal/httpapi"
	"voiceai-agency/internal/quota"
	"voiceai-agency/internal/reporting"
	"voiceai-agency/internal/voiceagent"
	"voiceai-agency/pkg/logger"
	"voiceai-agency/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
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

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(rootCtx, db); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var limiter quota.Limiter = quota.Unlimited{}
	if cfg.Voice.MaxConcurrentCalls > 0 {
		limiter, err = quota.NewRedisLimiter(rdb, cfg.Voice.MaxConcurrentCalls, quota.DefaultSlotTTL)
		if err != nil {
			log.Error("limiter init failed", "err", err)
			os.Exit(1)
		}
	}

	callRepo := calls.NewPostgresRepo(db)
	callService := calls.NewService(callRepo)

	registry, err := callsession.NewRegistry(
		callsession.Config{PublicKey: cfg.Voice.PublicKey, AssistantID: cfg.Voice.AssistantID},
		callsession.Deps{
			NewClient: voiceagent.NewFactory(
				voiceagent.WithEndpoint(cfg.Voice.Endpoint),
				voiceagent.WithLogger(log),
			),
			Limiter:  limiter,
			Recorder: callService,
			Logger:   log,
		},
	)
	if err != nil {
		log.Error("widget registry init failed", "err", err)
		os.Exit(1)
	}

	sched := cron.New(cron.WithLogger(cronLogger{l: log}))
	if _, err := sched.AddFunc("@every 1m", func() {
		if n := registry.Reap(cfg.Voice.WidgetIdleTTL); n > 0 {
			log.Info("idle widgets reaped", "count", n, "remaining", registry.Len())
		}
	}); err != nil {
		log.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	sched.Start()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/readyz"))

	h := httpapi.Handlers{
		Auth:    authManager,
		Widgets: registry,
		Reports: reporting.NewService(callRepo),
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager), db, rdb)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	<-sched.Stop().Done()

	// Ends live calls and closes event streams so Shutdown does not wait on them.
	registry.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
