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

	"voicebridge/internal/agent"
	"voicebridge/internal/auth"
	"voicebridge/internal/config"
	"voicebridge/internal/dialer"
	"voicebridge/internal/httpapi"
	"voicebridge/internal/session"
	"voicebridge/internal/store"
	"voicebridge/internal/webhook"
	"voicebridge/pkg/logger"
	"voicebridge/pkg/utils"

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

	st := store.New(db)

	coordinator := session.NewCoordinator(session.Deps{
		Credentials: session.NewCredentialClient(cfg.Voice.APIBaseURL, cfg.Voice.APIKey),
		NewTransport: func() session.Transport {
			return session.NewWebsocketTransport(session.TransportConfig{
				URL:          cfg.Voice.ChannelURL,
				WriteTimeout: cfg.Session.WriteTimeout,
				PingInterval: cfg.Session.PingInterval,
			}, log)
		},
		Capture:        session.NewLocalCapture(),
		Limiter:        session.NewRedisLimiter(rdb, 0),
		Sink:           st,
		Log:            log,
		RequestTimeout: cfg.Session.RequestTimeout,
	})

	dialSvc := dialer.NewService(dialer.NewClient(cfg.Telephony.APIBaseURL, cfg.Telephony.APIKey), rdb, log)
	defer dialSvc.Close()

	handlers := httpapi.Handlers{
		Auth:        authManager,
		Coordinator: coordinator,
		Dialer:      dialSvc,
		Agents:      agent.NewClient(cfg.Voice.APIBaseURL, cfg.Voice.APIKey),
	}
	hook := webhook.Handler{
		Secret:   cfg.Voice.WebhookSecret,
		Recorder: st,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, hook, auth.RequireAccessToken(authManager))

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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Flush any live session so its transcript reaches the store.
	if err := coordinator.Stop(shutdownCtx); err != nil {
		log.Error("session stop on shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
