package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/studyloop/tutor-engine/internal/curriculum"
	"github.com/studyloop/tutor-engine/internal/httpapi"
	"github.com/studyloop/tutor-engine/internal/llm"
	"github.com/studyloop/tutor-engine/internal/platform/cache"
	"github.com/studyloop/tutor-engine/internal/platform/config"
	"github.com/studyloop/tutor-engine/internal/platform/database"
	"github.com/studyloop/tutor-engine/internal/store"
	"github.com/studyloop/tutor-engine/internal/tutor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	curr, err := curriculum.NewLoader(cfg.CurriculumPath)
	if err != nil {
		slog.Error("failed to load curriculum", "error", err)
		os.Exit(1)
	}

	var health []httpapi.Checker

	// PostgreSQL is optional: without it, contexts live in memory only.
	var contexts tutor.ContextStore
	var directory httpapi.SubjectDirectory
	var events httpapi.EventRecorder
	var contents httpapi.ContentStore
	db, err := database.New(ctx, database.Config{
		URL:          cfg.Database.URL,
		MaxConns:     cfg.Database.MaxConns,
		MinConns:     cfg.Database.MinConns,
		ConnLifetime: cfg.Database.ConnLifetime,
		ConnIdleTime: cfg.Database.ConnIdleTime,
	})
	if err != nil {
		slog.Warn("database unavailable, contexts will not survive restarts", "error", err)
	} else {
		defer db.Close()
		pg, err := store.NewPostgresContexts(db.Pool)
		if err != nil {
			slog.Error("failed to create context store", "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		contexts = pg
		directory = pg
		events = pg
		contents = pg
		health = append(health, db)
	}

	// Same for the cache: without it, session handles live in memory only.
	var sessionStore tutor.SessionStore
	c, err := cache.New(ctx, cache.Config{
		URL:          cfg.Cache.URL,
		DialTimeout:  cfg.Cache.DialTimeout,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
	})
	if err != nil {
		slog.Warn("cache unavailable, sessions will not survive restarts", "error", err)
	} else {
		defer c.Close()
		rs, err := store.NewRedisSessions(c.Client, cfg.Cache.SessionTTL)
		if err != nil {
			slog.Error("failed to create session store", "error", err)
			os.Exit(1)
		}
		sessionStore = rs
		health = append(health, c)
	}

	var svc llm.Service
	var sessions *tutor.SessionManager
	if cfg.HasLLM() {
		svc = llm.NewClient(cfg.LLM.APIKey, llm.WithBaseURL(cfg.LLM.BaseURL))
		sessions = tutor.NewSessionManager(tutor.SessionManagerConfig{
			Service: svc,
			Store:   sessionStore,
			Models:  cfg.LLM.Models,
		})
		slog.Info("llm service configured", "models", strings.Join(cfg.LLM.Models, ","))
	} else {
		slog.Warn("no LLM API key, running on the degraded fallback path")
	}

	engine := tutor.NewEngine(tutor.EngineConfig{
		Service:      svc,
		Contexts:     contexts,
		Sessions:     sessions,
		Keywords:     curr.Keywords,
		PollInterval: cfg.LLM.PollInterval,
		RunTimeout:   cfg.LLM.RunTimeout,
		SaveRetries:  cfg.Tutor.SaveRetries,
	})

	api := httpapi.New(httpapi.Config{
		Engine:    engine,
		Directory: directory,
		Events:    events,
		Contents:  contents,
		Health:    health,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // chat turns wait on LLM runs
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
