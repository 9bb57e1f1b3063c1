package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/mwork/consent-engine/internal/config"
	"github.com/mwork/consent-engine/internal/engine"
	"github.com/mwork/consent-engine/internal/middleware"
	"github.com/mwork/consent-engine/internal/pkg/database"
	"github.com/mwork/consent-engine/internal/pkg/logger"
	"github.com/mwork/consent-engine/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Console: cfg.IsDevelopment(),
		LogFile: cfg.LogFile,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("store_driver", cfg.StoreDriver).
		Msg("Starting consent engine")

	var db *sqlx.DB
	if cfg.StoreDriver == config.StoreDriverPostgres {
		var err error
		db, err = database.NewPostgres(cfg.DatabaseURL, database.DefaultPoolConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres(db)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = database.Migrate(ctx, db)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to apply schema")
		}
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	eng, err := engine.New(engine.Options{Config: cfg, DB: db, Redis: redis})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build engine")
	}
	defer eng.Close()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(eng),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// readiness is the part of the engine the health endpoints need
type readiness interface {
	Ready(ctx context.Context) error
}

func newRouter(ready readiness) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, response.Health{Status: "ok"})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := ready.Ready(ctx); err != nil {
			logger.FromContext(r.Context()).Warn().Err(err).Msg("Readiness check failed")
			response.ServiceUnavailable(w, "dependencies unavailable")
			return
		}
		response.OK(w, response.Health{Status: "ready"})
	})

	return r
}
