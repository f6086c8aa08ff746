package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dctledger/internal/app"
	"dctledger/internal/cache"
	"dctledger/internal/config"
	"dctledger/internal/logging"
	"dctledger/internal/search"
	"dctledger/internal/store"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger, err := logging.New(os.Stdout, cfg.LogLevel, logging.FormatJSON)
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.Driver(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		logger.Fatalf("migrations failed: %v", err)
	}

	var backend search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		backend = meiliClient
	}
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithSearch(search.NewService(backend, logger)),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		projectionCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Fatalf("redis connection failed: %v", err)
		}
		defer projectionCache.Close()
		logger.Info("Using Redis for the projection cache")
		opts = append(opts, app.WithCache(projectionCache))
	} else {
		logger.Info("Projection cache disabled; every read folds the log")
	}

	service := app.New(cfg, store.NewSQLStore(db), opts...)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("driver", cfg.Driver()).Infof("DCT ledger API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
}
