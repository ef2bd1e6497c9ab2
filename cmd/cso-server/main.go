package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rewired-gh/cso/internal/api"
	"github.com/rewired-gh/cso/internal/config"
	"github.com/rewired-gh/cso/internal/logger"
	"github.com/rewired-gh/cso/internal/storage"
	"github.com/rewired-gh/cso/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	opts := api.Options{
		Preset:   cfg.Screening.Preset,
		Weights:  cfg.OptimizerWeights(),
		TopN:     cfg.Screening.TopN,
		Workers:  cfg.Screening.Workers,
		Order:    cfg.FilterOrder(),
		Provider: cfg.GreeksProvider(),
	}

	var store *storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.MaxRuns, cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
		// Apply a lowered max_runs before serving history.
		if err := store.RotateRuns(); err != nil {
			logger.Warn("Failed to rotate run history: %v", err)
		}
		opts.Store = store
		logger.Info("Run history enabled (max %d runs)", cfg.Storage.MaxRuns)
	} else {
		logger.Debug("Run history disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		opts.Notifier = telegramClient
		if store != nil {
			telegramClient.ListenForCommands(ctx, store)
		} else {
			telegramClient.ListenForCommands(ctx, nil)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewHandler(opts).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed: %v", err)
		}
	}()

	logger.Info("Starting HTTP server on %s (preset: %s, provider: %s)",
		cfg.Server.Addr, cfg.Screening.Preset, cfg.Market.GreeksProvider)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed: %v", err)
	}
	<-idle
	logger.Info("Server stopped")
}
