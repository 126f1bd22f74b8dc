package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/roshambo/config"
	"github.com/user/roshambo/internal/api"
	"github.com/user/roshambo/internal/dialogue"
	"github.com/user/roshambo/internal/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "./config/config.json", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Set up logger
	logger := setupLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	// Open player memory storage
	backend, err := memory.Open(cfg.Memory.Driver, cfg.Memory.DSN, cfg.Memory.Dir)
	if err != nil {
		logger.Fatal("Failed to open memory backend", zap.String("driver", cfg.Memory.Driver), zap.Error(err))
	}
	defer backend.Close()

	// Load dialogue content
	pack, err := loadDialogue(cfg.Game.DialoguePath)
	if err != nil {
		logger.Fatal("Failed to load dialogue", zap.Error(err))
	}

	registry := api.NewRegistry(cfg, backend, pack, logger)
	defer registry.Close()

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: api.NewServer(registry, cfg, logger).Router(),
	}

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("port", cfg.Server.Port),
			zap.String("memory_driver", cfg.Memory.Driver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	// Drop idle players in the background
	stopSweeper := startSweeper(registry, logger)
	defer stopSweeper()

	// Wait for shutdown signal
	waitForShutdown(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}
}

func setupLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, _ := config.Build()
	return logger
}

func loadDialogue(path string) (*dialogue.Pack, error) {
	if path == "" {
		return dialogue.DefaultPack()
	}
	pack, err := dialogue.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load dialogue from %s: %w", path, err)
	}
	return pack, nil
}

func startSweeper(registry *api.Registry, logger *zap.Logger) func() {
	ticker := time.NewTicker(time.Minute)
	stopChan := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				registry.Sweep()
			case <-stopChan:
				ticker.Stop()
				logger.Info("Player sweeper stopped")
				return
			}
		}
	}()

	return func() { close(stopChan) }
}

func waitForShutdown(logger *zap.Logger) {
	// Set up channel for shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Perform cleanup
	logger.Info("Shutting down")
}
