package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"replikit/internal/configuration"
	"replikit/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	cfg, err := configuration.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 2
	}

	logging.Init(cfg.App.LogLevel, cfg.App.LogColor)
	slog.Info("Starting node...", "workload", cfg.App.Workload, "profile", cfg.App.Profile)

	services, err := NewServices(cfg)
	if err != nil {
		slog.Error("Failed to initialize node", "error", err)
		return 1
	}
	defer func() {
		if err := services.Close(); err != nil {
			slog.Error("Failed to close services", "error", err)
		}
	}()

	if services.Metrics != nil {
		if err := services.Metrics.Start(); err != nil {
			slog.Error("Failed to start metrics server", "error", err)
			return 1
		}
	}

	if err := services.Runtime(cfg, os.Stdin, os.Stdout).Run(ctx); err != nil {
		slog.Error("Node stopped with error", "error", err)
		return 1
	}

	slog.Info("Shutting down node...")
	return 0
}
