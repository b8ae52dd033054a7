// Package main is the entry point for the registration hub. It wires the
// backends, starts the gRPC and operational HTTP endpoints together with the
// background monitors, and registers the hub with its own discovery agent.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pipestream-ai/platform-registration/internal/config"
	"github.com/pipestream-ai/platform-registration/internal/server"
	"github.com/pipestream-ai/platform-registration/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	defer func() {
		if err := log.Sync(); err != nil {
			log.Warn("Failed to sync logger", zap.Error(err))
		}
	}()

	app, err := server.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build registration hub", zap.Error(err))
	}
	defer app.Close()

	log.Info("Starting registration hub",
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("environment", cfg.AppEnv),
	)

	if err := app.Server.Run(ctx); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
}
