package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sarlink/atruci/atr"
	"github.com/sarlink/atruci/config"
	"github.com/sarlink/atruci/service"
	"github.com/sarlink/atruci/web"
)

func main() {
	logger := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(logger))

	configPath := "config/service_config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	svc := service.New(cfg, atr.NewMockEngine())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var status *web.Server
	if cfg.StatusListenAddress != "" {
		status = web.NewServer(cfg.StatusListenAddress, svc.Stats())
		go func() {
			if err := status.Start(); err != nil {
				slog.Error("Status endpoint failed", "error", err)
			}
		}()
	}

	runErr := svc.Run(ctx)

	if status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		status.Shutdown(shutdownCtx)
		cancel()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("Fatal error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("Service stopped")
}
