package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sarlink/atruci/mockbroker"
)

func main() {
	addr := flag.String("addr", "localhost:9000", "listen address for the mock broker")
	flag.Parse()

	logger := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(logger))

	broker := mockbroker.New(*addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		broker.Shutdown()
	}()

	if err := broker.Start(); err != nil {
		slog.Error("Broker failed", "error", err)
		os.Exit(1)
	}
}
