package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rccrawler/internal/cli"
	"rccrawler/internal/config"
	"rccrawler/internal/logging"
)

// server runs only the API, configured from the environment like
// `rccrawler serve`
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	closer, err := logging.Open(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to set up logging: ", err)
	}
	defer closer.Close()

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatal("Failed to create data directory: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Serve(ctx, cfg); err != nil {
		logging.For("server").Error("server stopped", "error", err)
		os.Exit(1)
	}
}
