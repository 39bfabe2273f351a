package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"btcproxy/internal/app"
	"btcproxy/internal/shared/config"
	"btcproxy/internal/shared/logger"
)

func main() {
	configPath := flag.String("config", "proxy.conf", "Path to the INI config file")
	flag.Parse()

	// 1. Load config; a missing file is fine when the environment supplies credentials.
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", *configPath, err)
		os.Exit(1)
	}

	// 2. Logger.
	if err := logger.Init(cfg.AppConf.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 3. Build and run until SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create proxy")
	}
	if err := server.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Proxy stopped with an error")
	}
}
