package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-stream/src/config"
	"stock-stream/src/logger"
)

const shutdownTimeout = 10 * time.Second

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Printf("Error loading env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.MConfig); err != nil {
		fmt.Printf("Error setting up logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	appLogger := logger.NewLogger(cfg.Name)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := setupApp(cfg.MConfig, appLogger)
	if err != nil {
		appLogger.Critical("Failed to set up: %v", err)
		os.Exit(1)
	}

	errCh := startServers(ctx, app, appLogger)

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down...")
	case err := <-errCh:
		appLogger.Error("Server failed: %v", err)
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	app.shutdown(shutdownCtx, appLogger)
}
