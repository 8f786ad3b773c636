package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ailenergy/internal/api"
	"ailenergy/internal/clock"
	"ailenergy/internal/config"
	"ailenergy/internal/ha"
	"ailenergy/internal/poller"
	"ailenergy/internal/portal"
	"ailenergy/internal/publisher"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	ailEmail := os.Getenv("AIL_EMAIL")
	ailPassword := os.Getenv("AIL_PASSWORD")
	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")

	if ailEmail == "" || ailPassword == "" {
		logger.Fatal("AIL_EMAIL and AIL_PASSWORD environment variables must be set")
	}
	if haURL == "" || haToken == "" {
		logger.Fatal("HA_URL and HA_TOKEN environment variables must be set")
	}

	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "ail_config.yaml"
	}

	loader := config.NewLoader(configPath, logger)
	if err := loader.Load(); err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg := loader.Config()

	logger.Info("Starting AIL EnergyBuddy bridge",
		zap.String("ha_url", haURL),
		zap.Duration("poll_interval", cfg.Poll.Interval.Std()),
		zap.Bool("fixed_tariff", cfg.Tariff.Fixed))

	// Connect to Home Assistant
	haClient := ha.NewClient(haURL, haToken, logger)
	if err := haClient.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer haClient.Disconnect()

	// Build the poll pipeline
	portalClient := portal.NewClient(cfg.Portal.BaseURL, ailEmail, ailPassword, logger)
	pub := publisher.New(haClient, logger)
	p := poller.New(portalClient, pub, cfg.TariffModel(), clock.NewRealClock(),
		cfg.Poll.Interval.Std(), cfg.Poll.Window.Std(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initial refresh. Bad portal credentials must block startup with a clear
	// error; a portal outage only delays the first data to the next tick.
	if err := p.RefreshOnce(ctx); err != nil {
		if errors.Is(err, portal.ErrAuthFailed) {
			logger.Fatal("Portal rejected the configured credentials, check AIL_EMAIL and AIL_PASSWORD",
				zap.Error(err))
		}
		logger.Warn("Initial fetch failed, will retry on schedule", zap.Error(err))
	}

	// Start status API
	server := api.NewServer(p, logger, cfg.API.Port)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	// Start poll loop
	go p.Run(ctx)

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Service running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")
	cancel()
	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}
}
