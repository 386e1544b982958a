// Package main is the entry point for the focuser coordinator service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/config"
	"github.com/unklstewy/bigskies-focuser/internal/coordinators"
	"github.com/unklstewy/bigskies-focuser/pkg/api"
	"github.com/unklstewy/bigskies-focuser/pkg/ascomserver"
	"github.com/unklstewy/bigskies-focuser/pkg/mqtt"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	hashPassword := flag.String("hash-password", "", "Print the bcrypt hash of a password for alpaca.authentication.password_hash and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := ascomserver.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, err := cfg.Logging.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting BigSkies Focuser Coordinator",
		zap.String("config", *configPath),
		zap.String("mode", cfg.Focuser.Mode),
		zap.String("transport", cfg.Transport.Type),
		zap.Bool("mqtt", cfg.MQTT.Enabled))

	// A nil *mqtt.Client must not reach the coordinator as a non-nil Bus.
	var bus mqtt.Bus
	if cfg.MQTT.Enabled {
		client, err := coordinators.CreateMQTTClient(cfg.MQTT, logger)
		if err != nil {
			logger.Fatal("Failed to create MQTT client", zap.Error(err))
		}
		bus = client
	}

	focuser, err := coordinators.NewFocuserCoordinator(cfg, bus, logger)
	if err != nil {
		logger.Fatal("Failed to create focuser coordinator", zap.Error(err))
	}
	var coordinator api.Coordinator = focuser

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coordinator.Start(ctx); err != nil {
		logger.Fatal("Failed to start coordinator", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Focuser coordinator running, press Ctrl+C to stop")

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := coordinator.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Focuser coordinator stopped successfully")
}
