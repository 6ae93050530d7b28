package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventrelay/internal/api"
	"eventrelay/internal/chain"
	"eventrelay/internal/chain/retry"
	"eventrelay/internal/config"
	"eventrelay/internal/notify"
	"eventrelay/internal/webhook"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
)

func main() {
	fmt.Println("Starting Event Relay...")

	// 1. Load configuration
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Configure logger
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Configuration loaded",
		"contracts", len(cfg.Contracts),
		"api_port", cfg.APIPort,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Webhook delivery: registry, retry scheduler, dispatcher
	registry := webhook.NewRegistry()
	scheduler := webhook.NewRetryScheduler(webhook.SchedulerConfig{
		BaseDelay:    cfg.RetryBaseDelay,
		TickInterval: cfg.RetryTick,
	})
	dispatcher := webhook.NewDispatcher(registry, scheduler, webhook.DispatcherConfig{
		MaxConcurrentDeliveries: cfg.MaxConcurrentDeliveries,
	})
	scheduler.Start(ctx, dispatcher)

	// 4. Ingestion pipeline with the domain event processors
	pipeline := chain.NewPipeline(dispatcher, chain.PipelineConfig{
		BackoffStep:  cfg.IngestBackoffStep,
		TickInterval: cfg.IngestTick,
	})
	chain.RegisterDomainProcessors(pipeline, dispatcher, notify.NewLogNotifier())
	go pipeline.Run(ctx)

	// 5. Chain listeners, one per configured contract
	decoder, err := chain.NewDecoder()
	if err != nil {
		log.Fatalf("Failed to build event decoder: %v", err)
	}

	clients := make(map[string]*ethclient.Client)
	for _, contract := range cfg.Contracts {
		client, ok := clients[contract.Network]
		if !ok {
			network := cfg.Networks[contract.Network]
			client, err = ethclient.DialContext(ctx, network.RPCURL)
			if err != nil {
				log.Fatalf("Failed to connect to %s: %v", contract.Network, err)
			}
			clients[contract.Network] = client
			slog.Info("Connected to network", "network", contract.Network, "name", network.Name)
		}

		listener := chain.NewListener(
			contract.Network,
			common.HexToAddress(contract.Address),
			client,
			decoder,
			pipeline,
			retry.NewStrategy(cfg.Reconnect),
		)
		listener.Start(ctx)
		slog.Info("Listener started", "contract", listener.ContractID())
	}
	defer func() {
		for _, client := range clients {
			client.Close()
		}
	}()

	// 6. Periodic cleanup of stale subscriptions and processed records
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := registry.CleanupInactive(cfg.SubscriptionMaxAge)
				cleared := pipeline.CleanupProcessed(cfg.RecordMaxAge)
				if removed > 0 || cleared > 0 {
					slog.Info("Cleanup pass complete",
						"subscriptions_removed", removed,
						"records_cleared", cleared,
					)
				}
			}
		}
	}()

	// 7. API server
	server := api.NewServer(cfg.APIPort, registry, scheduler, pipeline)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	// 8. Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Warn("Interrupt received, shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error stopping API server", "error", err)
	}

	slog.Info("Relay stopped")
}
