package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/config"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/dispatch"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/dispatch/clickhouse"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/dispatch/sqs"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/engine"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/eventlog/badgerlog"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/handler"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting interaction metrics service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort),
		zap.String("dispatcher", cfg.Engine.Dispatcher))

	ctx := context.Background()

	// Initialize the durable event log
	store, err := badgerlog.Open(cfg.Engine.DataDir, log)
	if err != nil {
		log.Fatal("Failed to open event log", zap.Error(err))
	}

	// Initialize the downstream dispatcher
	dispatcher, err := newDispatcher(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create dispatcher", zap.Error(err))
	}

	// Initialize the engine; this recovers any events persisted before a
	// previous crash
	eng, err := engine.New(store, dispatcher, engine.Options{
		BatchConfig:   cfg.Engine.BatchConfig(),
		CacheCapacity: cfg.Engine.CacheCapacity,
	}, log)
	if err != nil {
		log.Fatal("Failed to start engine", zap.Error(err))
	}

	h := handler.NewHandler(eng, log)

	addr := fmt.Sprintf(":%s", cfg.Service.APIPort)
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}

	go func() {
		log.Info("API server starting", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down server", zap.Error(err))
	}

	// Final synchronous flush before the process suspends; whatever cannot
	// be handed off stays in the durable log for the next start
	if err := eng.Close(shutdownCtx); err != nil {
		log.Error("Failed to close engine cleanly", zap.Error(err))
	}
}

// newDispatcher selects the configured downstream collaborator.
func newDispatcher(ctx context.Context, cfg *config.Config, log *zap.Logger) (dispatch.Dispatcher, error) {
	switch cfg.Engine.Dispatcher {
	case "clickhouse":
		client, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
		if err != nil {
			return nil, err
		}
		writer := clickhouse.NewWriter(client, log)
		if err := writer.InitSchema(ctx); err != nil {
			return nil, err
		}
		return writer, nil
	case "sqs":
		return sqs.NewPublisher(ctx, cfg.SQS, log)
	default:
		return nil, fmt.Errorf("unknown dispatcher %q (supported: clickhouse, sqs)", cfg.Engine.Dispatcher)
	}
}
