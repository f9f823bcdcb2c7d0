package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mzsync/mzsync/internal/config"
	"github.com/mzsync/mzsync/internal/feed/materialize"
	"github.com/mzsync/mzsync/internal/replicate"
	"github.com/mzsync/mzsync/internal/sink/kafka"
	redissink "github.com/mzsync/mzsync/internal/sink/redis"
	"github.com/mzsync/mzsync/internal/telemetry"
	"github.com/mzsync/mzsync/internal/types"
)

type healthz struct {
	Status    replicate.Status `json:"status"`
	Timestamp string           `json:"timestamp"`
}

func main() {
	zapConfig := zap.NewProductionConfig()
	logger, _ := zapConfig.Build()
	defer logger.Sync()

	logger.Info("Starting mzsync")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	logger.Info("Configuration loaded",
		zap.Int("fetch_batch", cfg.Materialize.FetchBatch),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.Bool("changelog", cfg.Changelog.Enabled()),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))

	telemetry.Initialize(cfg.Telemetry.Enabled)

	if cfg.Redis.WatermarkKey == "" {
		logger.Warn("No watermark_key configured. mzsync will not support graceful restarts, " +
			"leading to full data reconsumption on recovery. This mode may increase Redis load " +
			"and could miss deletes in certain scenarios.")
	}

	sink, err := redissink.New(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("redis sink init failed", zap.Error(err))
	}
	defer sink.Close()
	logger.Info("Connected to Redis")

	var changelog replicate.Changelog
	if cfg.Changelog.Enabled() {
		pub, err := kafka.New(cfg.Changelog.Brokers, cfg.Changelog.Topic, logger)
		if err != nil {
			logger.Fatal("changelog publisher init failed", zap.Error(err))
		}
		defer pub.Close()
		changelog = pub
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := materialize.Connect(ctx, cfg.Materialize, logger)
	if err != nil {
		logger.Fatal("materialize connect failed", zap.Error(err))
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		feed.Close(closeCtx)
	}()

	driver := replicate.NewDriver(feed, sink, changelog, cfg.Materialize.FetchBatch, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- driver.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthz{Status: driver.Status(), Timestamp: time.Now().Format(time.RFC3339)}
		b, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	})
	if h := telemetry.Handler(); h != nil {
		mux.Handle("/metrics", h)
	}
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
	logger.Info("Starting HTTP server", zap.String("addr", cfg.HTTP.Addr))
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		logger.Info("Shutting down gracefully...")
		cancel()
		select {
		case runErr = <-errCh:
		case <-time.After(30 * time.Second):
			logger.Warn("Shutdown timeout reached, forcing exit")
		}
	case runErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if runErr != nil {
		var resync *types.ResyncRequiredError
		if errors.As(runErr, &resync) {
			logger.Error("mzsync has been offline for too long: offline duration exceeded the upstream "+
				"retention window. Delete the stored watermark key and restart to resync from a snapshot.",
				zap.Error(runErr))
		} else {
			logger.Error("replication terminated", zap.Error(runErr))
		}
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}
