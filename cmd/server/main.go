// Package main provides the entry point for the backtest server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cokepoppy/my-quant-sub002/internal/api"
	"github.com/cokepoppy/my-quant-sub002/internal/config"
	"github.com/cokepoppy/my-quant-sub002/internal/data"
	"github.com/cokepoppy/my-quant-sub002/internal/jobs"
	"github.com/cokepoppy/my-quant-sub002/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting backtest server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("dataDir", cfg.Data.Dir),
		zap.Int("maxConcurrentJobs", cfg.Jobs.MaxConcurrent),
	)

	store, err := data.NewStore(logger, cfg.Data.Dir)
	if err != nil {
		logger.Fatal("failed to initialize data store", zap.Error(err))
	}

	registry := strategy.NewRegistry(logger)
	logger.Info("registered strategies", zap.Strings("strategies", registry.List()))

	promRegistry := prometheus.NewRegistry()
	manager := jobs.NewManager(logger, jobs.Config{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		EventBuffer:   cfg.Jobs.EventBuffer,
	}, promRegistry)

	server := api.NewServer(logger, cfg.Server, store, registry, manager, promRegistry)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("server started",
		zap.String("http", fmt.Sprintf("http://%s/api/v1", cfg.Server.Addr())),
		zap.String("ws", fmt.Sprintf("ws://%s/ws", cfg.Server.Addr())),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}
	manager.Close()

	logger.Info("server stopped")
}

func setupLogger(cfg config.LogConfig) *zap.Logger {
	var zapLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: cfg.Development,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
