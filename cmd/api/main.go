package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tictactoe-server/internal/server"
)

const shutdownTimeout = 30 * time.Second

func newLogger(cfg server.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func main() {
	cfg := server.ConfigFromEnv()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	gameServer, httpServer, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	go func() {
		logger.Info("listening",
			zap.String("addr", httpServer.Addr),
			zap.Strings("allowed_origins", cfg.AllowedOrigins))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	// http.Server.Shutdown does not track hijacked connections, so the game
	// operation closes every socket with a going-away frame itself.
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"game": func(ctx context.Context) error {
				logger.Info("shutdown signal received, closing connections")
				return gameServer.Shutdown(ctx)
			},
			"http": func(ctx context.Context) error {
				return httpServer.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.Info("graceful shutdown complete", zap.Int("exit_code", exitCode))
	_ = logger.Sync()
	os.Exit(exitCode)
}
