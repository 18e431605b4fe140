package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/target/muster/internal/adapters/transport"
	"github.com/target/muster/internal/agent"
	"github.com/target/muster/internal/bootstrap"
	"github.com/target/muster/internal/data"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadAgentConfig()
	if err != nil {
		return err
	}

	grains, err := cfg.LoadGrains()
	if err != nil {
		return err
	}

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cfg.Redis,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := redisClient.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close redis failed", "error", cerr)
		}
	}()

	agentTransport, err := transport.NewRedisAgent(cfg.ID, transport.RedisOptions{
		Client: redisClient,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	a, err := agent.New(agent.Options{
		ID:        cfg.ID,
		Grains:    grains,
		Transport: agentTransport,
		Registry:  data.NewRedisRegistry(redisClient),
		Config:    cfg.Runtime,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "starting muster agent", "id", cfg.ID)
	if runErr := a.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
