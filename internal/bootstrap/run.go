package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/target/muster/config"
	"github.com/target/muster/internal/adapters/mineingest"
	"github.com/target/muster/internal/adapters/updater"
)

// RunConfig groups the dependencies for running the enabled master services.
type RunConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// Run starts every enabled service and blocks until a termination signal
// arrives or one service fails.
func Run(ctx context.Context, cfg RunConfig) error {
	if cfg.Config == nil || cfg.Services == nil {
		return errors.New("run config and services are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeHTTP] {
		server := StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down HTTP server")
			return ShutdownHTTPServer(context.Background(), server, cfg.Config.HTTP.ShutdownGrace)
		})
	}

	if enabled[config.ServiceModeFSUpdater] {
		runner, runnerErr := updater.NewRunner(updater.RunnerOptions{
			Registry: cfg.Services.Fileserver,
			Interval: cfg.Config.Fileserver.UpdateInterval,
			Logger:   logger,
		})
		if runnerErr != nil {
			return fmt.Errorf("wire fs updater: %w", runnerErr)
		}
		g.Go(func() error { return ignoreCancel(runner.Run(ctx)) })
	}

	if enabled[config.ServiceModeMineIngest] {
		runner, runnerErr := mineingest.NewRunner(mineingest.Options{
			Transport: cfg.Services.Transport,
			Store:     cfg.Services.MineStore,
			Logger:    logger,
		})
		if runnerErr != nil {
			return fmt.Errorf("wire mine ingest: %w", runnerErr)
		}
		g.Go(func() error { return ignoreCancel(runner.Run(ctx)) })
	}

	logger.InfoContext(ctx, "services running")
	return g.Wait()
}

// ignoreCancel treats context cancellation as a clean shutdown rather than a
// service failure.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
