// Package bootstrap wires configuration, storage, and services into runnable
// processes.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/target/muster/config"
)

// InitLogger initializes the structured logger.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

// LoadConfig loads master configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	if err := loadDotenv(); err != nil {
		return config.AppConfig{}, err
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Sanitize(); err != nil {
		return cfg, fmt.Errorf("sanitize config: %w", err)
	}
	return cfg, nil
}

// LoadAgentConfig loads agent configuration from environment variables.
func LoadAgentConfig() (config.AgentConfig, error) {
	if err := loadDotenv(); err != nil {
		return config.AgentConfig{}, err
	}

	var cfg config.AgentConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse agent config: %w", err)
	}
	if err := cfg.Sanitize(); err != nil {
		return cfg, fmt.Errorf("sanitize agent config: %w", err)
	}
	return cfg, nil
}

// loadDotenv loads a .env file if one exists (development).
func loadDotenv() error {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return fmt.Errorf("load .env file: %w", err)
		}
	}
	return nil
}

// ValidateServiceConfig validates that at least one service is enabled.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}
	return nil
}
