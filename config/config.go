// Package config holds the environment-driven configuration for the muster
// master and agent binaries.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config files for
// the available variables:
//   - database.go: PostgreSQL and Redis configuration
//   - fileserver.go: fileserver backend and cache configuration
//   - http.go: HTTP server configuration
//   - services.go: service mode configuration
package config

import (
	"github.com/target/muster/internal/dispatch"
	"github.com/target/muster/internal/fslock"
)

// AppConfig is the master process configuration. It composes domain-specific
// configuration from separate files.
type AppConfig struct {
	// IsDev enables single-process development mode: in-memory registry,
	// loopback transport, and no PostgreSQL requirement.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Dispatch configuration.
	Dispatch dispatch.Config

	// Lock holds the fileserver lock staleness tunables.
	Lock fslock.Config

	// Fileserver configuration.
	Fileserver FileserverConfig

	// Mine configuration.
	Mine MineConfig

	// Database configuration.
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration.
	HTTP HTTPConfig

	// Services is a comma-delimited list of enabled services.
	Services string `env:"SERVICES" envDefault:"http"`
}

// Sanitize applies guardrails to configuration values loaded from env.
// It should be called once, right after env parsing.
func (c *AppConfig) Sanitize() error {
	c.Dispatch.Sanitize()
	c.Lock.Sanitize()
	c.HTTP.Sanitize()
	if err := c.Fileserver.Sanitize(); err != nil {
		return err
	}
	return c.Mine.Sanitize()
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsFileserverUpdaterEnabled returns true if the fileserver updater service
// is enabled.
func (c *AppConfig) IsFileserverUpdaterEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeFSUpdater]
}

// IsMineIngestEnabled returns true if the mine ingest service is enabled.
func (c *AppConfig) IsMineIngestEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeMineIngest]
}
