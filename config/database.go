package config

// DBConfig contains PostgreSQL database configuration for the job history
// store.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"muster"`
	Password string `env:"PASSWORD" envDefault:"muster"`
	Name     string `env:"NAME"     envDefault:"muster"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production

	// Enabled controls whether job history persistence is wired at all.
	// The dispatcher runs without it.
	Enabled bool `env:"ENABLED" envDefault:"false"`

	// RunMigrationsOnStart controls whether the application automatically
	// applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration. Redis carries the transport, the
// agent registry, and optionally the mine store.
type RedisConfig struct {
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}
