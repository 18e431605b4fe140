package config

import (
	"errors"
	"time"
)

// FileserverConfig contains fileserver backend and cache configuration.
type FileserverConfig struct {
	// Remotes is a comma-delimited list of git remote URLs to mirror.
	Remotes []string `env:"FS_REMOTES" envSeparator:","`

	// CacheRoot is the directory holding mirror clones and the content
	// cache. Everything under it is regenerable.
	CacheRoot string `env:"FS_CACHE_ROOT" envDefault:"/var/cache/muster"`

	// UpdateInterval is the fs-updater tick interval.
	UpdateInterval time.Duration `env:"FS_UPDATE_INTERVAL" envDefault:"1m"`
}

// Sanitize applies guardrails to fileserver configuration values.
func (f *FileserverConfig) Sanitize() error {
	if f.CacheRoot == "" {
		return errors.New("fileserver cache root must not be empty")
	}
	if f.UpdateInterval < time.Second {
		f.UpdateInterval = time.Second
	}
	return nil
}

// MineBackend names a mine store implementation.
type MineBackend string

const (
	// MineBackendBadger stores mine entries in an embedded badger database.
	MineBackendBadger MineBackend = "badger"
	// MineBackendRedis stores mine entries in Redis hashes.
	MineBackendRedis MineBackend = "redis"
)

// MineConfig contains mine store configuration.
type MineConfig struct {
	// Backend selects the mine store implementation: badger or redis.
	Backend MineBackend `env:"MINE_BACKEND" envDefault:"badger"`

	// Path is the badger directory; ignored for the redis backend.
	Path string `env:"MINE_PATH" envDefault:"/var/lib/muster/mine"`
}

// Sanitize applies guardrails to mine configuration values.
func (m *MineConfig) Sanitize() error {
	switch m.Backend {
	case MineBackendBadger, MineBackendRedis:
	default:
		return errors.New("mine backend must be badger or redis")
	}
	if m.Backend == MineBackendBadger && m.Path == "" {
		return errors.New("mine path must not be empty for the badger backend")
	}
	return nil
}
