package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - http",
			input:    "http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:  "multiple services",
			input: "http,fs-updater",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:      true,
				ServiceModeFSUpdater: true,
			},
		},
		{
			name:  "all services with whitespace",
			input: " http , fs-updater , mine-ingest ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:       true,
				ServiceModeFSUpdater:  true,
				ServiceModeMineIngest: true,
			},
		},
		{
			name:        "invalid service name",
			input:       "http,reaper",
			expectError: true,
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       ",,,",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAppConfigDefaultsFromEnv(t *testing.T) {
	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	require.NoError(t, cfg.Sanitize())

	assert.Equal(t, "http", cfg.Services)
	assert.True(t, cfg.IsHTTPServerEnabled())
	assert.False(t, cfg.IsFileserverUpdaterEnabled())
	assert.Equal(t, ":4506", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.DefaultTimeout)
	assert.Equal(t, time.Second, cfg.Lock.QuietWindow)
	assert.Equal(t, MineBackendBadger, cfg.Mine.Backend)
	assert.False(t, cfg.Postgres.Enabled)
}

func TestAppConfigEnvOverrides(t *testing.T) {
	t.Setenv("SERVICES", "http,mine-ingest")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("DISPATCH_DEFAULT_TIMEOUT", "30s")
	t.Setenv("MINE_BACKEND", "redis")
	t.Setenv("FS_REMOTES", "https://example.com/a.git,https://example.com/b.git")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	require.NoError(t, cfg.Sanitize())

	assert.True(t, cfg.IsMineIngestEnabled())
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.DefaultTimeout)
	assert.Equal(t, MineBackendRedis, cfg.Mine.Backend)
	assert.Len(t, cfg.Fileserver.Remotes, 2)
}

func TestSanitizeRejectsBadMineBackend(t *testing.T) {
	cfg := AppConfig{
		Fileserver: FileserverConfig{CacheRoot: "/tmp/x"},
		Mine:       MineConfig{Backend: "etcd"},
	}
	require.Error(t, cfg.Sanitize())
}

func TestAgentConfigGrains(t *testing.T) {
	cfg := AgentConfig{ID: "node-1", Grains: `{"os":"linux"}`}
	grains, err := cfg.LoadGrains()
	require.NoError(t, err)
	assert.JSONEq(t, `{"os":"linux"}`, string(grains))

	bad := AgentConfig{ID: "node-1", Grains: `["not","an","object"]`}
	_, err = bad.LoadGrains()
	require.Error(t, err)
}
