package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebuybot/internal/core"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "dsn: ${TEST_DSN}",
			envVars:  map[string]string{"TEST_DSN": "postgres://bot@db/bots"},
			expected: "dsn: postgres://bot@db/bots",
		},
		{
			name:     "missing env var returns empty string",
			input:    "dsn: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "dsn: ",
		},
		{
			name:     "mixed static and env vars",
			input:    "driver: sqlite\ndsn: ${TEST_DSN}",
			envVars:  map[string]string{"TEST_DSN": "bots.db"},
			expected: "driver: sqlite\ndsn: bots.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `app:
  log_level: debug
store:
  driver: postgres
  dsn: "${TEST_STORE_DSN}"
runner:
  poll_interval: 2s
  stop_check_interval: 6s
supervisor:
  max_restarts: 3
  restart_window: 5m
api:
  listen_addr: "127.0.0.1:9000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TEST_STORE_DSN", "postgres://bot:pw@localhost/bots?sslmode=disable")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.App.LogLevel)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://bot:pw@localhost/bots?sslmode=disable", cfg.Store.DSN.Reveal())
	assert.Equal(t, 2*time.Second, cfg.Runner.PollInterval)
	assert.Equal(t, 6*time.Second, cfg.Runner.StopCheckInterval)
	assert.Equal(t, 3, cfg.Supervisor.MaxRestarts)
	assert.Equal(t, 5*time.Minute, cfg.Supervisor.RestartWindow)

	// untouched sections keep their defaults
	assert.Equal(t, 2*time.Second, cfg.Runner.EntrySettleDelay)
	assert.Equal(t, 10, cfg.Runner.BatchSize)
	assert.Equal(t, 300*time.Second, cfg.Credentials.TTL)
	assert.Equal(t, "bybit", cfg.Exchange.Name)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Runner.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.Runner.StopCheckInterval)
	assert.Equal(t, 60*time.Second, cfg.Runner.MaxBackoff)
	assert.Equal(t, 5*time.Second, cfg.Supervisor.RestartCooldown)
	assert.Equal(t, 5, cfg.Supervisor.MaxRestarts)
	assert.Equal(t, 10*time.Minute, cfg.Supervisor.RestartWindow)
	assert.Equal(t, "rebuybot", cfg.Telemetry.ServiceName)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown store driver", "store:\n  driver: mongo\n"},
		{"missing dsn", "store:\n  driver: sqlite\n  dsn: \"\"\n"},
		{"unknown log level", "app:\n  log_level: chatty\n"},
		{"unknown exchange", "exchange:\n  name: kraken\n"},
		{"stop check faster than poll", "runner:\n  poll_interval: 10s\n  stop_check_interval: 5s\n"},
		{"batch larger than exchange limit", "runner:\n  batch_size: 20\n"},
		{"bad base url", "exchange:\n  base_url: \"not a url\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_MemoryStoreNeedsNoDSN(t *testing.T) {
	cfg, err := Parse([]byte("store:\n  driver: memory\n  dsn: \"\"\n"))
	require.NoError(t, err)
	assert.Equal(t, core.Secret(""), cfg.Store.DSN)
}

func TestConfig_StringRedactsDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.DSN = "postgres://bot:hunter2@db/bots"

	out := cfg.String()
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "hunter2")
}
