package ravendb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravendb/ravendb.go/pkg/constants"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ravendb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvURL, "")
	t.Setenv(EnvDatabase, "")
	path := writeConfig(t, `
urls:
  - http://localhost:8080
database: Northwind
max_requests_per_session: 5
use_optimistic_concurrency: true
request_timeout: 3s
log_level: debug
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:8080"}, c.URLs)
	assert.Equal(t, "Northwind", c.Database)
	assert.Equal(t, 5, c.MaxRequestsPerSession)
	assert.True(t, c.UseOptimisticConcurrency)
	assert.Equal(t, 3*time.Second, c.RequestTimeout)
	assert.Equal(t, constants.DefaultLazyRetryInterval, c.LazyRetryInterval)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	path := writeConfig(t, "urls: [http://file:8080]\ndatabase: FromFile\n")
	t.Setenv(EnvURL, "http://a:8080, http://b:8080,")
	t.Setenv(EnvDatabase, "FromEnv")

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a:8080", "http://b:8080"}, c.URLs)
	assert.Equal(t, "FromEnv", c.Database)

	c, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultMaxRequestsPerSession, c.MaxRequestsPerSession)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadConfig(writeConfig(t, "urls: {"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv(EnvURL, "")
	_, err = LoadConfig(writeConfig(t, "database: x\n"))
	assert.ErrorIs(t, err, constants.ErrNoBaseURL)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		err    error
	}{
		{"valid", func(*Config) {}, nil},
		{"no urls", func(c *Config) { c.URLs = nil }, constants.ErrNoBaseURL},
		{"bad scheme", func(c *Config) { c.URLs = []string{"ftp://host"} }, ErrInvalidConfig},
		{"no host", func(c *Config) { c.URLs = []string{"http://"} }, ErrInvalidConfig},
		{"no database", func(c *Config) { c.Database = "" }, constants.ErrNoDatabase},
		{"zero budget", func(c *Config) { c.MaxRequestsPerSession = 0 }, ErrInvalidConfig},
		{"negative timeout", func(c *Config) { c.RequestTimeout = -time.Second }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConfig("https://db.example.com", "db")
			tt.modify(c)
			err := c.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
