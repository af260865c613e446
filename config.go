package ravendb

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ravendb/ravendb.go/pkg/constants"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config describes how a DocumentStore reaches its server and the defaults
// its sessions start with.
type Config struct {
	// URLs lists the server nodes. Only the first one is used; topology
	// and failover are the server's business.
	URLs     []string `yaml:"urls"`
	Database string   `yaml:"database"`

	MaxRequestsPerSession    int           `yaml:"max_requests_per_session"`
	UseOptimisticConcurrency bool          `yaml:"use_optimistic_concurrency"`
	RequestTimeout           time.Duration `yaml:"request_timeout"`
	LazyRetryInterval        time.Duration `yaml:"lazy_retry_interval"`
	LogLevel                 string        `yaml:"log_level"`
}

// NewConfig returns a configuration for one server and database with every
// other setting at its default.
func NewConfig(serverURL, database string) *Config {
	c := defaultConfig()
	if serverURL != "" {
		c.URLs = []string{serverURL}
	}
	c.Database = database
	return c
}

func defaultConfig() *Config {
	return &Config{
		MaxRequestsPerSession: constants.DefaultMaxRequestsPerSession,
		RequestTimeout:        constants.DefaultHTTPTimeout,
		LazyRetryInterval:     constants.DefaultLazyRetryInterval,
		LogLevel:              "info",
	}
}

// LoadConfig reads a YAML configuration file. Settings missing from the file
// keep their defaults, and RAVENDB_URL / RAVENDB_DATABASE override the file.
// An empty path reads the environment only.
func LoadConfig(path string) (*Config, error) {
	c := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}

	c.URLs = GetEnvListOrDefault(EnvURL, c.URLs)
	c.Database = GetEnvOrDefault(EnvDatabase, c.Database)
	return c, c.Validate()
}

// Validate reports the first problem with the configuration.
func (c *Config) Validate() error {
	if len(c.URLs) == 0 {
		return constants.ErrNoBaseURL
	}
	for _, raw := range c.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: url %q: %v", ErrInvalidConfig, raw, err)
		}
		if u.Scheme != constants.HTTPScheme && u.Scheme != constants.HTTPSecureScheme {
			return fmt.Errorf("%w: url %q must use http or https", ErrInvalidConfig, raw)
		}
		if u.Host == "" {
			return fmt.Errorf("%w: url %q has no host", ErrInvalidConfig, raw)
		}
	}
	if c.Database == "" {
		return constants.ErrNoDatabase
	}
	if c.MaxRequestsPerSession <= 0 {
		return fmt.Errorf("%w: max requests per session must be positive, got %d", ErrInvalidConfig, c.MaxRequestsPerSession)
	}
	if c.RequestTimeout < 0 || c.LazyRetryInterval < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ServerURL returns the parsed address of the first node.
func (c *Config) ServerURL() (*url.URL, error) {
	if len(c.URLs) == 0 {
		return nil, constants.ErrNoBaseURL
	}
	return url.Parse(c.URLs[0])
}
