package connection

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ravendb/ravendb.go/internal/codec"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/logger"
	"github.com/ravendb/ravendb.go/pkg/metrics"
)

// Config holds everything a transport needs to reach one database.
type Config struct {
	URL         url.URL
	BaseURL     string
	Database    string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
	Metrics     *metrics.Collectors
	Timeout     time.Duration
}

// NewConfig creates a Config for the server at u and the named database,
// with the JSON codec, a discarding logger and the default timeout.
// The URL should be the server root, such as "http://localhost:8080".
func NewConfig(u *url.URL, database string) *Config {
	c := codec.JSON{}
	return &Config{
		URL:         *u,
		BaseURL:     fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, trimSlash(u.Path)),
		Database:    database,
		Marshaler:   c,
		Unmarshaler: c,
		Logger:      logger.Nop(),
		Timeout:     constants.DefaultHTTPTimeout,
	}
}

// Validate reports the first missing piece of the configuration.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return constants.ErrNoBaseURL
	case c.Database == "":
		return constants.ErrNoDatabase
	case c.Marshaler == nil:
		return constants.ErrNoMarshaler
	case c.Unmarshaler == nil:
		return constants.ErrNoUnmarshaler
	}
	return nil
}

func trimSlash(p string) string {
	for len(p) > 0 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}
