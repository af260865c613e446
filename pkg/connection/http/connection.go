package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ravendb/ravendb.go/internal/codec"
	"github.com/ravendb/ravendb.go/pkg/connection"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/logger"
	"github.com/ravendb/ravendb.go/pkg/metrics"
)

const userAgent = "ravendb-go-client"

var _ connection.Transport = (*Connection)(nil)

type Connection struct {
	BaseURL     string
	Database    string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	httpClient *http.Client
	logger     logger.Logger
	metrics    *metrics.Collectors
}

func New(p *connection.Config) *Connection {
	con := Connection{
		BaseURL:     p.BaseURL,
		Database:    p.Database,
		Marshaler:   p.Marshaler,
		Unmarshaler: p.Unmarshaler,
		logger:      p.Logger,
		metrics:     p.Metrics,
	}
	if con.logger == nil {
		con.logger = logger.Nop()
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	con.httpClient = &http.Client{Timeout: timeout}

	return &con
}

// Ping checks that the server answers at all.
func (c *Connection) Ping(ctx context.Context) error {
	_, err := c.Execute(ctx, &connection.Request{
		Method:      http.MethodGet,
		Path:        "/build/version",
		ServerLevel: true,
	})
	return err
}

func (c *Connection) SetTimeout(timeout time.Duration) *Connection {
	c.httpClient.Timeout = timeout
	return c
}

func (c *Connection) SetHTTPClient(client *http.Client) *Connection {
	c.httpClient = client
	return c
}

func (c *Connection) GetUnmarshaler() codec.Unmarshaler {
	return c.Unmarshaler
}

// URL returns the absolute address of r.
func (c *Connection) URL(r *connection.Request) string {
	u := c.BaseURL
	if !r.ServerLevel {
		u += "/databases/" + c.Database
	}
	u += r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

func (c *Connection) Execute(ctx context.Context, r *connection.Request) (*connection.Response, error) {
	if c.BaseURL == "" {
		return nil, constants.ErrNoBaseURL
	}
	if c.Database == "" && !r.ServerLevel {
		return nil, constants.ErrNoDatabase
	}

	body := io.Reader(http.NoBody)
	if r.Body != nil {
		var buf bytes.Buffer
		if err := r.Body(&buf); err != nil {
			return nil, fmt.Errorf("encoding %s %s: %w", r.Method, r.Path, err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.URL(r), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}

	start := time.Now()
	resp, err := c.MakeRequest(req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordRequest(r.Method, resp.StatusCode, elapsed)
	c.logger.Debug("request", "method", r.Method, "url", req.URL.String(), "status", resp.StatusCode, "elapsed", elapsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.NotModified():
		return resp, nil
	case resp.NotFound() && r.AllowNotFound:
		return resp, nil
	}
	return nil, connection.NewRemoteError(resp.StatusCode, req.URL.String(), resp.Body)
}

// MakeRequest sends req and reads the whole response. Only transport
// failures are returned as errors.
func (c *Connection) MakeRequest(req *http.Request) (*connection.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &connection.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBytes,
	}, nil
}
