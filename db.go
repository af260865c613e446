package ravendb

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/ravendb/ravendb.go/pkg/changes"
	"github.com/ravendb/ravendb.go/pkg/connection"
	httpconn "github.com/ravendb/ravendb.go/pkg/connection/http"
	"github.com/ravendb/ravendb.go/pkg/entity"
	"github.com/ravendb/ravendb.go/pkg/logger"
	"github.com/ravendb/ravendb.go/pkg/metrics"
)

// DocumentStore is the long lived entry point: it holds the configuration,
// the conventions and the transports, and opens sessions. It is safe for
// concurrent use; the sessions it opens are not.
type DocumentStore struct {
	config      Config
	conventions *entity.Conventions
	idGenerator IDGenerator
	logger      logger.Logger
	metrics     *metrics.Collectors
	httpClient  *http.Client

	// transport, when set, serves every database.
	transport connection.Transport

	mu         sync.Mutex
	transports map[string]connection.Transport
	closed     bool
}

type StoreOption func(s *DocumentStore)

// WithTransport replaces the HTTP transport, for every database.
func WithTransport(t connection.Transport) StoreOption {
	return func(s *DocumentStore) { s.transport = t }
}

func WithHTTPClient(c *http.Client) StoreOption {
	return func(s *DocumentStore) { s.httpClient = c }
}

func WithLogger(l logger.Logger) StoreOption {
	return func(s *DocumentStore) { s.logger = l }
}

// WithMetrics records requests, batches and sessions into c.
func WithMetrics(c *metrics.Collectors) StoreOption {
	return func(s *DocumentStore) { s.metrics = c }
}

func WithConventions(c *entity.Conventions) StoreOption {
	return func(s *DocumentStore) { s.conventions = c }
}

func WithIDGenerator(g IDGenerator) StoreOption {
	return func(s *DocumentStore) { s.idGenerator = g }
}

// NewDocumentStore validates cfg and creates a store. Without WithLogger the
// store logs to stderr at cfg.LogLevel.
func NewDocumentStore(cfg *Config, opts ...StoreOption) (*DocumentStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &DocumentStore{
		config:     *cfg,
		transports: map[string]connection.Transport{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.conventions == nil {
		s.conventions = entity.DefaultConventions()
	}
	if s.idGenerator == nil {
		s.idGenerator = UUIDGenerator{}
	}
	if s.logger == nil {
		l, err := logger.New().FromBuffer(os.Stderr).WithLevel(cfg.LogLevel).Make()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}
	return s, nil
}

func (s *DocumentStore) Config() Config { return s.config }

func (s *DocumentStore) Conventions() *entity.Conventions { return s.conventions }

func (s *DocumentStore) Logger() logger.Logger { return s.logger }

// Database is the default database of the sessions the store opens.
func (s *DocumentStore) Database() string { return s.config.Database }

// Close marks the store closed; open sessions keep working until closed
// themselves, new ones are refused.
func (s *DocumentStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.transports = map[string]connection.Transport{}
}

// Ping checks that the server answers.
func (s *DocumentStore) Ping(ctx context.Context) error {
	t, err := s.transportFor(s.config.Database)
	if err != nil {
		return err
	}
	_, err = t.Execute(ctx, &connection.Request{
		Method:      http.MethodGet,
		Path:        "/build/version",
		ServerLevel: true,
	})
	return err
}

// Changes opens a change notification client for the store's database.
func (s *DocumentStore) Changes(ctx context.Context, opts ...changes.Option) (*changes.Client, error) {
	return s.ChangesFor(ctx, s.config.Database, opts...)
}

func (s *DocumentStore) ChangesFor(ctx context.Context, database string, opts ...changes.Option) (*changes.Client, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("%w: store is closed", ErrSessionClosed)
	}
	u, err := s.config.ServerURL()
	if err != nil {
		return nil, err
	}
	opts = append([]changes.Option{changes.WithLogger(s.logger)}, opts...)
	return changes.Dial(ctx, u.String(), database, opts...)
}

func (s *DocumentStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// transportFor returns the transport bound to database, creating the HTTP
// connection on first use.
func (s *DocumentStore) transportFor(database string) (connection.Transport, error) {
	if s.transport != nil {
		return s.transport, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transports[database]; ok {
		return t, nil
	}

	u, err := s.config.ServerURL()
	if err != nil {
		return nil, err
	}
	p := connection.NewConfig(u, database)
	p.Logger = s.logger
	p.Metrics = s.metrics
	p.Timeout = s.config.RequestTimeout
	p.Marshaler = s.conventions.Marshaler
	p.Unmarshaler = s.conventions.Unmarshaler
	if err := p.Validate(); err != nil {
		return nil, err
	}

	conn := httpconn.New(p)
	if s.httpClient != nil {
		conn.SetHTTPClient(s.httpClient)
	}
	s.transports[database] = conn
	return conn, nil
}
