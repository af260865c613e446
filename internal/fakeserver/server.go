// Package fakeserver provides an in-memory document server for tests. It
// speaks enough of the HTTP and changes WebSocket protocol for sessions to
// load, query, save and subscribe against it, and keeps the stub and failure
// injection hooks needed to exercise error paths.
//
// Queries understand a small RQL subset: from a collection or @all_docs,
// where clauses joined by and/or, order by, select of plain fields, include
// and limit. Patches understand assignments, increments and array pushes of
// script arguments.
package fakeserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/ravendb/ravendb.go/internal/codec"
	fakerand "github.com/ravendb/ravendb.go/internal/rand"
)

const databaseIDLength = 22

// FailureType is the kind of failure injected while handling a request.
type FailureType string

const (
	FailureNone FailureType = "none"
	// FailureRequestDelay sleeps before handling the request.
	FailureRequestDelay FailureType = "request_delay"
	// FailureRandomDelay sleeps up to one second.
	FailureRandomDelay FailureType = "random_delay"
	// FailureInvalidResponse answers 200 with random bytes.
	FailureInvalidResponse FailureType = "invalid_response"
	// FailurePartialMessage answers 200 with the first half of the stub body.
	FailurePartialMessage FailureType = "partial_message"
	// FailureDropConnection closes the TCP connection without answering.
	FailureDropConnection FailureType = "drop_connection"
)

// RequestMatcher selects requests by method and path, optionally refined
// by Matcher. An empty Method matches any method.
type RequestMatcher struct {
	Method  string
	Path    string
	Matcher func(r *http.Request) bool
}

func (m RequestMatcher) matches(r *http.Request) bool {
	if m.Method != "" && m.Method != r.Method {
		return false
	}
	if m.Path != "" && m.Path != r.URL.Path {
		return false
	}
	return m.Matcher == nil || m.Matcher(r)
}

// StubResponse answers matching requests instead of the built-in handlers.
type StubResponse struct {
	Matcher  RequestMatcher
	Status   int
	Body     any
	Failures []FailureConfig
	// Times limits how often the stub answers. Zero means always.
	Times int

	used int
}

type FailureConfig struct {
	Type        FailureType
	Probability float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// MatchPath matches requests by method and exact path.
func MatchPath(method, path string) RequestMatcher {
	return RequestMatcher{Method: method, Path: path}
}

// SimpleStubResponse answers method and path with status and body.
func SimpleStubResponse(method, path string, status int, body any) StubResponse {
	return StubResponse{Matcher: MatchPath(method, path), Status: status, Body: body}
}

// Server is a fake document server for one or more databases.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	router   *mux.Router

	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler

	mu             sync.RWMutex
	databases      map[string]*database
	stubResponses  []*StubResponse
	globalFailures []FailureConfig
	forceRetry     int
	staleQueries   int

	requests   atomic.Int64
	byEndpoint sync.Map

	changes *hub
}

// NewServer creates a server with the named databases. Use "127.0.0.1:0"
// to bind to a random available port.
func NewServer(addr string, databases ...string) *Server {
	c := codec.JSON{}
	s := &Server{
		addr:        addr,
		marshaler:   c,
		unmarshaler: c,
		databases:   map[string]*database{},
		changes:     newHub(),
	}
	for _, name := range databases {
		s.databases[name] = newDatabase(name, fakerand.NewID(databaseIDLength))
	}
	s.router = s.routes()
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.countRequests, s.applyStubs)
	r.HandleFunc("/build/version", s.handleBuildVersion).Methods(http.MethodGet)

	db := r.PathPrefix("/databases/{database}").Subrouter()
	db.Use(s.requireDatabase)
	db.HandleFunc("/docs", s.handleGetDocs).Methods(http.MethodGet)
	db.HandleFunc("/docs", s.handleHeadDoc).Methods(http.MethodHead)
	db.HandleFunc("/bulk_docs", s.handleBulkDocs).Methods(http.MethodPost)
	db.HandleFunc("/queries", s.handleQuery).Methods(http.MethodPost)
	db.HandleFunc("/multi_get", s.handleMultiGet).Methods(http.MethodPost)
	db.HandleFunc("/attachments", s.handleGetAttachment).Methods(http.MethodGet)
	db.HandleFunc("/changes", s.handleChanges)
	return r
}

// Handler exposes the router, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && !isUseOfClosedNetworkError(err) {
			log.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop closes the listener, every open connection and every changes socket.
func (s *Server) Stop() error {
	s.changes.closeAll()
	return s.http.Close()
}

// Address returns the address the server listens on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the server root as an http URL.
func (s *Server) URL() string {
	return "http://" + s.Address()
}

// AddStubResponse registers a stub. Stubs are matched in the order added.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = append(s.stubResponses, &stub)
}

// SetGlobalFailures sets failures checked for every request.
func (s *Server) SetGlobalFailures(failures []FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalFailures = failures
}

// ForceRetry marks the next n multi-get results as requiring a retry.
func (s *Server) ForceRetry(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceRetry = n
}

// StaleQueries makes the next n queries report stale results.
func (s *Server) StaleQueries(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleQueries = n
}

// Requests returns how many HTTP requests the server received.
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

// RequestsTo returns how many requests were sent to the database endpoint,
// such as "/docs" or "/bulk_docs".
func (s *Server) RequestsTo(endpoint string) int {
	v, ok := s.byEndpoint.Load(endpoint)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int64).Load())
}

// ResetCounters zeroes the request counters.
func (s *Server) ResetCounters() {
	s.requests.Store(0)
	s.byEndpoint.Range(func(key, _ any) bool {
		s.byEndpoint.Delete(key)
		return true
	})
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(internalHeader) == "" {
			s.requests.Add(1)
			v, _ := s.byEndpoint.LoadOrStore(endpointOf(r.URL.Path), new(atomic.Int64))
			v.(*atomic.Int64).Add(1)
		}
		next.ServeHTTP(w, r)
	})
}

func endpointOf(path string) string {
	if !strings.HasPrefix(path, "/databases/") {
		return path
	}
	rest := strings.TrimPrefix(path, "/databases/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i:]
	}
	return "/"
}

func (s *Server) applyStubs(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		globalFailures := s.globalFailures
		var matched *StubResponse
		for _, stub := range s.stubResponses {
			if stub.Times > 0 && stub.used >= stub.Times {
				continue
			}
			if stub.Matcher.matches(r) {
				stub.used++
				matched = stub
				break
			}
		}
		s.mu.Unlock()

		for _, failure := range globalFailures {
			if shouldTriggerFailure(failure.Probability) {
				if err := s.applyFailure(w, failure, nil); err != nil {
					return
				}
			}
		}
		if matched == nil {
			next.ServeHTTP(w, r)
			return
		}

		for _, failure := range matched.Failures {
			if shouldTriggerFailure(failure.Probability) {
				if err := s.applyFailure(w, failure, matched); err != nil {
					return
				}
			}
		}
		s.writeJSON(w, matched.Status, matched.Body)
	})
}

func (s *Server) applyFailure(w http.ResponseWriter, failure FailureConfig, stub *StubResponse) error {
	switch failure.Type {
	case FailureRequestDelay:
		time.Sleep(randomDuration(failure.MinDelay, failure.MaxDelay))

	case FailureRandomDelay:
		time.Sleep(time.Duration(fakerand.Int64N(int64(time.Second))))

	case FailureInvalidResponse:
		data := make([]byte, 100)
		fakerand.Read(data)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return fmt.Errorf("invalid response sent")

	case FailurePartialMessage:
		var body any
		if stub != nil {
			body = stub.Body
		}
		data, err := s.marshaler.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to send partial message: %w", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data[:len(data)/2])
		return fmt.Errorf("partial message sent")

	case FailureDropConnection:
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "connection dropped", http.StatusServiceUnavailable)
			return fmt.Errorf("connection dropped")
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
		return fmt.Errorf("connection dropped")
	}
	return nil
}

func (s *Server) requireDatabase(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["database"]
		if s.database(name) == nil {
			s.writeError(w, http.StatusServiceUnavailable, "Raven.Client.Exceptions.Database.DatabaseDoesNotExistException",
				fmt.Sprintf("Database '%s' does not exist.", name))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) database(name string) *database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.databases[name]
}

func (s *Server) handleBuildVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"BuildVersion":   60,
		"ProductVersion": "6.0",
		"CommitHash":     "fakeserver",
		"FullVersion":    "6.0.0-fake",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	data, err := s.marshaler.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, typ, message string) {
	s.writeJSON(w, status, map[string]any{
		"Type":    typ,
		"Message": message,
		"Error":   typ + ": " + message,
	})
}

func shouldTriggerFailure(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return fakerand.Float64() < probability
}

func randomDuration(dMin, dMax time.Duration) time.Duration {
	if dMin >= dMax {
		return dMin
	}
	return dMin + time.Duration(fakerand.Int64N(int64(dMax-dMin)))
}

func isUseOfClosedNetworkError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}
