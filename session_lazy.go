package ravendb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ravendb/ravendb.go/pkg/connection"
	"github.com/ravendb/ravendb.go/pkg/query"
)

// lazyOperation is a read registered with the session and executed later,
// together with the other pending reads, in one multi-get round trip.
type lazyOperation interface {
	request() connection.GetRequest
	// handle consumes the sub-response. It returns false when the operation
	// is not satisfied yet and must be sent again.
	handle(resp *connection.GetResponse) bool
}

// Lazy is a value that is computed on first use. Evaluating any pending
// Lazy of a session evaluates all of them.
type Lazy[T any] struct {
	s       *Session
	value   T
	err     error
	created bool
}

// Value evaluates the pending lazy operations of the session if this one
// has not run yet, and returns its result.
func (l *Lazy[T]) Value(ctx context.Context) (T, error) {
	if !l.created {
		if err := l.s.ExecuteAllPendingLazyOperations(ctx); err != nil && !l.created {
			var zero T
			return zero, err
		}
	}
	return l.value, l.err
}

func (l *Lazy[T]) IsValueCreated() bool { return l.created }

func (l *Lazy[T]) set(v T, err error) {
	l.value, l.err, l.created = v, err, true
}

func resolvedLazy[T any](s *Session, v T, err error) *Lazy[T] {
	l := &Lazy[T]{s: s}
	l.set(v, err)
	return l
}

// LazyLoad registers a load of id. Entities already known to the session are
// resolved at once, without joining the next round trip.
func LazyLoad[T any](s *Session, id string, opts ...LoadOption) *Lazy[T] {
	var zero T
	if err := s.checkOpen(); err != nil {
		return resolvedLazy(s, zero, err)
	}
	if id == "" {
		return resolvedLazy(s, zero, ErrBlankID)
	}
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !s.needsFetch(id, o.includes) {
		v, err := Load[T](context.Background(), s, id, opts...)
		return resolvedLazy(s, v, err)
	}

	l := &Lazy[T]{s: s}
	s.lazy = append(s.lazy, &lazyLoad[T]{lazy: l, id: id, includes: o.includes})
	return l
}

type lazyLoad[T any] struct {
	lazy     *Lazy[T]
	id       string
	includes []string
}

func (op *lazyLoad[T]) request() connection.GetRequest {
	q := url.Values{"id": {op.id}}
	for _, inc := range op.includes {
		q.Add("include", inc)
	}
	return connection.GetRequest{Path: "/docs", Query: q}
}

func (op *lazyLoad[T]) handle(resp *connection.GetResponse) bool {
	s := op.lazy.s
	var zero T
	if resp.RequestFailed() && resp.StatusCode != http.StatusNotFound {
		op.lazy.set(zero, subRequestError(resp))
		return true
	}
	fetched, err := s.registerDocuments([]string{op.id}, &connection.Response{StatusCode: resp.StatusCode, Body: resp.Result})
	if err != nil {
		op.lazy.set(zero, err)
		return true
	}
	v, ok, err := s.resolveLoaded(entityType[T](), op.id, fetched)
	if err != nil || !ok {
		op.lazy.set(zero, err)
		return true
	}
	op.lazy.set(castEntity[T](v))
	return true
}

// LazyQuery registers a query. When the query waits for non-stale results,
// a stale answer keeps the operation pending and the round trip is repeated.
func LazyQuery[T any](s *Session, b *query.Builder) *Lazy[[]T] {
	if err := s.checkOpen(); err != nil {
		return resolvedLazy[[]T](s, nil, err)
	}
	q, err := b.Build()
	if err != nil {
		return resolvedLazy[[]T](s, nil, err)
	}
	l := &Lazy[[]T]{s: s}
	s.lazy = append(s.lazy, &lazyQuery[T]{lazy: l, q: q})
	return l
}

type lazyQuery[T any] struct {
	lazy *Lazy[[]T]
	q    *query.Query
}

func (op *lazyQuery[T]) request() connection.GetRequest {
	return queryGetRequest(op.q)
}

func queryGetRequest(q *query.Query) connection.GetRequest {
	return connection.GetRequest{
		Path:    "/queries",
		Method:  http.MethodPost,
		Content: newQueryRequestBody(q),
	}
}

func (op *lazyQuery[T]) handle(resp *connection.GetResponse) bool {
	if resp.RequestFailed() {
		op.lazy.set(nil, subRequestError(resp))
		return true
	}
	if stale, ok := staleWait(op.q, resp); ok && stale {
		return false
	}
	res, err := materializeQuery[T](op.lazy.s, op.q, resp.Result)
	if err != nil {
		op.lazy.set(nil, err)
		return true
	}
	op.lazy.set(res.All(), nil)
	return true
}

// LazyCount registers a count of the query's matches.
func LazyCount(s *Session, b *query.Builder) *Lazy[int64] {
	if err := s.checkOpen(); err != nil {
		return resolvedLazy[int64](s, 0, err)
	}
	if !b.IsRaw() {
		b = b.Clone().Take(0)
	}
	q, err := b.Build()
	if err != nil {
		return resolvedLazy[int64](s, 0, err)
	}
	l := &Lazy[int64]{s: s}
	s.lazy = append(s.lazy, &lazyCount{lazy: l, q: q})
	return l
}

type lazyCount struct {
	lazy *Lazy[int64]
	q    *query.Query
}

func (op *lazyCount) request() connection.GetRequest {
	return queryGetRequest(op.q)
}

func (op *lazyCount) handle(resp *connection.GetResponse) bool {
	if resp.RequestFailed() {
		op.lazy.set(0, subRequestError(resp))
		return true
	}
	if stale, ok := staleWait(op.q, resp); ok && stale {
		return false
	}
	parsed, err := parseQueryResponse(resp.Result)
	if err != nil {
		op.lazy.set(0, err)
		return true
	}
	op.lazy.set(parsed.Stats.TotalResults, nil)
	return true
}

// staleWait reports whether a query that waits for non-stale results got a
// stale answer.
func staleWait(q *query.Query, resp *connection.GetResponse) (stale bool, waiting bool) {
	if !q.WaitForNonStaleResults {
		return false, false
	}
	parsed, err := parseQueryResponse(resp.Result)
	if err != nil {
		return false, true
	}
	return parsed.Stats.IsStale, true
}

func subRequestError(resp *connection.GetResponse) error {
	return connection.NewRemoteError(resp.StatusCode, "multi_get", resp.Result)
}

// ExecuteAllPendingLazyOperations sends every pending lazy operation in one
// multi-get round trip, in registration order. Operations that are not
// satisfied yet are sent again, paced by an exponential backoff, until all
// of them are. Every round trip counts against the request budget.
func (s *Session) ExecuteAllPendingLazyOperations(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	pending := s.lazy
	s.lazy = nil
	if len(pending) == 0 {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.lazyRetryInterval
	b.MaxElapsedTime = 0
	b.Reset()

	for round := 1; ; round++ {
		retry, err := s.lazyRoundTrip(ctx, pending)
		if err != nil {
			s.lazy = append(pending, s.lazy...)
			return err
		}
		if len(retry) == 0 {
			return nil
		}
		pending = retry

		wait := b.NextBackOff()
		s.logger.Debug("retrying lazy operations", "pending", len(pending), "round", round, "wait", wait)
		select {
		case <-ctx.Done():
			s.lazy = append(pending, s.lazy...)
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Session) lazyRoundTrip(ctx context.Context, ops []lazyOperation) ([]lazyOperation, error) {
	if err := s.incrementRequestCount(); err != nil {
		return nil, err
	}
	reqs := make([]connection.GetRequest, len(ops))
	for i, op := range ops {
		reqs[i] = op.request()
	}
	resp, err := s.transport.Execute(ctx, connection.MultiGet(s.database, s.conventions.Marshaler, reqs))
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLazyRoundTrip()

	results, err := connection.ParseMultiGet(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(results) != len(ops) {
		return nil, fmt.Errorf("%w: %d result(s) for %d lazy operation(s)", ErrMalformedResponse, len(results), len(ops))
	}
	s.logger.Debug("executed lazy operations", "database", s.database, "operations", len(ops))

	var retry []lazyOperation
	for i, op := range ops {
		if results[i].ForceRetry || !op.handle(&results[i]) {
			retry = append(retry, op)
		}
	}
	return retry, nil
}
