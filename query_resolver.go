package ravendb

import (
	"context"
	"fmt"
	"net/http"
	"reflect"

	"github.com/ravendb/ravendb.go/pkg/connection"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
	"github.com/ravendb/ravendb.go/pkg/query"
)

// QueryResult holds the entities a query returned and the statistics the
// server reported for it.
type QueryResult[T any] struct {
	Results    []T
	Statistics QueryStatistics
}

func (r *QueryResult[T]) All() []T {
	if r == nil || len(r.Results) == 0 {
		return []T{}
	}
	return r.Results
}

// First returns the first result, or false when there are none.
func (r *QueryResult[T]) First() (T, bool) {
	var zero T
	if r == nil || len(r.Results) == 0 {
		return zero, false
	}
	return r.Results[0], true
}

// queryRequestBody is what POST /queries expects.
type queryRequestBody struct {
	Query                         string
	QueryParameters               map[string]any
	WaitForNonStaleResults        bool   `json:",omitempty"`
	WaitForNonStaleResultsTimeout string `json:",omitempty"`
}

func newQueryRequestBody(q *query.Query) queryRequestBody {
	body := queryRequestBody{
		Query:                  q.Text,
		QueryParameters:        q.Parameters,
		WaitForNonStaleResults: q.WaitForNonStaleResults,
	}
	if q.WaitForNonStaleResults && q.Timeout > 0 {
		body.WaitForNonStaleResultsTimeout = q.Timeout.String()
	}
	return body
}

// ExecuteQuery runs the query and materializes its results as T. Full
// documents are tracked like loaded ones; projections and no-tracking
// queries return detached values.
func ExecuteQuery[T any](ctx context.Context, s *Session, b *query.Builder) (*QueryResult[T], error) {
	q, body, err := s.runQuery(ctx, b)
	if err != nil {
		return nil, err
	}
	return materializeQuery[T](s, q, body)
}

func (s *Session) runQuery(ctx context.Context, b *query.Builder) (*query.Query, []byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, nil, err
	}
	q, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	if err := s.incrementRequestCount(); err != nil {
		return nil, nil, err
	}
	resp, err := s.transport.Execute(ctx, &connection.Request{
		Method:      http.MethodPost,
		Path:        "/queries",
		ContentType: "application/json",
		Body:        connection.JSONBody(s.conventions.Marshaler, newQueryRequestBody(q)),
	})
	if err != nil {
		return nil, nil, err
	}
	return q, resp.Body, nil
}

func materializeQuery[T any](s *Session, q *query.Query, body []byte) (*QueryResult[T], error) {
	parsed, err := parseQueryResponse(body)
	if err != nil {
		return nil, err
	}
	if q.WaitForNonStaleResults && parsed.Stats.IsStale {
		return nil, fmt.Errorf("%w: index %s", ErrStaleResults, parsed.Stats.IndexName)
	}

	s.registerIncludes(parsed.Includes)
	t := entityType[T]()
	out := &QueryResult[T]{Statistics: parsed.Stats, Results: make([]T, 0, len(parsed.Results))}
	for _, doc := range parsed.Results {
		if doc == nil {
			continue
		}
		v, err := s.queryEntity(t, q, doc)
		if err != nil {
			return nil, err
		}
		r, err := castEntity[T](v)
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

func (s *Session) queryEntity(t reflect.Type, q *query.Query, doc document.Document) (any, error) {
	meta := doc.Metadata()
	id := meta.String(constants.MetadataID)
	projection, _ := meta[constants.MetadataProjection].(bool)
	if q.Projection || projection || q.NoTracking || id == "" {
		return s.conventions.Decode(t, id, doc)
	}
	return s.trackEntity(t, id, doc)
}

// QueryAll returns every entity the query matches.
func QueryAll[T any](ctx context.Context, s *Session, b *query.Builder) ([]T, error) {
	res, err := ExecuteQuery[T](ctx, s, b)
	if err != nil {
		return nil, err
	}
	return res.All(), nil
}

// QueryFirst returns the first match, or the zero value of T when nothing
// matches. Structured queries are limited to one result.
func QueryFirst[T any](ctx context.Context, s *Session, b *query.Builder) (T, error) {
	var zero T
	if !b.IsRaw() {
		b = b.Clone().Take(1)
	}
	res, err := ExecuteQuery[T](ctx, s, b)
	if err != nil {
		return zero, err
	}
	first, _ := res.First()
	return first, nil
}

// QueryCount returns the number of matches without materializing them.
func QueryCount(ctx context.Context, s *Session, b *query.Builder) (int64, error) {
	if !b.IsRaw() {
		b = b.Clone().Take(0)
	}
	_, body, err := s.runQuery(ctx, b)
	if err != nil {
		return 0, err
	}
	parsed, err := parseQueryResponse(body)
	if err != nil {
		return 0, err
	}
	return parsed.Stats.TotalResults, nil
}
