package ravendb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"

	"github.com/ravendb/ravendb.go/pkg/connection"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

type loadOptions struct {
	includes []string
}

type LoadOption func(o *loadOptions)

// WithIncludes fetches the documents referenced by paths in the same round
// trip. Later loads of those documents are served from the session.
func WithIncludes(paths ...string) LoadOption {
	return func(o *loadOptions) { o.includes = append(o.includes, paths...) }
}

// entityType is the type Load and Query decode into. T is normally a
// pointer to a struct, such as *User.
func entityType[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func castEntity[T any](v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: have %T, want %s", ErrTypeMismatch, v, entityType[T]())
	}
	return t, nil
}

// Load returns the entity stored under id. An entity the session already
// tracks is returned as is, without a round trip. A missing document yields
// the zero value of T and no error.
func Load[T any](ctx context.Context, s *Session, id string, opts ...LoadOption) (T, error) {
	var zero T
	found, err := LoadMany[T](ctx, s, []string{id}, opts...)
	if err != nil {
		return zero, err
	}
	return found[id], nil
}

// LoadMany loads every id in one round trip, skipping ids the session
// already knows about. The result maps each requested id to its entity, or
// to the zero value of T when the document does not exist.
func LoadMany[T any](ctx context.Context, s *Session, ids []string, opts ...LoadOption) (map[string]T, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	var fetch []string
	seen := map[string]struct{}{}
	for _, id := range ids {
		if id == "" {
			return nil, ErrBlankID
		}
		if _, dup := seen[idKey(id)]; dup {
			continue
		}
		seen[idKey(id)] = struct{}{}
		if s.needsFetch(id, o.includes) {
			fetch = append(fetch, id)
		}
	}

	fetched := map[string]document.Document{}
	if len(fetch) > 0 {
		if err := s.incrementRequestCount(); err != nil {
			return nil, err
		}
		resp, err := s.transport.Execute(ctx, getDocumentsRequest(fetch, o.includes))
		if err != nil {
			return nil, err
		}
		if fetched, err = s.registerDocuments(fetch, resp); err != nil {
			return nil, err
		}
	}

	t := entityType[T]()
	out := make(map[string]T, len(ids))
	for _, id := range ids {
		v, ok, err := s.resolveLoaded(t, id, fetched)
		if err != nil {
			return nil, err
		}
		if !ok {
			var zero T
			out[id] = zero
			continue
		}
		if out[id], err = castEntity[T](v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func getDocumentsRequest(ids, includes []string) *connection.Request {
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id)
	}
	for _, inc := range includes {
		q.Add("include", inc)
	}
	return &connection.Request{
		Method:        http.MethodGet,
		Path:          "/docs",
		Query:         q,
		AllowNotFound: true,
	}
}

// needsFetch reports whether loading id (with includes) needs a round trip.
func (s *Session) needsFetch(id string, includes []string) bool {
	if _, missing := s.knownMissingIDs[idKey(id)]; missing {
		return false
	}
	var doc document.Document
	if info, ok := s.documentsByID[idKey(id)]; ok {
		doc = info.Document
		if doc == nil {
			// stored in this session, never saved; nothing to include from
			return false
		}
	} else if inc, ok := s.includedByID[idKey(id)]; ok {
		doc = inc
	} else {
		return true
	}
	for _, path := range includes {
		for _, ref := range includedIDs(doc, path) {
			if !s.isLoadedOrMissing(ref) {
				return true
			}
		}
	}
	return false
}

func (s *Session) isLoadedOrMissing(id string) bool {
	if s.IsLoaded(id) {
		return true
	}
	_, missing := s.knownMissingIDs[idKey(id)]
	return missing
}

// registerDocuments records a /docs response: includes go to the include
// cache, missing ids are remembered. It returns the requested documents by
// lower-cased id.
func (s *Session) registerDocuments(ids []string, resp *connection.Response) (map[string]document.Document, error) {
	fetched := map[string]document.Document{}
	if resp.NotFound() {
		for _, id := range ids {
			s.knownMissingIDs[idKey(id)] = struct{}{}
		}
		return fetched, nil
	}
	parsed, err := parseDocumentsResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		var doc document.Document
		if i < len(parsed.Results) {
			doc = parsed.Results[i]
		}
		if doc == nil {
			s.knownMissingIDs[idKey(id)] = struct{}{}
			continue
		}
		fetched[idKey(id)] = doc
	}
	s.registerIncludes(parsed.Includes)
	return fetched, nil
}

func (s *Session) registerIncludes(includes map[string]document.Document) {
	for id, doc := range includes {
		if doc == nil {
			s.knownMissingIDs[idKey(id)] = struct{}{}
			continue
		}
		if _, tracked := s.documentsByID[idKey(id)]; tracked {
			continue
		}
		s.includedByID[idKey(id)] = doc
	}
}

// resolveLoaded finds the entity for id among tracked entities, fresh
// results and the include cache, tracking it when needed.
func (s *Session) resolveLoaded(t reflect.Type, id string, fetched map[string]document.Document) (any, bool, error) {
	if info, ok := s.documentsByID[idKey(id)]; ok && info.Entity != nil {
		return info.Entity, true, nil
	}
	doc, ok := fetched[idKey(id)]
	if !ok {
		doc, ok = s.includedByID[idKey(id)]
	}
	if !ok {
		return nil, false, nil
	}
	v, err := s.trackEntity(t, id, doc)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// trackEntity returns the entity for a document received from the server.
// A tracked instance always wins over the received copy.
func (s *Session) trackEntity(t reflect.Type, id string, doc document.Document) (any, error) {
	if metaID := doc.Metadata().String(constants.MetadataID); metaID != "" {
		id = metaID
	}
	if id == "" {
		return nil, fmt.Errorf("%w: received a document without an id", ErrMalformedResponse)
	}
	if info, ok := s.documentsByID[idKey(id)]; ok && info.Entity != nil {
		return info.Entity, nil
	}

	ent, err := s.conventions.Decode(t, id, doc)
	if err != nil {
		return nil, err
	}
	if s.noTracking || s.pendingDelete(id) {
		return ent, nil
	}

	delete(s.includedByID, idKey(id))
	info := document.NewInfo(id, doc)
	info.Entity = ent
	s.track(info)
	return ent, nil
}

// Exists reports whether document id exists, without loading it.
func (s *Session) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if id == "" {
		return false, ErrBlankID
	}
	if _, missing := s.knownMissingIDs[idKey(id)]; missing {
		return false, nil
	}
	if _, ok := s.documentsByID[idKey(id)]; ok {
		return true, nil
	}
	if err := s.incrementRequestCount(); err != nil {
		return false, err
	}
	resp, err := s.transport.Execute(ctx, &connection.Request{
		Method:        http.MethodHead,
		Path:          "/docs",
		Query:         url.Values{"id": {id}},
		AllowNotFound: true,
	})
	if err != nil {
		return false, err
	}
	return !resp.NotFound(), nil
}

// Refresh reloads a tracked entity from the server, discarding its unsaved
// changes. The entity is updated in place.
func (s *Session) Refresh(ctx context.Context, entity any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	info, ok := s.documentsByEntity[entity]
	if !ok {
		return fmt.Errorf("%w: %T", ErrEntityNotTracked, entity)
	}
	if err := s.incrementRequestCount(); err != nil {
		return err
	}
	resp, err := s.transport.Execute(ctx, getDocumentsRequest([]string{info.ID}, nil))
	if err != nil {
		return err
	}
	if resp.NotFound() {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, info.ID)
	}
	parsed, err := parseDocumentsResponse(resp.Body)
	if err != nil {
		return err
	}
	if len(parsed.Results) == 0 || parsed.Results[0] == nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, info.ID)
	}
	return s.refreshInfo(info, parsed.Results[0])
}

// ConditionalLoad fetches id only if its change vector differs from
// changeVector. It returns the entity and the current change vector; the
// entity is the zero value when nothing changed or the document is gone,
// and the change vector is empty when it is gone. The result is not tracked.
func ConditionalLoad[T any](ctx context.Context, s *Session, id, changeVector string) (T, string, error) {
	var zero T
	if err := s.checkOpen(); err != nil {
		return zero, "", err
	}
	if id == "" {
		return zero, "", ErrBlankID
	}
	if err := s.incrementRequestCount(); err != nil {
		return zero, "", err
	}
	req := getDocumentsRequest([]string{id}, nil)
	if changeVector != "" {
		req.Header = http.Header{"If-None-Match": {`"` + changeVector + `"`}}
	}
	resp, err := s.transport.Execute(ctx, req)
	if err != nil {
		return zero, "", err
	}
	switch {
	case resp.NotModified():
		return zero, changeVector, nil
	case resp.NotFound():
		return zero, "", nil
	}

	parsed, err := parseDocumentsResponse(resp.Body)
	if err != nil {
		return zero, "", err
	}
	if len(parsed.Results) == 0 || parsed.Results[0] == nil {
		return zero, "", nil
	}
	doc := parsed.Results[0]
	v, err := s.conventions.Decode(entityType[T](), id, doc)
	if err != nil {
		return zero, "", err
	}
	out, err := castEntity[T](v)
	if err != nil {
		return zero, "", err
	}
	return out, doc.Metadata().String(constants.MetadataChangeVector), nil
}
