package fakeserver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

const lastModifiedLayout = "2006-01-02T15:04:05.0000000Z"

// StoredDocument is one document as the server keeps it.
type StoredDocument struct {
	ID           string
	Collection   string
	ChangeVector string
	LastModified string
	Body         document.Document
	Metadata     document.Document

	Counters    map[string]int64
	Attachments map[string]Attachment
	TimeSeries  map[string][]TimeSeriesEntry
	Revisions   int
}

type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type TimeSeriesEntry struct {
	Timestamp string
	Values    []float64
	Tag       string
}

type CompareExchangeValue struct {
	Index int64
	Value any
}

// state is everything a batch may modify. Batches run against a deep copy
// and replace the live state only when every command succeeded.
type state struct {
	Docs            map[string]*StoredDocument
	CompareExchange map[string]CompareExchangeValue
	Etag            int64
	ClusterIndex    int64
}

type database struct {
	name string
	id   string

	mu    sync.RWMutex
	state state
}

func newDatabase(name, id string) *database {
	return &database{
		name: name,
		id:   id,
		state: state{
			Docs:            map[string]*StoredDocument{},
			CompareExchange: map[string]CompareExchangeValue{},
		},
	}
}

func (db *database) snapshot() (state, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out state
	if err := deepcopy.Copy(&out, db.state); err != nil {
		return state{}, fmt.Errorf("snapshot of %s: %w", db.name, err)
	}
	return out, nil
}

func (db *database) get(id string) (document.Document, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	d, ok := db.state.Docs[strings.ToLower(id)]
	if !ok {
		return nil, false
	}
	return d.document(), true
}

func (db *database) changeVector(id string) (string, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	d, ok := db.state.Docs[strings.ToLower(id)]
	if !ok {
		return "", false
	}
	return d.ChangeVector, true
}

func (db *database) attachment(id, name string) (Attachment, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	d, ok := db.state.Docs[strings.ToLower(id)]
	if !ok {
		return Attachment{}, false
	}
	a, ok := d.Attachments[name]
	return a, ok
}

// all returns every document in id order.
func (db *database) all() []document.Document {
	db.mu.RLock()
	defer db.mu.RUnlock()
	keys := make([]string, 0, len(db.state.Docs))
	for k := range db.state.Docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]document.Document, len(keys))
	for i, k := range keys {
		out[i] = db.state.Docs[k].document()
	}
	return out
}

func (db *database) commit(next state) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.state = next
}

// Put stores a document directly, bypassing change vector checks. It is
// meant for seeding test data.
func (s *Server) Put(databaseName, id string, doc document.Document) error {
	db := s.database(databaseName)
	if db == nil {
		return fmt.Errorf("unknown database %q", databaseName)
	}
	st, err := db.snapshot()
	if err != nil {
		return err
	}
	putDocument(&st, db.id, id, doc)
	db.commit(st)
	return nil
}

// Get returns a stored document with its server metadata.
func (s *Server) Get(databaseName, id string) (document.Document, bool) {
	db := s.database(databaseName)
	if db == nil {
		return nil, false
	}
	return db.get(id)
}

// Counter returns the value of a stored counter.
func (s *Server) Counter(databaseName, id, name string) (int64, bool) {
	db := s.database(databaseName)
	if db == nil {
		return 0, false
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	d, ok := db.state.Docs[strings.ToLower(id)]
	if !ok {
		return 0, false
	}
	v, ok := d.Counters[name]
	return v, ok
}

// TimeSeries returns the entries of a stored series.
func (s *Server) TimeSeries(databaseName, id, name string) []TimeSeriesEntry {
	db := s.database(databaseName)
	if db == nil {
		return nil
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	d, ok := db.state.Docs[strings.ToLower(id)]
	if !ok {
		return nil
	}
	return append([]TimeSeriesEntry(nil), d.TimeSeries[name]...)
}

// Attachment returns a stored attachment.
func (s *Server) Attachment(databaseName, id, name string) (Attachment, bool) {
	db := s.database(databaseName)
	if db == nil {
		return Attachment{}, false
	}
	return db.attachment(id, name)
}

// CompareExchange returns a stored compare exchange value.
func (s *Server) CompareExchange(databaseName, key string) (CompareExchangeValue, bool) {
	db := s.database(databaseName)
	if db == nil {
		return CompareExchangeValue{}, false
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.state.CompareExchange[key]
	return v, ok
}

// Revisions returns how many forced revisions a document has.
func (s *Server) Revisions(databaseName, id string) int {
	db := s.database(databaseName)
	if db == nil {
		return 0
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if d, ok := db.state.Docs[strings.ToLower(id)]; ok {
		return d.Revisions
	}
	return 0
}

func nextChangeVector(st *state, dbID string) string {
	st.Etag++
	return fmt.Sprintf("A:%d-%s", st.Etag, dbID)
}

func now() string {
	return time.Now().UTC().Format(lastModifiedLayout)
}

// putDocument splits doc into body and metadata and stores it under id.
func putDocument(st *state, dbID, id string, doc document.Document) *StoredDocument {
	body := document.Clone(doc)
	meta := body.Metadata()
	delete(body, constants.MetadataKey)

	userMeta := document.Document{}
	for k, v := range meta {
		switch k {
		case constants.MetadataID, constants.MetadataChangeVector, constants.MetadataLastModified,
			constants.MetadataCounters, constants.MetadataAttachments, metadataTimeSeries:
		default:
			userMeta[k] = v
		}
	}
	collection, _ := userMeta[constants.MetadataCollection].(string)
	if collection == "" {
		collection = constants.EmptyCollection
	}

	key := strings.ToLower(id)
	stored, ok := st.Docs[key]
	if !ok {
		stored = &StoredDocument{ID: id}
		st.Docs[key] = stored
	}
	stored.Collection = collection
	stored.Body = body
	stored.Metadata = userMeta
	touch(st, dbID, stored)
	return stored
}

func touch(st *state, dbID string, d *StoredDocument) {
	d.ChangeVector = nextChangeVector(st, dbID)
	d.LastModified = now()
}

const metadataTimeSeries = "@timeseries"

// document renders the stored document with its server metadata.
func (d *StoredDocument) document() document.Document {
	out := document.Clone(d.Body)
	if out == nil {
		out = document.Document{}
	}
	meta := document.Clone(d.Metadata)
	if meta == nil {
		meta = document.Document{}
	}
	meta[constants.MetadataID] = d.ID
	meta[constants.MetadataChangeVector] = d.ChangeVector
	meta[constants.MetadataLastModified] = d.LastModified
	meta[constants.MetadataCollection] = d.Collection

	if len(d.Counters) > 0 {
		meta[constants.MetadataCounters] = anyList(sortedKeys(d.Counters))
	}
	if len(d.Attachments) > 0 {
		names := sortedKeys(d.Attachments)
		list := make([]any, len(names))
		for i, n := range names {
			a := d.Attachments[n]
			list[i] = map[string]any{"Name": a.Name, "ContentType": a.ContentType, "Size": len(a.Data)}
		}
		meta[constants.MetadataAttachments] = list
	}
	if len(d.TimeSeries) > 0 {
		meta[metadataTimeSeries] = anyList(sortedKeys(d.TimeSeries))
	}
	out[constants.MetadataKey] = meta
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// anyList converts names into the []any shape decoded JSON metadata has.
func anyList(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
