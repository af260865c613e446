package ravendb

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ravendb/ravendb.go/pkg/commands"
	"github.com/ravendb/ravendb.go/pkg/connection"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
	"github.com/ravendb/ravendb.go/pkg/entity"
	"github.com/ravendb/ravendb.go/pkg/logger"
	"github.com/ravendb/ravendb.go/pkg/metrics"
)

// Session is a unit of work against one database. It keeps one entity
// instance per document id, detects changes to the entities it tracks and
// writes all of them in a single batch on SaveChanges.
//
// A Session is not safe for concurrent use. Open one per unit of work and
// Close it when done.
type Session struct {
	database    string
	transport   connection.Transport
	conventions *entity.Conventions
	idGenerator IDGenerator
	logger      logger.Logger
	metrics     *metrics.Collectors

	maxRequests              int
	useOptimisticConcurrency bool
	noTracking               bool
	lazyRetryInterval        time.Duration

	requestCount int
	sequence     uint64
	closed       bool

	// documentsByID is keyed by lower-cased id.
	documentsByID     map[string]*document.Info
	documentsByEntity map[any]*document.Info
	// deletedEntities holds entities deleted in this session until the
	// next save commits their deletion.
	deletedEntities map[any]*document.Info
	knownMissingIDs map[string]struct{}
	includedByID    map[string]document.Document

	deferred      []commands.Command
	deferredIndex map[commands.Key]commands.Command

	lazy []lazyOperation

	patchValues int
}

type sessionOptions struct {
	database                 string
	maxRequests              int
	noTracking               bool
	useOptimisticConcurrency *bool
}

type SessionOption func(o *sessionOptions)

// WithDatabase opens the session against database instead of the store's.
func WithDatabase(database string) SessionOption {
	return func(o *sessionOptions) { o.database = database }
}

// WithMaxRequests overrides the request budget of the session.
func WithMaxRequests(n int) SessionOption {
	return func(o *sessionOptions) { o.maxRequests = n }
}

// WithNoTracking opens a read-only session: loaded entities are not
// tracked, and storing is refused.
func WithNoTracking() SessionOption {
	return func(o *sessionOptions) { o.noTracking = true }
}

func WithOptimisticConcurrency(enabled bool) SessionOption {
	return func(o *sessionOptions) { o.useOptimisticConcurrency = &enabled }
}

// OpenSession starts a unit of work.
func (s *DocumentStore) OpenSession(opts ...SessionOption) (*Session, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("%w: store is closed", ErrSessionClosed)
	}

	o := sessionOptions{
		database:    s.config.Database,
		maxRequests: s.config.MaxRequestsPerSession,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.database == "" {
		return nil, constants.ErrNoDatabase
	}
	if o.maxRequests <= 0 {
		return nil, fmt.Errorf("%w: max requests per session must be positive, got %d", ErrInvalidConfig, o.maxRequests)
	}

	t, err := s.transportFor(o.database)
	if err != nil {
		return nil, err
	}

	session := &Session{
		database:                 o.database,
		transport:                t,
		conventions:              s.conventions,
		idGenerator:              s.idGenerator,
		logger:                   s.logger,
		metrics:                  s.metrics,
		maxRequests:              o.maxRequests,
		useOptimisticConcurrency: s.config.UseOptimisticConcurrency,
		noTracking:               o.noTracking,
		lazyRetryInterval:        s.config.LazyRetryInterval,
	}
	if o.useOptimisticConcurrency != nil {
		session.useOptimisticConcurrency = *o.useOptimisticConcurrency
	}
	if session.lazyRetryInterval <= 0 {
		session.lazyRetryInterval = constants.DefaultLazyRetryInterval
	}
	session.reset()
	session.metrics.SessionOpened()
	return session, nil
}

func (s *Session) reset() {
	s.documentsByID = map[string]*document.Info{}
	s.documentsByEntity = map[any]*document.Info{}
	s.deletedEntities = map[any]*document.Info{}
	s.knownMissingIDs = map[string]struct{}{}
	s.includedByID = map[string]document.Document{}
	s.deferred = nil
	s.deferredIndex = map[commands.Key]commands.Command{}
	s.lazy = nil
}

func (s *Session) Database() string { return s.database }

// NumberOfRequests is how many round trips the session has made so far.
func (s *Session) NumberOfRequests() int { return s.requestCount }

func (s *Session) MaxRequests() int { return s.maxRequests }

// UseOptimisticConcurrency makes every write of a tracked entity carry the
// change vector it was loaded with.
func (s *Session) UseOptimisticConcurrency() bool { return s.useOptimisticConcurrency }

func (s *Session) SetUseOptimisticConcurrency(enabled bool) {
	s.useOptimisticConcurrency = enabled
}

// Close drops everything the session tracks. It makes no network calls and
// may be called more than once.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.reset()
	s.metrics.SessionClosed()
}

// Clear stops tracking every entity and drops pending deletions and
// deferred commands. The session stays usable.
func (s *Session) Clear() {
	s.reset()
}

func (s *Session) checkOpen() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) incrementRequestCount() error {
	s.requestCount++
	if s.requestCount > s.maxRequests {
		return &RequestBudgetExceededError{Count: s.requestCount, Max: s.maxRequests}
	}
	if s.maxRequests-s.requestCount == 1 {
		s.logger.Warn("session is one request away from its budget",
			"database", s.database, "requests", s.requestCount, "max", s.maxRequests)
	} else {
		s.logger.Debug("session request", "database", s.database, "requests", s.requestCount)
	}
	return nil
}

func idKey(id string) string { return strings.ToLower(id) }

// Store begins tracking entity. Its id comes from its identity field, or is
// generated. Storing an entity the session already tracks changes nothing.
func (s *Session) Store(entity any) error {
	return s.storeInternal(entity, "", nil, false)
}

// StoreWithID tracks entity under id, which overrides the identity field.
func (s *Session) StoreWithID(entity any, id string) error {
	if id == "" {
		return ErrBlankID
	}
	return s.storeInternal(entity, id, nil, false)
}

// StoreWithChangeVector tracks entity under id and forces the save to check
// the change vector: an empty one means the document must not exist yet.
func (s *Session) StoreWithChangeVector(entity any, id, changeVector string) error {
	return s.storeInternal(entity, id, &changeVector, true)
}

func (s *Session) storeInternal(ent any, id string, changeVector *string, forced bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.noTracking {
		return fmt.Errorf("%w: cannot store in a session without tracking", ErrInvalidEntity)
	}
	if err := entity.Validate(ent); err != nil {
		return err
	}
	if _, deleted := s.deletedEntities[ent]; deleted {
		return fmt.Errorf("%w: cannot store it again", ErrEntityDeleted)
	}

	if info, ok := s.documentsByEntity[ent]; ok {
		if changeVector != nil {
			info.ChangeVector = *changeVector
		}
		if forced {
			info.ConcurrencyMode = document.ConcurrencyForced
		}
		return nil
	}

	mode := document.ConcurrencyAuto
	if id == "" {
		var ok bool
		id, ok = s.conventions.GetID(ent)
		if !ok {
			generated, err := s.idGenerator.GenerateID(s.conventions.CollectionFor(ent), ent)
			if err != nil {
				return err
			}
			id = generated
			mode = document.ConcurrencyForced
		}
	}
	if id == "" {
		return ErrBlankID
	}
	if forced {
		mode = document.ConcurrencyForced
	}

	// ids the server completes are shared by every entity awaiting one
	if existing, ok := s.documentsByID[idKey(id)]; ok && !isServerSideID(id) && existing.Entity != nil && existing.Entity != ent {
		return &NonUniqueAssociationError{ID: id}
	}
	if cmd, ok := s.deferredIndex[commands.Key{ID: idKey(id), Kind: commands.KindModifyDocument}]; ok &&
		commands.Conflicts(commands.KindPut, cmd.Kind()) {
		return &ConflictingDeferredCommandError{ID: id, Kind: commands.KindPut, Conflict: cmd.Kind()}
	}

	// A new entity claiming an id pending deletion replaces the deletion.
	for e, info := range s.deletedEntities {
		if idKey(info.ID) == idKey(id) {
			delete(s.deletedEntities, e)
		}
	}
	delete(s.knownMissingIDs, idKey(id))
	delete(s.includedByID, idKey(id))

	s.conventions.SetID(ent, id)
	meta := document.Document{constants.MetadataCollection: s.conventions.CollectionFor(ent)}
	info := &document.Info{
		ID:              id,
		Collection:      meta.String(constants.MetadataCollection),
		Metadata:        meta,
		Entity:          ent,
		IsNewDocument:   true,
		ConcurrencyMode: mode,
	}
	if changeVector != nil {
		info.ChangeVector = *changeVector
	}
	s.track(info)
	return nil
}

// track inserts info into both identity maps.
func (s *Session) track(info *document.Info) {
	s.sequence++
	info.Sequence = s.sequence
	s.documentsByID[idKey(info.ID)] = info
	if info.Entity != nil {
		s.documentsByEntity[info.Entity] = info
	}
	delete(s.knownMissingIDs, idKey(info.ID))
}

// untrack removes info from both identity maps.
func (s *Session) untrack(info *document.Info) {
	if current, ok := s.documentsByID[idKey(info.ID)]; ok && current == info {
		delete(s.documentsByID, idKey(info.ID))
	}
	if info.Entity != nil {
		delete(s.documentsByEntity, info.Entity)
	}
}

// Delete marks a tracked entity for deletion on the next save. The
// document is considered gone for the rest of the session.
func (s *Session) Delete(entity any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	info, ok := s.documentsByEntity[entity]
	if !ok {
		return fmt.Errorf("%w: %T", ErrEntityNotTracked, entity)
	}
	s.untrack(info)
	s.deletedEntities[entity] = info
	s.knownMissingIDs[idKey(info.ID)] = struct{}{}
	delete(s.includedByID, idKey(info.ID))
	return nil
}

// DeleteByID deletes a document by id. A tracked entity with unsaved changes
// must be deleted through Delete instead. A non-nil changeVector makes the
// deletion conditional on it.
func (s *Session) DeleteByID(id string, changeVector *string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if id == "" {
		return ErrBlankID
	}

	var cv *string
	if info, ok := s.documentsByID[idKey(id)]; ok {
		if info.Entity != nil {
			doc, err := s.conventions.Encode(info.Entity, info)
			if err != nil {
				return err
			}
			if document.Changed(doc, info) {
				return &AmbiguousDeleteError{ID: id}
			}
		}
		if s.useOptimisticConcurrency && info.ChangeVector != "" {
			cv = commands.CV(info.ChangeVector)
		}
	}
	if changeVector != nil {
		cv = changeVector
	}

	cmd, err := commands.NewDelete(id, cv)
	if err != nil {
		return err
	}
	if err := s.Defer(cmd); err != nil {
		return err
	}
	if info, ok := s.documentsByID[idKey(id)]; ok {
		s.untrack(info)
	}
	s.knownMissingIDs[idKey(id)] = struct{}{}
	delete(s.includedByID, idKey(id))
	return nil
}

// Evict stops tracking entity without deleting it. Evicting an untracked
// entity is a no-op.
func (s *Session) Evict(entity any) {
	if info, ok := s.documentsByEntity[entity]; ok {
		s.untrack(info)
		delete(s.includedByID, idKey(info.ID))
	}
	delete(s.deletedEntities, entity)
}

// trackedInOrder returns the tracked records in the order tracking started.
func (s *Session) trackedInOrder() []*document.Info {
	out := make([]*document.Info, 0, len(s.documentsByEntity))
	for _, info := range s.documentsByEntity {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (s *Session) deletedInOrder() []*document.Info {
	out := make([]*document.Info, 0, len(s.deletedEntities))
	for _, info := range s.deletedEntities {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
