package ravendb

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ravendb/ravendb.go/pkg/commands"
	"github.com/ravendb/ravendb.go/pkg/connection"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

// SaveOption adds server-side waits to a save.
type SaveOption func(o *commands.BatchOptions)

// WaitForReplicas makes the save return only once count replicas have the
// changes, or timeout elapses.
func WaitForReplicas(count int, timeout time.Duration, throwOnTimeout bool) SaveOption {
	return func(o *commands.BatchOptions) {
		o.WaitForReplicas = true
		o.NumberOfReplicas = count
		o.ReplicasTimeout = timeout
		o.ThrowOnTimeoutForReplicas = throwOnTimeout
	}
}

// WaitForMajority is WaitForReplicas for a majority of the nodes.
func WaitForMajority(timeout time.Duration, throwOnTimeout bool) SaveOption {
	return func(o *commands.BatchOptions) {
		o.WaitForReplicas = true
		o.Majority = true
		o.ReplicasTimeout = timeout
		o.ThrowOnTimeoutForReplicas = throwOnTimeout
	}
}

// WaitForIndexes makes the save return only once the named indexes, or all
// affected indexes when none are named, have caught up.
func WaitForIndexes(timeout time.Duration, throwOnTimeout bool, indexes ...string) SaveOption {
	return func(o *commands.BatchOptions) {
		o.WaitForIndexes = true
		o.IndexesTimeout = timeout
		o.ThrowOnTimeoutForIndexes = throwOnTimeout
		o.Indexes = append(o.Indexes, indexes...)
	}
}

type saveAction int

const (
	actionDeferred saveAction = iota
	actionPut
	actionDelete
)

// saveEntry ties a batch command back to the session state it came from.
type saveEntry struct {
	action saveAction
	cmd    commands.Command
	info   *document.Info
	entity any
	doc    document.Document
}

type saveData struct {
	batch   *commands.Batch
	entries []saveEntry
}

func (d *saveData) add(e saveEntry) {
	d.entries = append(d.entries, e)
	d.batch.Commands = append(d.batch.Commands, e.cmd)
}

// PrepareForSaveChanges builds the batch the next SaveChanges would send,
// without sending it: the deferred commands, then a Put for every changed
// entity, then a Delete for every deleted entity.
func (s *Session) PrepareForSaveChanges() (*commands.Batch, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, err := s.prepare()
	if err != nil {
		return nil, err
	}
	return data.batch, nil
}

func (s *Session) prepare() (*saveData, error) {
	data := &saveData{batch: &commands.Batch{}}
	for _, cmd := range s.deferred {
		data.add(saveEntry{action: actionDeferred, cmd: cmd})
	}

	for _, info := range s.trackedInOrder() {
		if info.IgnoreChanges {
			continue
		}
		doc, err := s.conventions.Encode(info.Entity, info)
		if err != nil {
			return nil, err
		}
		if !document.Changed(doc, info) {
			continue
		}
		if cmd, ok := s.deferredIndex[commands.Key{ID: idKey(info.ID), Kind: commands.KindModifyDocument}]; ok {
			return nil, &ConflictingDeferredCommandError{ID: info.ID, Kind: commands.KindPut, Conflict: cmd.Kind()}
		}

		var cv *string
		if v, ok := info.ExpectedChangeVector(s.useOptimisticConcurrency); ok {
			cv = commands.CV(v)
		}
		put, err := commands.NewPut(info.ID, doc, cv)
		if err != nil {
			return nil, err
		}
		data.add(saveEntry{action: actionPut, cmd: put, info: info, entity: info.Entity, doc: doc})
	}

	for _, info := range s.deletedInOrder() {
		if cmd, ok := s.deferredIndex[commands.Key{ID: idKey(info.ID), Kind: commands.KindAny}]; ok {
			return nil, &ConflictingDeferredCommandError{ID: info.ID, Kind: commands.KindDelete, Conflict: cmd.Kind()}
		}

		var cv *string
		if info.ChangeVector != "" && info.ConcurrencyMode != document.ConcurrencyDisabled &&
			(s.useOptimisticConcurrency || info.ConcurrencyMode == document.ConcurrencyForced) {
			cv = commands.CV(info.ChangeVector)
		}
		del, err := commands.NewDelete(info.ID, cv)
		if err != nil {
			return nil, err
		}
		data.add(saveEntry{action: actionDelete, cmd: del, info: info, entity: info.Entity})
	}
	return data, nil
}

// SaveChanges sends every pending change in one atomic batch. Nothing is
// sent when there is nothing to save. On failure the session state is left
// as it was, so the caller may fix the cause and save again.
func (s *Session) SaveChanges(ctx context.Context, opts ...SaveOption) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := s.prepare()
	if err != nil {
		return err
	}
	batch := data.batch
	if batch.Empty() {
		s.logger.Debug("nothing to save", "database", s.database)
		return nil
	}
	if len(opts) > 0 {
		batch.Options = &commands.BatchOptions{}
		for _, opt := range opts {
			opt(batch.Options)
		}
	}

	if err := s.incrementRequestCount(); err != nil {
		return err
	}
	contentType, body := batch.Body(s.conventions.Marshaler)
	resp, err := s.transport.Execute(ctx, &connection.Request{
		Method:      http.MethodPost,
		Path:        "/bulk_docs",
		Query:       batch.QueryParams(),
		ContentType: contentType,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("saving %d command(s): %w", len(batch.Commands), err)
	}

	results, err := commands.ParseBatchResult(resp.Body)
	if err != nil {
		return err
	}
	if len(results) < len(data.entries) {
		return fmt.Errorf("%w: %d result(s) for %d command(s)", ErrMalformedResponse, len(results), len(data.entries))
	}
	for _, cmd := range batch.Commands {
		s.metrics.RecordBatchCommand(cmd.Kind().String())
	}

	s.deferred = nil
	s.deferredIndex = map[commands.Key]commands.Command{}
	err = s.reconcile(data, results)
	s.logger.Debug("saved changes", "database", s.database, "commands", len(batch.Commands))
	return err
}

// reconcile applies batch results to the session, in submission order.
func (s *Session) reconcile(data *saveData, results []commands.ResultItem) error {
	var firstErr error
	for i, e := range data.entries {
		var err error
		switch e.action {
		case actionPut:
			s.applyPut(e, results[i])
		case actionDelete:
			s.applyDelete(e)
		default:
			err = s.applyDeferred(e.cmd, results[i])
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Session) applyPut(e saveEntry, r commands.ResultItem) {
	info := e.info
	if r.ID != "" && r.ID != info.ID {
		// the server completed or normalized the id
		if current, ok := s.documentsByID[idKey(info.ID)]; ok && current == info {
			delete(s.documentsByID, idKey(info.ID))
		}
		info.ID = r.ID
		s.documentsByID[idKey(info.ID)] = info
		s.conventions.SetID(info.Entity, info.ID)
	}

	doc := e.doc
	meta := doc.Metadata()
	if meta == nil {
		meta = document.Document{}
	}
	meta[constants.MetadataID] = info.ID
	meta[constants.MetadataChangeVector] = r.ChangeVector
	if r.LastModified != "" {
		meta[constants.MetadataLastModified] = r.LastModified
	}
	if r.Collection != "" {
		meta[constants.MetadataCollection] = r.Collection
		info.Collection = r.Collection
	}
	doc[constants.MetadataKey] = meta

	info.Document = doc
	info.Metadata = document.Clone(meta)
	info.ChangeVector = r.ChangeVector
	info.IsNewDocument = false
	delete(s.knownMissingIDs, idKey(info.ID))
}

func (s *Session) applyDelete(e saveEntry) {
	delete(s.deletedEntities, e.entity)
	s.untrack(e.info)
	delete(s.includedByID, idKey(e.info.ID))
	s.knownMissingIDs[idKey(e.info.ID)] = struct{}{}
}

func (s *Session) applyDeferred(cmd commands.Command, r commands.ResultItem) error {
	switch cmd.Kind() {
	case commands.KindDelete:
		if info, ok := s.documentsByID[idKey(cmd.ID())]; ok {
			s.untrack(info)
		}
		s.knownMissingIDs[idKey(cmd.ID())] = struct{}{}

	case commands.KindPut:
		delete(s.knownMissingIDs, idKey(cmd.ID()))
		if info, ok := s.documentsByID[idKey(cmd.ID())]; ok {
			info.ChangeVector = r.ChangeVector
		}

	case commands.KindPatch:
		if r.ModifiedDocument == nil {
			return nil
		}
		delete(s.knownMissingIDs, idKey(cmd.ID()))
		if info, ok := s.documentsByID[idKey(cmd.ID())]; ok {
			return s.refreshInfo(info, r.ModifiedDocument)
		}

	case commands.KindCounters, commands.KindTimeSeries, commands.KindTimeSeriesWithIncrements,
		commands.KindAttachmentPut, commands.KindAttachmentDelete, commands.KindAttachmentMove,
		commands.KindAttachmentCopy:
		id := cmd.ID()
		if t, ok := cmd.(commands.AttachmentTransfer); ok {
			id = t.DestinationID()
		}
		s.updateChangeVector(id, r.DocumentChangeVector)

	case commands.KindForceRevisionCreation:
		if r.RevisionCreated {
			s.updateChangeVector(cmd.ID(), r.ChangeVector)
		}
	}
	return nil
}

// updateChangeVector records a new change vector of a tracked document after
// a write that did not change its body.
func (s *Session) updateChangeVector(id, cv string) {
	if cv == "" {
		return
	}
	info, ok := s.documentsByID[idKey(id)]
	if !ok {
		return
	}
	info.ChangeVector = cv
	if info.Metadata != nil {
		info.Metadata[constants.MetadataChangeVector] = cv
	}
	if meta := info.Document.Metadata(); meta != nil {
		meta[constants.MetadataChangeVector] = cv
	}
}

// refreshInfo replaces the stored shape of info with doc and reloads the
// entity from it in place.
func (s *Session) refreshInfo(info *document.Info, doc document.Document) error {
	fresh := document.NewInfo(info.ID, doc)
	info.Document = fresh.Document
	info.Metadata = fresh.Metadata
	info.ChangeVector = fresh.ChangeVector
	if fresh.Collection != "" {
		info.Collection = fresh.Collection
	}
	info.IsNewDocument = false
	if info.Entity == nil {
		return nil
	}
	return s.conventions.Populate(info.Entity, info.ID, info.Document)
}
