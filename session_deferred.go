package ravendb

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ravendb/ravendb.go/pkg/commands"
)

// Defer queues commands to run in the next SaveChanges, ahead of the
// changes detected on tracked entities. A command that conflicts with one
// already queued for the same document is refused. A patch is merged into
// the document's last queued patch when their argument names are distinct
// and neither is conditional; otherwise it is queued after it.
func (s *Session) Defer(cmds ...commands.Command) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := s.deferOne(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) deferOne(cmd commands.Command) error {
	if isCompareExchange(cmd) {
		key := idKey(cmd.ID())
		for _, kind := range []commands.Kind{commands.KindCompareExchangePut, commands.KindCompareExchangeDelete} {
			if existing, ok := s.deferredIndex[commands.Key{ID: key, Kind: kind}]; ok {
				return &ConflictingDeferredCommandError{ID: cmd.ID(), Kind: cmd.Kind(), Conflict: existing.Kind()}
			}
		}
		s.deferred = append(s.deferred, cmd)
		s.index(cmd)
		return nil
	}

	ids := commandIDs(cmd)
	for _, id := range ids {
		if existing, ok := s.deferredConflict(id, cmd); ok {
			return &ConflictingDeferredCommandError{ID: id, Kind: cmd.Kind(), Conflict: existing.Kind()}
		}
	}

	if p, ok := cmd.(commands.Patch); ok {
		if i, existing, ok := s.deferredPatch(p.ID()); ok && existing.CanMerge(p) {
			merged := existing.Merge(p.Request())
			if p.ReturnDocument() {
				merged = merged.WithReturnDocument()
			}
			s.deferred[i] = merged
			s.index(merged)
			return nil
		}
	}

	s.deferred = append(s.deferred, cmd)
	s.index(cmd)
	return nil
}

// commandIDs lists the documents a command writes to.
func commandIDs(cmd commands.Command) []string {
	switch c := cmd.(type) {
	case commands.BatchPatch:
		return c.IDs()
	case commands.CompareExchangePut, commands.CompareExchangeDelete:
		return nil
	default:
		return []string{c.ID()}
	}
}

// isCompareExchange reports whether cmd addresses a compare-exchange key
// rather than a document. Keys compare case-insensitively.
func isCompareExchange(cmd commands.Command) bool {
	switch cmd.(type) {
	case commands.CompareExchangePut, commands.CompareExchangeDelete:
		return true
	}
	return false
}

// deferredConflict finds a queued command that may not share a batch with cmd.
func (s *Session) deferredConflict(id string, cmd commands.Command) (commands.Command, bool) {
	key := idKey(id)
	if existing, ok := s.deferredIndex[commands.Key{ID: key, Kind: cmd.Kind(), Name: cmd.Name()}]; ok &&
		commands.Conflicts(existing.Kind(), cmd.Kind()) {
		return existing, true
	}
	if cmd.Kind() == commands.KindDelete {
		if existing, ok := s.deferredIndex[commands.Key{ID: key, Kind: commands.KindAny}]; ok {
			return existing, true
		}
	}
	if existing, ok := s.deferredIndex[commands.Key{ID: key, Kind: commands.KindModifyDocument}]; ok &&
		commands.Conflicts(existing.Kind(), cmd.Kind()) {
		return existing, true
	}
	return nil, false
}

// deferredPatch finds the last queued patch of id.
func (s *Session) deferredPatch(id string) (int, commands.Patch, bool) {
	for i := len(s.deferred) - 1; i >= 0; i-- {
		if p, ok := s.deferred[i].(commands.Patch); ok && idKey(p.ID()) == idKey(id) {
			return i, p, true
		}
	}
	return 0, commands.Patch{}, false
}

func (s *Session) index(cmd commands.Command) {
	if isCompareExchange(cmd) {
		s.deferredIndex[commands.Key{ID: idKey(cmd.ID()), Kind: cmd.Kind()}] = cmd
		return
	}
	for _, id := range commandIDs(cmd) {
		key := idKey(id)
		s.deferredIndex[commands.Key{ID: key, Kind: cmd.Kind(), Name: cmd.Name()}] = cmd
		s.deferredIndex[commands.Key{ID: key, Kind: commands.KindAny}] = cmd
		if cmd.Kind().ModifiesDocument() {
			s.deferredIndex[commands.Key{ID: key, Kind: commands.KindModifyDocument}] = cmd
		}
	}
}

// DeferredCommands returns a copy of the queued commands.
func (s *Session) DeferredCommands() []commands.Command {
	return append([]commands.Command(nil), s.deferred...)
}

func (s *Session) nextPatchValue() string {
	name := "val_" + strconv.Itoa(s.patchValues)
	s.patchValues++
	return name
}

// idOf resolves the document id of a tracked entity.
func (s *Session) idOf(entity any) (string, error) {
	info, ok := s.documentsByEntity[entity]
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrEntityNotTracked, entity)
	}
	return info.ID, nil
}

func (s *Session) deferPatch(id, script string, values map[string]any) error {
	p, err := commands.NewPatch(id, nil, commands.PatchRequest{Script: script, Values: values}, nil)
	if err != nil {
		return err
	}
	if _, tracked := s.documentsByID[idKey(id)]; tracked {
		p = p.WithReturnDocument()
	}
	return s.Defer(p)
}

// Patch sets path of a document to value on the next save. Patches of the
// same document are merged into one script. A tracked entity is refreshed
// from the patched document.
func (s *Session) Patch(id, path string, value any) error {
	arg := s.nextPatchValue()
	return s.deferPatch(id, fmt.Sprintf("this.%s = args.%s;", path, arg), map[string]any{arg: value})
}

// PatchEntity is Patch for a tracked entity.
func (s *Session) PatchEntity(entity any, path string, value any) error {
	id, err := s.idOf(entity)
	if err != nil {
		return err
	}
	return s.Patch(id, path, value)
}

// Increment adds delta to the numeric field at path on the next save.
func (s *Session) Increment(id, path string, delta any) error {
	arg := s.nextPatchValue()
	return s.deferPatch(id, fmt.Sprintf("this.%s += args.%s;", path, arg), map[string]any{arg: delta})
}

// PatchScript queues a raw patch script with its arguments. It shares a
// script with earlier patches of the document only when no argument name is
// reused.
func (s *Session) PatchScript(id, script string, values map[string]any) error {
	return s.deferPatch(id, script, values)
}

// CountersFor returns the counter operations of one document.
func (s *Session) CountersFor(id string) *SessionCounters {
	return &SessionCounters{session: s, id: id}
}

type SessionCounters struct {
	session *Session
	id      string
}

func (c *SessionCounters) Increment(name string, delta int64) error {
	return c.add(commands.CounterOperation{Type: commands.CounterIncrement, CounterName: name, Delta: delta})
}

func (c *SessionCounters) Delete(name string) error {
	return c.add(commands.CounterOperation{Type: commands.CounterDelete, CounterName: name})
}

// add folds op into the document's queued counters command, if any.
func (c *SessionCounters) add(op commands.CounterOperation) error {
	s := c.session
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.pendingDelete(c.id) {
		return fmt.Errorf("%w: %s is deleted in this session", ErrEntityDeleted, c.id)
	}
	for i, cmd := range s.deferred {
		existing, ok := cmd.(commands.Counters)
		if !ok || idKey(existing.ID()) != idKey(c.id) {
			continue
		}
		if op.Type == commands.CounterIncrement && existing.Has(op.CounterName, commands.CounterDelete) {
			return &ConflictingDeferredCommandError{ID: c.id, Kind: commands.KindCounters, Conflict: commands.KindCounters}
		}
		merged := existing.With(op)
		s.deferred[i] = merged
		s.index(merged)
		return nil
	}
	cmd, err := commands.NewCounters(c.id, op)
	if err != nil {
		return err
	}
	return s.Defer(cmd)
}

// pendingDelete reports whether id is deleted by this session but not saved.
func (s *Session) pendingDelete(id string) bool {
	if _, ok := s.deferredIndex[commands.Key{ID: idKey(id), Kind: commands.KindDelete}]; ok {
		return true
	}
	for _, info := range s.deletedEntities {
		if idKey(info.ID) == idKey(id) {
			return true
		}
	}
	return false
}

// TimeSeriesFor returns the operations on one time series of a document.
func (s *Session) TimeSeriesFor(id, name string) *SessionTimeSeries {
	return &SessionTimeSeries{session: s, id: id, name: name}
}

// IncrementalTimeSeriesFor returns the operations on an incremental series.
func (s *Session) IncrementalTimeSeriesFor(id, name string) *SessionTimeSeries {
	return &SessionTimeSeries{session: s, id: id, name: name, incremental: true}
}

type SessionTimeSeries struct {
	session     *Session
	id          string
	name        string
	incremental bool
}

// Append adds a point. Incremental series take Increment instead.
func (t *SessionTimeSeries) Append(timestamp time.Time, tag string, values ...float64) error {
	if t.incremental {
		return fmt.Errorf("%w: append on incremental series %s", ErrInvalidEntity, t.name)
	}
	return t.update(func(c commands.TimeSeries) commands.TimeSeries {
		return c.WithEntry(commands.TimeSeriesEntry{Timestamp: timestamp, Values: values, Tag: tag})
	})
}

// Increment adds values to the point at timestamp of an incremental series.
func (t *SessionTimeSeries) Increment(timestamp time.Time, values ...float64) error {
	if !t.incremental {
		return fmt.Errorf("%w: increment on plain series %s", ErrInvalidEntity, t.name)
	}
	return t.update(func(c commands.TimeSeries) commands.TimeSeries {
		return c.WithEntry(commands.TimeSeriesEntry{Timestamp: timestamp, Values: values})
	})
}

// Delete removes the points between from and to. Nil bounds are open.
func (t *SessionTimeSeries) Delete(from, to *time.Time) error {
	return t.update(func(c commands.TimeSeries) commands.TimeSeries {
		return c.WithDelete(commands.TimeSeriesRange{From: from, To: to})
	})
}

func (t *SessionTimeSeries) update(apply func(commands.TimeSeries) commands.TimeSeries) error {
	s := t.session
	if err := s.checkOpen(); err != nil {
		return err
	}
	for i, cmd := range s.deferred {
		existing, ok := cmd.(commands.TimeSeries)
		if ok && idKey(existing.ID()) == idKey(t.id) && existing.Name() == t.name && existing.Kind() == t.kind() {
			updated := apply(existing)
			s.deferred[i] = updated
			s.index(updated)
			return nil
		}
	}
	var (
		cmd commands.TimeSeries
		err error
	)
	if t.incremental {
		cmd, err = commands.NewTimeSeriesWithIncrements(t.id, t.name)
	} else {
		cmd, err = commands.NewTimeSeries(t.id, t.name)
	}
	if err != nil {
		return err
	}
	return s.Defer(apply(cmd))
}

func (t *SessionTimeSeries) kind() commands.Kind {
	if t.incremental {
		return commands.KindTimeSeriesWithIncrements
	}
	return commands.KindTimeSeries
}

// Attachments returns the attachment operations of the session.
func (s *Session) Attachments() *SessionAttachments {
	return &SessionAttachments{session: s}
}

type SessionAttachments struct {
	session *Session
}

// Store uploads stream as attachment name of document id on the next save.
// The stream is read when the batch is sent.
func (a *SessionAttachments) Store(id, name string, stream io.Reader, contentType string) error {
	if err := a.checkTarget(id); err != nil {
		return err
	}
	cmd, err := commands.NewAttachmentPut(id, name, stream, contentType, nil)
	if err != nil {
		return err
	}
	return a.session.Defer(cmd)
}

func (a *SessionAttachments) Delete(id, name string) error {
	if err := a.checkTarget(id); err != nil {
		return err
	}
	cmd, err := commands.NewAttachmentDelete(id, name, nil)
	if err != nil {
		return err
	}
	return a.session.Defer(cmd)
}

// Move renames an attachment, possibly onto another document.
func (a *SessionAttachments) Move(id, name, destinationID, destinationName string) error {
	if err := a.checkTarget(id); err != nil {
		return err
	}
	if err := a.checkTarget(destinationID); err != nil {
		return err
	}
	cmd, err := commands.NewAttachmentMove(id, name, destinationID, destinationName, nil)
	if err != nil {
		return err
	}
	return a.session.Defer(cmd)
}

func (a *SessionAttachments) Copy(id, name, destinationID, destinationName string) error {
	if err := a.checkTarget(destinationID); err != nil {
		return err
	}
	cmd, err := commands.NewAttachmentCopy(id, name, destinationID, destinationName, nil)
	if err != nil {
		return err
	}
	return a.session.Defer(cmd)
}

func (a *SessionAttachments) checkTarget(id string) error {
	s := a.session
	if err := s.checkOpen(); err != nil {
		return err
	}
	if id != "" && s.pendingDelete(id) {
		return fmt.Errorf("%w: %s is deleted in this session", ErrEntityDeleted, id)
	}
	return nil
}

// ForceRevisionCreationFor snapshots the current state of document id into
// a revision on the next save.
func (s *Session) ForceRevisionCreationFor(id string) error {
	cmd, err := commands.NewForceRevisionCreation(id)
	if err != nil {
		return err
	}
	if _, ok := s.deferredIndex[commands.Key{ID: idKey(id), Kind: commands.KindForceRevisionCreation}]; ok {
		return nil
	}
	return s.Defer(cmd)
}

// CompareExchangePut queues a cluster-wide value write, applied only when
// the stored index equals index (0 for a new key).
func (s *Session) CompareExchangePut(key string, value any, index int64) error {
	cmd, err := commands.NewCompareExchangePut(key, value, index)
	if err != nil {
		return err
	}
	return s.Defer(cmd)
}

func (s *Session) CompareExchangeDelete(key string, index int64) error {
	cmd, err := commands.NewCompareExchangeDelete(key, index)
	if err != nil {
		return err
	}
	return s.Defer(cmd)
}
