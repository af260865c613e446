// Package commands models the mutations a batch can carry.
//
// Every variant implements the sealed Command interface and serializes itself
// to the map the server expects, with a "Type" discriminator. Commands are
// values: constructors validate their input and nothing mutates a command
// afterwards; helpers that extend one (Patch.Merge, Counters.With, ...)
// return a new value.
package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

// Command is one entry of a batch.
type Command interface {
	// ID is the document the command targets, or the compare exchange key.
	ID() string
	// Name is the sub-resource the command targets (attachment, time series),
	// or "".
	Name() string
	// ChangeVector is the expected change vector. ok is false when the
	// command carries no concurrency check.
	ChangeVector() (cv string, ok bool)
	Kind() Kind
	Serialize() map[string]any

	command()
}

func blank(what string) error {
	return fmt.Errorf("%w: %s", constants.ErrBlankID, what)
}

func cvValue(cv *string) any {
	if cv == nil {
		return nil
	}
	return *cv
}

func cvOf(cv *string) (string, bool) {
	if cv == nil {
		return "", false
	}
	return *cv, true
}

// CV is a convenience for optional change vector arguments.
func CV(s string) *string { return &s }

// Put stores a whole document.
type Put struct {
	id           string
	doc          document.Document
	changeVector *string
}

func NewPut(id string, doc document.Document, changeVector *string) (Put, error) {
	if id == "" {
		return Put{}, blank("put requires a document id")
	}
	if doc == nil {
		return Put{}, fmt.Errorf("%w: put of %q requires a document", constants.ErrInvalidEntity, id)
	}
	return Put{id: id, doc: doc, changeVector: changeVector}, nil
}

func (c Put) ID() string                   { return c.id }
func (c Put) Name() string                 { return "" }
func (c Put) ChangeVector() (string, bool) { return cvOf(c.changeVector) }
func (c Put) Kind() Kind                   { return KindPut }
func (c Put) Document() document.Document  { return c.doc }
func (Put) command()                       {}

func (c Put) Serialize() map[string]any {
	return map[string]any{
		"Id":           c.id,
		"ChangeVector": cvValue(c.changeVector),
		"Document":     c.doc,
		"Type":         KindPut.String(),
	}
}

// PatchRequest is a server-side script with its arguments.
type PatchRequest struct {
	Script string
	Values map[string]any
}

func (p PatchRequest) serialize() map[string]any {
	values := p.Values
	if values == nil {
		values = map[string]any{}
	}
	return map[string]any{"Script": p.Script, "Values": values}
}

// Merge appends script to the request and adds values, returning a new request.
// Argument names of the two requests must be distinct; on a shared name the
// value of other wins.
func (p PatchRequest) Merge(other PatchRequest) PatchRequest {
	out := PatchRequest{Values: make(map[string]any, len(p.Values)+len(other.Values))}
	switch {
	case p.Script == "":
		out.Script = other.Script
	case other.Script == "":
		out.Script = p.Script
	default:
		out.Script = p.Script + "\n" + other.Script
	}
	for k, v := range p.Values {
		out.Values[k] = v
	}
	for k, v := range other.Values {
		out.Values[k] = v
	}
	return out
}

// Patch runs a script against one document.
type Patch struct {
	id             string
	changeVector   *string
	patch          PatchRequest
	patchIfMissing *PatchRequest
	returnDocument bool
}

func NewPatch(id string, changeVector *string, patch PatchRequest, patchIfMissing *PatchRequest) (Patch, error) {
	if id == "" {
		return Patch{}, blank("patch requires a document id")
	}
	if patch.Script == "" {
		return Patch{}, fmt.Errorf("%w: patch of %q requires a script", constants.ErrBlankID, id)
	}
	return Patch{id: id, changeVector: changeVector, patch: patch, patchIfMissing: patchIfMissing}, nil
}

// WithReturnDocument asks the server to send back the patched document.
func (c Patch) WithReturnDocument() Patch {
	c.returnDocument = true
	return c
}

// CanMerge reports whether other can run as part of c's script. Neither may
// carry a change vector or a patch-if-missing script, and their argument
// names may not overlap.
func (c Patch) CanMerge(other Patch) bool {
	if c.changeVector != nil || other.changeVector != nil {
		return false
	}
	if c.patchIfMissing != nil || other.patchIfMissing != nil {
		return false
	}
	for name := range other.patch.Values {
		if _, ok := c.patch.Values[name]; ok {
			return false
		}
	}
	return true
}

// Merge returns a patch running both scripts in order.
func (c Patch) Merge(more PatchRequest) Patch {
	c.patch = c.patch.Merge(more)
	return c
}

func (c Patch) ID() string                   { return c.id }
func (c Patch) Name() string                 { return "" }
func (c Patch) ChangeVector() (string, bool) { return cvOf(c.changeVector) }
func (c Patch) Kind() Kind                   { return KindPatch }
func (c Patch) Request() PatchRequest        { return c.patch }
func (c Patch) ReturnDocument() bool         { return c.returnDocument }
func (Patch) command()                       {}

func (c Patch) Serialize() map[string]any {
	out := map[string]any{
		"Id":           c.id,
		"ChangeVector": cvValue(c.changeVector),
		"Patch":        c.patch.serialize(),
		"Type":         KindPatch.String(),
	}
	if c.patchIfMissing != nil {
		out["PatchIfMissing"] = c.patchIfMissing.serialize()
	}
	if c.returnDocument {
		out["ReturnDocument"] = true
	}
	return out
}

// IDAndChangeVector names one target of a BatchPatch.
type IDAndChangeVector struct {
	ID           string
	ChangeVector *string
}

// BatchPatch runs one script against several documents.
type BatchPatch struct {
	ids   []IDAndChangeVector
	patch PatchRequest
}

func NewBatchPatch(patch PatchRequest, ids ...IDAndChangeVector) (BatchPatch, error) {
	if len(ids) == 0 {
		return BatchPatch{}, blank("batch patch requires at least one document id")
	}
	for _, id := range ids {
		if id.ID == "" {
			return BatchPatch{}, blank("batch patch document ids must not be blank")
		}
	}
	if patch.Script == "" {
		return BatchPatch{}, fmt.Errorf("%w: batch patch requires a script", constants.ErrBlankID)
	}
	return BatchPatch{ids: append([]IDAndChangeVector(nil), ids...), patch: patch}, nil
}

// ID is empty; a batch patch targets IDs.
func (c BatchPatch) ID() string                   { return "" }
func (c BatchPatch) Name() string                 { return "" }
func (c BatchPatch) ChangeVector() (string, bool) { return "", false }
func (c BatchPatch) Kind() Kind                   { return KindBatchPatch }
func (BatchPatch) command()                       {}

func (c BatchPatch) IDs() []string {
	out := make([]string, len(c.ids))
	for i, id := range c.ids {
		out[i] = id.ID
	}
	return out
}

func (c BatchPatch) Serialize() map[string]any {
	ids := make([]any, len(c.ids))
	for i, id := range c.ids {
		ids[i] = map[string]any{"Id": id.ID, "ChangeVector": cvValue(id.ChangeVector)}
	}
	return map[string]any{
		"Ids":   ids,
		"Patch": c.patch.serialize(),
		"Type":  KindBatchPatch.String(),
	}
}

// Delete removes a document.
type Delete struct {
	id           string
	changeVector *string
}

func NewDelete(id string, changeVector *string) (Delete, error) {
	if id == "" {
		return Delete{}, blank("delete requires a document id")
	}
	return Delete{id: id, changeVector: changeVector}, nil
}

func (c Delete) ID() string                   { return c.id }
func (c Delete) Name() string                 { return "" }
func (c Delete) ChangeVector() (string, bool) { return cvOf(c.changeVector) }
func (c Delete) Kind() Kind                   { return KindDelete }
func (Delete) command()                       {}

func (c Delete) Serialize() map[string]any {
	return map[string]any{
		"Id":           c.id,
		"ChangeVector": cvValue(c.changeVector),
		"Type":         KindDelete.String(),
	}
}

// AttachmentPut uploads an attachment. The content travels as a separate
// part of the batch body.
type AttachmentPut struct {
	id           string
	name         string
	contentType  string
	stream       io.Reader
	changeVector *string
}

func NewAttachmentPut(id, name string, stream io.Reader, contentType string, changeVector *string) (AttachmentPut, error) {
	if id == "" {
		return AttachmentPut{}, blank("attachment put requires a document id")
	}
	if name == "" {
		return AttachmentPut{}, blank("attachment put requires a name")
	}
	if stream == nil {
		return AttachmentPut{}, fmt.Errorf("%w: attachment %q of %q has no content", constants.ErrInvalidEntity, name, id)
	}
	return AttachmentPut{id: id, name: name, contentType: contentType, stream: stream, changeVector: changeVector}, nil
}

func (c AttachmentPut) ID() string                   { return c.id }
func (c AttachmentPut) Name() string                 { return c.name }
func (c AttachmentPut) ChangeVector() (string, bool) { return cvOf(c.changeVector) }
func (c AttachmentPut) Kind() Kind                   { return KindAttachmentPut }
func (c AttachmentPut) Stream() io.Reader            { return c.stream }
func (AttachmentPut) command()                       {}

func (c AttachmentPut) Serialize() map[string]any {
	return map[string]any{
		"Id":           c.id,
		"Name":         c.name,
		"ContentType":  c.contentType,
		"ChangeVector": cvValue(c.changeVector),
		"Type":         KindAttachmentPut.String(),
	}
}

// AttachmentDelete removes an attachment.
type AttachmentDelete struct {
	id           string
	name         string
	changeVector *string
}

func NewAttachmentDelete(id, name string, changeVector *string) (AttachmentDelete, error) {
	if id == "" {
		return AttachmentDelete{}, blank("attachment delete requires a document id")
	}
	if name == "" {
		return AttachmentDelete{}, blank("attachment delete requires a name")
	}
	return AttachmentDelete{id: id, name: name, changeVector: changeVector}, nil
}

func (c AttachmentDelete) ID() string                   { return c.id }
func (c AttachmentDelete) Name() string                 { return c.name }
func (c AttachmentDelete) ChangeVector() (string, bool) { return cvOf(c.changeVector) }
func (c AttachmentDelete) Kind() Kind                   { return KindAttachmentDelete }
func (AttachmentDelete) command()                       {}

func (c AttachmentDelete) Serialize() map[string]any {
	return map[string]any{
		"Id":           c.id,
		"Name":         c.name,
		"ChangeVector": cvValue(c.changeVector),
		"Type":         KindAttachmentDelete.String(),
	}
}

// AttachmentTransfer moves or copies an attachment to another document.
type AttachmentTransfer struct {
	kind            Kind
	id              string
	name            string
	destinationID   string
	destinationName string
	changeVector    *string
}

func NewAttachmentMove(id, name, destinationID, destinationName string, changeVector *string) (AttachmentTransfer, error) {
	return newAttachmentTransfer(KindAttachmentMove, id, name, destinationID, destinationName, changeVector)
}

func NewAttachmentCopy(id, name, destinationID, destinationName string, changeVector *string) (AttachmentTransfer, error) {
	return newAttachmentTransfer(KindAttachmentCopy, id, name, destinationID, destinationName, changeVector)
}

func newAttachmentTransfer(kind Kind, id, name, destinationID, destinationName string, changeVector *string) (AttachmentTransfer, error) {
	switch {
	case id == "":
		return AttachmentTransfer{}, blank(kind.String() + " requires a source document id")
	case name == "":
		return AttachmentTransfer{}, blank(kind.String() + " requires a source name")
	case destinationID == "":
		return AttachmentTransfer{}, blank(kind.String() + " requires a destination document id")
	case destinationName == "":
		return AttachmentTransfer{}, blank(kind.String() + " requires a destination name")
	}
	return AttachmentTransfer{
		kind:            kind,
		id:              id,
		name:            name,
		destinationID:   destinationID,
		destinationName: destinationName,
		changeVector:    changeVector,
	}, nil
}

func (c AttachmentTransfer) ID() string                   { return c.id }
func (c AttachmentTransfer) Name() string                 { return c.name }
func (c AttachmentTransfer) ChangeVector() (string, bool) { return cvOf(c.changeVector) }
func (c AttachmentTransfer) Kind() Kind                   { return c.kind }
func (c AttachmentTransfer) DestinationID() string        { return c.destinationID }
func (AttachmentTransfer) command()                       {}

func (c AttachmentTransfer) Serialize() map[string]any {
	return map[string]any{
		"Id":              c.id,
		"Name":            c.name,
		"DestinationId":   c.destinationID,
		"DestinationName": c.destinationName,
		"ChangeVector":    cvValue(c.changeVector),
		"Type":            c.kind.String(),
	}
}

// CounterOpType is the action of one counter operation.
type CounterOpType int

const (
	CounterIncrement CounterOpType = iota
	CounterDelete
)

var counterOpNames = map[CounterOpType]string{
	CounterIncrement: "Increment",
	CounterDelete:    "Delete",
}

func (t CounterOpType) String() string { return counterOpNames[t] }

type CounterOperation struct {
	Type        CounterOpType
	CounterName string
	Delta       int64
}

// Counters carries the counter operations of one document.
type Counters struct {
	id  string
	ops []CounterOperation
}

func NewCounters(id string, ops ...CounterOperation) (Counters, error) {
	if id == "" {
		return Counters{}, blank("counters require a document id")
	}
	for _, op := range ops {
		if op.CounterName == "" {
			return Counters{}, blank("counter operations require a counter name")
		}
	}
	return Counters{id: id, ops: append([]CounterOperation(nil), ops...)}, nil
}

// With returns a copy with op appended. Increments of a counter already being
// incremented are folded into one operation.
func (c Counters) With(op CounterOperation) Counters {
	ops := make([]CounterOperation, 0, len(c.ops)+1)
	folded := false
	for _, existing := range c.ops {
		if !folded && op.Type == CounterIncrement && existing.Type == CounterIncrement && existing.CounterName == op.CounterName {
			existing.Delta += op.Delta
			folded = true
		}
		ops = append(ops, existing)
	}
	if !folded {
		ops = append(ops, op)
	}
	return Counters{id: c.id, ops: ops}
}

// Has reports whether an operation of type t on counter name is pending.
func (c Counters) Has(name string, t CounterOpType) bool {
	for _, op := range c.ops {
		if op.CounterName == name && op.Type == t {
			return true
		}
	}
	return false
}

func (c Counters) ID() string                     { return c.id }
func (c Counters) Name() string                   { return "" }
func (c Counters) ChangeVector() (string, bool)   { return "", false }
func (c Counters) Kind() Kind                     { return KindCounters }
func (c Counters) Operations() []CounterOperation { return append([]CounterOperation(nil), c.ops...) }
func (Counters) command()                         {}

func (c Counters) Serialize() map[string]any {
	ops := make([]any, len(c.ops))
	for i, op := range c.ops {
		m := map[string]any{"Type": op.Type.String(), "CounterName": op.CounterName}
		if op.Type == CounterIncrement {
			m["Delta"] = op.Delta
		}
		ops[i] = m
	}
	return map[string]any{
		"Id":       c.id,
		"Counters": map[string]any{"DocumentId": c.id, "Operations": ops},
		"Type":     KindCounters.String(),
		"FromEtl":  false,
	}
}

// TimeSeriesEntry is one appended or incremented point.
type TimeSeriesEntry struct {
	Timestamp time.Time
	Values    []float64
	Tag       string
}

// TimeSeriesRange bounds a deletion. Nil bounds are open.
type TimeSeriesRange struct {
	From *time.Time
	To   *time.Time
}

func (r TimeSeriesRange) serialize() map[string]any {
	out := map[string]any{"From": nil, "To": nil}
	if r.From != nil {
		out["From"] = FormatTime(*r.From)
	}
	if r.To != nil {
		out["To"] = FormatTime(*r.To)
	}
	return out
}

// TimeSeries appends to and deletes from one series of a document. With
// increments set it is the incremental variant.
type TimeSeries struct {
	id          string
	name        string
	incremental bool
	entries     []TimeSeriesEntry
	deletes     []TimeSeriesRange
}

func NewTimeSeries(id, name string) (TimeSeries, error) {
	return newTimeSeries(id, name, false)
}

func NewTimeSeriesWithIncrements(id, name string) (TimeSeries, error) {
	return newTimeSeries(id, name, true)
}

func newTimeSeries(id, name string, incremental bool) (TimeSeries, error) {
	if id == "" {
		return TimeSeries{}, blank("time series require a document id")
	}
	if name == "" {
		return TimeSeries{}, blank("time series require a name")
	}
	return TimeSeries{id: id, name: name, incremental: incremental}, nil
}

// WithEntry returns a copy with e appended (or incremented).
func (c TimeSeries) WithEntry(e TimeSeriesEntry) TimeSeries {
	c.entries = append(append([]TimeSeriesEntry(nil), c.entries...), e)
	return c
}

// WithDelete returns a copy with r scheduled for deletion.
func (c TimeSeries) WithDelete(r TimeSeriesRange) TimeSeries {
	c.deletes = append(append([]TimeSeriesRange(nil), c.deletes...), r)
	return c
}

func (c TimeSeries) ID() string                   { return c.id }
func (c TimeSeries) Name() string                 { return c.name }
func (c TimeSeries) ChangeVector() (string, bool) { return "", false }
func (TimeSeries) command()                       {}

func (c TimeSeries) Kind() Kind {
	if c.incremental {
		return KindTimeSeriesWithIncrements
	}
	return KindTimeSeries
}

func (c TimeSeries) Serialize() map[string]any {
	entries := make([]any, len(c.entries))
	for i, e := range c.entries {
		values := e.Values
		if values == nil {
			values = []float64{}
		}
		m := map[string]any{"Timestamp": FormatTime(e.Timestamp), "Values": values}
		if !c.incremental && e.Tag != "" {
			m["Tag"] = e.Tag
		}
		entries[i] = m
	}
	deletes := make([]any, len(c.deletes))
	for i, d := range c.deletes {
		deletes[i] = d.serialize()
	}

	series := map[string]any{"Name": c.name, "Deletes": deletes}
	if c.incremental {
		series["Increments"] = entries
	} else {
		series["Appends"] = entries
	}
	return map[string]any{
		"Id":         c.id,
		"TimeSeries": series,
		"Type":       c.Kind().String(),
	}
}

// CompareExchangePut sets a cluster-wide value when the stored index matches.
type CompareExchangePut struct {
	key   string
	index int64
	value any
}

func NewCompareExchangePut(key string, value any, index int64) (CompareExchangePut, error) {
	if key == "" {
		return CompareExchangePut{}, blank("compare exchange put requires a key")
	}
	return CompareExchangePut{key: key, index: index, value: value}, nil
}

func (c CompareExchangePut) ID() string                   { return c.key }
func (c CompareExchangePut) Name() string                 { return "" }
func (c CompareExchangePut) ChangeVector() (string, bool) { return "", false }
func (c CompareExchangePut) Kind() Kind                   { return KindCompareExchangePut }
func (CompareExchangePut) command()                       {}

func (c CompareExchangePut) Serialize() map[string]any {
	return map[string]any{
		"Id":       c.key,
		"Index":    c.index,
		"Document": map[string]any{"Object": c.value},
		"Type":     KindCompareExchangePut.String(),
	}
}

// CompareExchangeDelete removes a cluster-wide value when the index matches.
type CompareExchangeDelete struct {
	key   string
	index int64
}

func NewCompareExchangeDelete(key string, index int64) (CompareExchangeDelete, error) {
	if key == "" {
		return CompareExchangeDelete{}, blank("compare exchange delete requires a key")
	}
	return CompareExchangeDelete{key: key, index: index}, nil
}

func (c CompareExchangeDelete) ID() string                   { return c.key }
func (c CompareExchangeDelete) Name() string                 { return "" }
func (c CompareExchangeDelete) ChangeVector() (string, bool) { return "", false }
func (c CompareExchangeDelete) Kind() Kind                   { return KindCompareExchangeDelete }
func (CompareExchangeDelete) command()                       {}

func (c CompareExchangeDelete) Serialize() map[string]any {
	return map[string]any{
		"Id":    c.key,
		"Index": c.index,
		"Type":  KindCompareExchangeDelete.String(),
	}
}

// ForceRevisionCreation snapshots the current document into a revision.
type ForceRevisionCreation struct {
	id string
}

func NewForceRevisionCreation(id string) (ForceRevisionCreation, error) {
	if id == "" {
		return ForceRevisionCreation{}, blank("revision creation requires a document id")
	}
	return ForceRevisionCreation{id: id}, nil
}

func (c ForceRevisionCreation) ID() string                   { return c.id }
func (c ForceRevisionCreation) Name() string                 { return "" }
func (c ForceRevisionCreation) ChangeVector() (string, bool) { return "", false }
func (c ForceRevisionCreation) Kind() Kind                   { return KindForceRevisionCreation }
func (ForceRevisionCreation) command()                       {}

func (c ForceRevisionCreation) Serialize() map[string]any {
	return map[string]any{
		"Id":   c.id,
		"Type": KindForceRevisionCreation.String(),
	}
}

// FormatTime renders t the way the server stores dates: UTC with seven
// fractional digits.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.0000000Z")
}
