package ravendb

import (
	"errors"
	"fmt"

	"github.com/ravendb/ravendb.go/pkg/commands"
	"github.com/ravendb/ravendb.go/pkg/connection"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/entity"
)

// Sentinels callers match with errors.Is.
var (
	ErrSessionClosed              = constants.ErrSessionClosed
	ErrNonUniqueObject            = constants.ErrNonUniqueObject
	ErrConflictingDeferredCommand = constants.ErrConflictingDeferredCommand
	ErrAmbiguousDelete            = constants.ErrAmbiguousDelete
	ErrRequestBudgetExceeded      = constants.ErrRequestBudgetExceeded
	ErrEntityNotTracked           = constants.ErrEntityNotTracked
	ErrEntityDeleted              = constants.ErrEntityDeleted
	ErrInvalidEntity              = constants.ErrInvalidEntity
	ErrBlankID                    = constants.ErrBlankID
	ErrTypeMismatch               = constants.ErrTypeMismatch
	ErrConversion                 = constants.ErrConversion
	ErrRemote                     = constants.ErrRemote
	ErrConcurrency                = constants.ErrConcurrency
	ErrMalformedResponse          = constants.ErrMalformedResponse
)

var (
	// ErrDocumentNotFound is returned by operations that need the document to
	// exist on the server.
	ErrDocumentNotFound = errors.New("document does not exist")
	// ErrStaleResults is returned when a query waited for non-stale results
	// and the index did not catch up in time.
	ErrStaleResults = errors.New("query results are stale")
)

type (
	ConversionError = entity.ConversionError
	RemoteError     = connection.RemoteError
)

// NonUniqueAssociationError is returned when a second entity is stored under
// an id another tracked entity already owns.
type NonUniqueAssociationError struct {
	ID string
}

func (e *NonUniqueAssociationError) Error() string {
	return fmt.Sprintf("%v: %s", constants.ErrNonUniqueObject, e.ID)
}

func (e *NonUniqueAssociationError) Unwrap() error { return constants.ErrNonUniqueObject }

// ConflictingDeferredCommandError is returned when a tracked entity change
// and a deferred command would both write the same document.
type ConflictingDeferredCommandError struct {
	ID string
	// Kind is the operation being attempted, Conflict the deferred command
	// already registered.
	Kind     commands.Kind
	Conflict commands.Kind
}

func (e *ConflictingDeferredCommandError) Error() string {
	return fmt.Sprintf("%v: cannot %s %s, a deferred %s command is pending for it",
		constants.ErrConflictingDeferredCommand, e.Kind, e.ID, e.Conflict)
}

func (e *ConflictingDeferredCommandError) Unwrap() error {
	return constants.ErrConflictingDeferredCommand
}

// AmbiguousDeleteError is returned when a document is deleted by id while
// its tracked entity has unsaved changes.
type AmbiguousDeleteError struct {
	ID string
}

func (e *AmbiguousDeleteError) Error() string {
	return fmt.Sprintf("%v: %s has pending changes, delete the entity instead", constants.ErrAmbiguousDelete, e.ID)
}

func (e *AmbiguousDeleteError) Unwrap() error { return constants.ErrAmbiguousDelete }

// RequestBudgetExceededError is returned once a session issued more requests
// than it is allowed to.
type RequestBudgetExceededError struct {
	Count int
	Max   int
}

func (e *RequestBudgetExceededError) Error() string {
	return fmt.Sprintf("%v: request %d of %d; reduce round trips with LoadMany, includes or lazy operations",
		constants.ErrRequestBudgetExceeded, e.Count, e.Max)
}

func (e *RequestBudgetExceededError) Unwrap() error { return constants.ErrRequestBudgetExceeded }
