package constants

import "errors"

// Session errors
var (
	ErrSessionClosed              = errors.New("session is closed")
	ErrNonUniqueObject            = errors.New("attempted to associate a different object with an id already in use")
	ErrConflictingDeferredCommand = errors.New("document is part of a conflicting deferred command")
	ErrAmbiguousDelete            = errors.New("cannot delete a changed entity by id")
	ErrRequestBudgetExceeded      = errors.New("maximum number of requests per session exceeded")
	ErrEntityNotTracked           = errors.New("entity is not associated with the session")
	ErrEntityDeleted              = errors.New("entity was already deleted in this session")
	ErrInvalidEntity              = errors.New("entity must be a non-nil pointer to a struct or map")
	ErrBlankID                    = errors.New("document id must not be blank")
	ErrTypeMismatch               = errors.New("tracked entity has a different type")
)

// Codec errors
var (
	ErrConversion = errors.New("could not convert document")
)

// Remote errors
var (
	ErrRemote            = errors.New("server returned an error")
	ErrConcurrency       = errors.New("optimistic concurrency violation")
	ErrMalformedResponse = errors.New("malformed server response")
	ErrNoBaseURL         = errors.New("base url not set")
	ErrNoDatabase        = errors.New("database not set")
	ErrNoMarshaler       = errors.New("marshaler is not set")
	ErrNoUnmarshaler     = errors.New("unmarshaler is not set")
)
