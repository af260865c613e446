package document

import "github.com/ravendb/ravendb.go/pkg/constants"

// ConcurrencyMode decides whether a Put carries the last known change vector.
type ConcurrencyMode int

const (
	// ConcurrencyAuto sends the change vector only when the session uses
	// optimistic concurrency.
	ConcurrencyAuto ConcurrencyMode = iota
	// ConcurrencyForced always sends the change vector; an unsaved document
	// sends an empty one, meaning "must not exist yet".
	ConcurrencyForced
	// ConcurrencyDisabled never sends a change vector.
	ConcurrencyDisabled
)

var concurrencyModeNames = map[ConcurrencyMode]string{
	ConcurrencyAuto:     "Auto",
	ConcurrencyForced:   "Forced",
	ConcurrencyDisabled: "Disabled",
}

func (m ConcurrencyMode) String() string {
	if s, ok := concurrencyModeNames[m]; ok {
		return s
	}
	return "Unknown"
}

// Info is the session's tracking record for one document.
type Info struct {
	ID           string
	ChangeVector string
	Collection   string

	// Document is the last known stored shape, the baseline for change detection.
	Document Document
	// Metadata is the live metadata handed out to callers; edits to it are
	// merged into the next encoding of the entity.
	Metadata Document

	Entity          any
	IsNewDocument   bool
	IgnoreChanges   bool
	ConcurrencyMode ConcurrencyMode

	// Sequence is assigned by the session when tracking starts and fixes the
	// order in which changed entities appear in a batch.
	Sequence uint64
}

// NewInfo builds a record from a document received from the server.
// The document and its metadata are cloned.
func NewInfo(id string, doc Document) *Info {
	stored := Clone(doc)
	meta := Clone(stored.Metadata())
	if meta == nil {
		meta = Document{}
	}
	info := &Info{
		ID:       id,
		Document: stored,
		Metadata: meta,
	}
	info.ChangeVector = meta.String(constants.MetadataChangeVector)
	info.Collection = meta.String(constants.MetadataCollection)
	return info
}

// ExpectedChangeVector resolves the change vector a write for this record
// should carry, following the record's concurrency mode. The second result
// is false when no check should be sent at all.
func (info *Info) ExpectedChangeVector(useOptimisticConcurrency bool) (string, bool) {
	switch info.ConcurrencyMode {
	case ConcurrencyForced:
		return info.ChangeVector, true
	case ConcurrencyDisabled:
		return "", false
	default:
		if useOptimisticConcurrency && info.ChangeVector != "" {
			return info.ChangeVector, true
		}
		if useOptimisticConcurrency && info.IsNewDocument {
			return "", true
		}
		return "", false
	}
}
