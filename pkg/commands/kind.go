package commands

// Kind discriminates command variants. Its String form is the wire "Type".
type Kind int

const (
	KindPut Kind = iota
	KindPatch
	KindBatchPatch
	KindDelete
	KindAttachmentPut
	KindAttachmentDelete
	KindAttachmentMove
	KindAttachmentCopy
	KindCounters
	KindTimeSeries
	KindTimeSeriesWithIncrements
	KindCompareExchangePut
	KindCompareExchangeDelete
	KindForceRevisionCreation

	// KindAny and KindModifyDocument never go on the wire. They key the
	// session's deferred index: every deferred command registers under
	// KindAny, document writes additionally under KindModifyDocument.
	KindAny
	KindModifyDocument
)

var kindNames = map[Kind]string{
	KindPut:                      "PUT",
	KindPatch:                    "PATCH",
	KindBatchPatch:               "BatchPATCH",
	KindDelete:                   "DELETE",
	KindAttachmentPut:            "AttachmentPUT",
	KindAttachmentDelete:         "AttachmentDELETE",
	KindAttachmentMove:           "AttachmentMOVE",
	KindAttachmentCopy:           "AttachmentCOPY",
	KindCounters:                 "Counters",
	KindTimeSeries:               "TimeSeries",
	KindTimeSeriesWithIncrements: "TimeSeriesWithIncrements",
	KindCompareExchangePut:       "CompareExchangePUT",
	KindCompareExchangeDelete:    "CompareExchangeDELETE",
	KindForceRevisionCreation:    "ForceRevisionCreation",
	KindAny:                      "ClientAnyCommand",
	KindModifyDocument:           "ClientModifyDocumentCommand",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// ParseKind maps a wire "Type" back to its Kind.
func ParseKind(s string) (Kind, bool) {
	k, ok := kindsByName[s]
	return k, ok
}

// ModifiesDocument reports whether k rewrites the document body.
func (k Kind) ModifiesDocument() bool {
	switch k {
	case KindPut, KindPatch, KindBatchPatch, KindDelete, KindModifyDocument:
		return true
	default:
		return false
	}
}

// Key identifies an entry of the deferred command index.
type Key struct {
	ID   string
	Kind Kind
	Name string
}

// Conflicts reports whether a command of kind b may not join a batch that
// already holds a command of kind a for the same document and name.
// Patches compose; any other pair of document writes does not.
func Conflicts(a, b Kind) bool {
	if a == KindAny || b == KindAny {
		return true
	}
	if a == KindDelete || b == KindDelete {
		return true
	}
	if a.ModifiesDocument() && b.ModifiesDocument() {
		return !(isPatch(a) && isPatch(b))
	}
	if a == b {
		switch a {
		case KindAttachmentPut, KindAttachmentDelete, KindAttachmentMove, KindAttachmentCopy,
			KindForceRevisionCreation, KindCompareExchangePut, KindCompareExchangeDelete:
			return true
		}
	}
	return false
}

func isPatch(k Kind) bool {
	return k == KindPatch || k == KindBatchPatch
}
