// Package document holds the structured document model shared by the codec,
// the session, and the batch commands: the Document tree itself, the per-document
// tracking record (Info), and the structural change detector.
package document

import (
	"fmt"

	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/tiendc/go-deepcopy"
)

// Document is a structured JSON document. Nested objects are Document or
// map[string]any, arrays are []any, numbers are float64.
type Document map[string]any

// Metadata returns the "@metadata" block of doc, or nil if there is none.
func (doc Document) Metadata() Document {
	if doc == nil {
		return nil
	}
	return asDocument(doc[constants.MetadataKey])
}

// String reads a string field, returning "" when absent or not a string.
func (doc Document) String(key string) string {
	s, _ := doc[key].(string)
	return s
}

// Body returns a shallow copy of doc without its metadata block.
func (doc Document) Body() Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if k == constants.MetadataKey {
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of doc. Stored shapes are cloned before they are
// kept as a diff baseline so later mutation of the source cannot leak in.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	var out Document
	if err := deepcopy.Copy(&out, doc); err != nil {
		panic(fmt.Sprintf("unreachable: deep copy of document failed: %v", err))
	}
	return out
}

func asDocument(v any) Document {
	switch m := v.(type) {
	case Document:
		return m
	case map[string]any:
		return Document(m)
	default:
		return nil
	}
}
