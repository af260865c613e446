package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/ravendb/ravendb.go"
	"github.com/ravendb/ravendb.go/pkg/document"
)

// record is one document as ravenctl prints it.
type record struct {
	ID       string            `json:"id"`
	Metadata document.Document `json:"metadata,omitempty"`
	Document document.Document `json:"document"`
}

func toRecord(s *ravendb.Session, doc *document.Document) record {
	r := record{ID: s.GetDocumentID(doc), Document: *doc}
	if meta, err := s.GetMetadataFor(doc); err == nil {
		r.Metadata = meta
	}
	return r
}

func writeRecords(w io.Writer, format string, records []record) error {
	if format == "text" {
		for _, r := range records {
			body, err := json.Marshal(r.Document)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s\t%s\n", r.ID, body); err != nil {
				return err
			}
		}
		return nil
	}
	if records == nil {
		records = []record{}
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
