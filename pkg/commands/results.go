package commands

import (
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

// ErrMalformedResponse is returned for batch responses that cannot be read.
var ErrMalformedResponse = constants.ErrMalformedResponse

// ResultItem is the server's answer to one batch command.
type ResultItem struct {
	Kind    Kind
	RawType string

	ID           string
	ChangeVector string
	Collection   string
	LastModified string

	Deleted          bool
	PatchStatus      string
	ModifiedDocument document.Document

	// DocumentChangeVector is the owning document's change vector after a
	// sub-resource operation (attachments, counters, time series).
	DocumentChangeVector string
	Name                 string
	RevisionCreated      bool
}

// ParseBatchResult reads the "Results" array of a batch response.
func ParseBatchResult(body []byte) ([]ResultItem, error) {
	results, dataType, _, err := jsonparser.Get(body, "Results")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dataType != jsonparser.Array {
		return nil, fmt.Errorf("%w: Results is %s, expected an array", ErrMalformedResponse, dataType)
	}

	var (
		items   []ResultItem
		itemErr error
	)
	_, err = jsonparser.ArrayEach(results, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if itemErr != nil {
			return
		}
		if err != nil {
			itemErr = err
			return
		}
		if dataType != jsonparser.Object {
			itemErr = fmt.Errorf("result item is %s, expected an object", dataType)
			return
		}
		item, err := parseResultItem(value)
		if err != nil {
			itemErr = err
			return
		}
		items = append(items, item)
	})
	if err == nil {
		err = itemErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return items, nil
}

func parseResultItem(value []byte) (ResultItem, error) {
	var item ResultItem
	var err error

	item.RawType, err = jsonparser.GetString(value, "Type")
	if err != nil {
		return item, fmt.Errorf("result item without Type: %w", err)
	}
	kind, ok := ParseKind(item.RawType)
	if !ok {
		return item, fmt.Errorf("unknown result type %q", item.RawType)
	}
	item.Kind = kind

	item.ID = firstString(value, constants.MetadataID, "Id")
	item.ChangeVector = firstString(value, constants.MetadataChangeVector, "ChangeVector")
	item.Collection = firstString(value, constants.MetadataCollection)
	item.LastModified = firstString(value, constants.MetadataLastModified, "LastModified")
	item.PatchStatus = firstString(value, "PatchStatus")
	item.DocumentChangeVector = firstString(value, "DocumentChangeVector")
	item.Name = firstString(value, "Name")
	item.Deleted, _ = jsonparser.GetBoolean(value, "Deleted")
	item.RevisionCreated, _ = jsonparser.GetBoolean(value, "RevisionCreated")

	raw, dataType, _, err := jsonparser.Get(value, "ModifiedDocument")
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError):
	case err != nil:
		return item, err
	case dataType == jsonparser.Object:
		if err := json.Unmarshal(raw, &item.ModifiedDocument); err != nil {
			return item, fmt.Errorf("ModifiedDocument: %w", err)
		}
	}
	return item, nil
}

// firstString returns the first of keys present as a string in value.
func firstString(value []byte, keys ...string) string {
	for _, k := range keys {
		if s, err := jsonparser.GetString(value, k); err == nil {
			return s
		}
	}
	return ""
}
