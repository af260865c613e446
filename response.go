package ravendb

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"

	"github.com/ravendb/ravendb.go/pkg/document"
)

// documentsResponse is the body of a document or query read: the results in
// request order (nil for missing documents) and the included documents.
type documentsResponse struct {
	Results  []document.Document
	Includes map[string]document.Document
}

func parseDocumentsResponse(body []byte) (*documentsResponse, error) {
	out := &documentsResponse{Includes: map[string]document.Document{}}

	results, dataType, _, err := jsonparser.Get(body, "Results")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dataType != jsonparser.Array {
		return nil, fmt.Errorf("%w: Results is %s, expected an array", ErrMalformedResponse, dataType)
	}

	var itemErr error
	_, err = jsonparser.ArrayEach(results, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if itemErr != nil {
			return
		}
		if err != nil {
			itemErr = err
			return
		}
		doc, err := parseDocument(value, dataType)
		if err != nil {
			itemErr = err
			return
		}
		out.Results = append(out.Results, doc)
	})
	if err == nil {
		err = itemErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	includes, dataType, _, err := jsonparser.Get(body, "Includes")
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError):
		return out, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	case dataType != jsonparser.Object:
		return out, nil
	}
	err = jsonparser.ObjectEach(includes, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		id, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		doc, err := parseDocument(value, dataType)
		if err != nil {
			return err
		}
		out.Includes[id] = doc
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: includes: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

// parseDocument decodes one JSON value; null is a missing document.
func parseDocument(value []byte, dataType jsonparser.ValueType) (document.Document, error) {
	switch dataType {
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Object:
		var doc document.Document
		if err := json.Unmarshal(value, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("document is %s, expected an object", dataType)
	}
}

// QueryStatistics describes how the server answered a query.
type QueryStatistics struct {
	IsStale        bool
	DurationInMs   int64
	TotalResults   int64
	SkippedResults int64
	IndexName      string
	IndexTimestamp time.Time
	LastQueryTime  time.Time
	ResultEtag     int64
}

type queryResponse struct {
	documentsResponse
	Stats QueryStatistics
}

func parseQueryResponse(body []byte) (*queryResponse, error) {
	docs, err := parseDocumentsResponse(body)
	if err != nil {
		return nil, err
	}
	out := &queryResponse{documentsResponse: *docs}
	st := &out.Stats
	st.IsStale, _ = jsonparser.GetBoolean(body, "IsStale")
	st.DurationInMs, _ = jsonparser.GetInt(body, "DurationInMs")
	st.TotalResults, _ = jsonparser.GetInt(body, "TotalResults")
	st.SkippedResults, _ = jsonparser.GetInt(body, "SkippedResults")
	st.ResultEtag, _ = jsonparser.GetInt(body, "ResultEtag")
	st.IndexName, _ = jsonparser.GetString(body, "IndexName")
	st.IndexTimestamp = parseServerTime(body, "IndexTimestamp")
	st.LastQueryTime = parseServerTime(body, "LastQueryTime")
	return out, nil
}

func parseServerTime(body []byte, key string) time.Time {
	s, err := jsonparser.GetString(body, key)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// includedIDs collects the document ids referenced by path in doc. Path
// segments are separated by dots; a "[]" suffix or an array value fans out.
func includedIDs(doc document.Document, path string) []string {
	var out []string
	var walk func(v any, parts []string)
	walk = func(v any, parts []string) {
		switch x := v.(type) {
		case []any:
			for _, item := range x {
				walk(item, parts)
			}
		case string:
			if len(parts) == 0 && x != "" {
				out = append(out, x)
			}
		case map[string]any:
			if len(parts) > 0 {
				walk(x[parts[0]], parts[1:])
			}
		case document.Document:
			if len(parts) > 0 {
				walk(x[parts[0]], parts[1:])
			}
		}
	}
	parts := strings.Split(strings.ReplaceAll(path, "[]", ""), ".")
	walk(map[string]any(doc), parts)
	return out
}
