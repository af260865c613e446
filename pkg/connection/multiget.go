package connection

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/buger/jsonparser"
	"github.com/ravendb/ravendb.go/internal/codec"
	"github.com/ravendb/ravendb.go/pkg/constants"
)

// GetRequest is one read inside a multi-get round trip.
type GetRequest struct {
	Path    string
	Query   url.Values
	Method  string
	Headers map[string]string
	Content any
}

func (r GetRequest) serialize(database string) map[string]any {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	query := ""
	if len(r.Query) > 0 {
		query = "?" + r.Query.Encode()
	}
	headers := r.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	m := map[string]any{
		"Url":     "/databases/" + database + r.Path,
		"Query":   query,
		"Method":  method,
		"Headers": headers,
	}
	if r.Content != nil {
		m["Content"] = r.Content
	}
	return m
}

// GetResponse is the server's answer to one GetRequest.
type GetResponse struct {
	Result     []byte
	StatusCode int
	Headers    map[string]string
	ForceRetry bool
}

func (r *GetResponse) RequestFailed() bool { return r.StatusCode >= http.StatusBadRequest }

// MultiGet builds the POST /multi_get request for reqs.
func MultiGet(database string, m codec.Marshaler, reqs []GetRequest) *Request {
	payload := make([]any, len(reqs))
	for i, r := range reqs {
		payload[i] = r.serialize(database)
	}
	return &Request{
		Method:      http.MethodPost,
		Path:        "/multi_get",
		ContentType: "application/json",
		Body:        JSONBody(m, map[string]any{"Requests": payload}),
	}
}

// ParseMultiGet reads the "Results" array of a multi-get response, one
// GetResponse per request in request order.
func ParseMultiGet(body []byte) ([]GetResponse, error) {
	results, dataType, _, err := jsonparser.Get(body, "Results")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrMalformedResponse, err)
	}
	if dataType != jsonparser.Array {
		return nil, fmt.Errorf("%w: Results is %s, expected an array", constants.ErrMalformedResponse, dataType)
	}

	var (
		out     []GetResponse
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
		resp, err := parseGetResponse(value)
		if err != nil {
			itemErr = err
			return
		}
		out = append(out, resp)
	})
	if err == nil {
		err = itemErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrMalformedResponse, err)
	}
	return out, nil
}

func parseGetResponse(value []byte) (GetResponse, error) {
	var resp GetResponse
	status, err := jsonparser.GetInt(value, "StatusCode")
	if err != nil {
		return resp, fmt.Errorf("result without StatusCode: %w", err)
	}
	resp.StatusCode = int(status)
	resp.ForceRetry, _ = jsonparser.GetBoolean(value, "ForceRetry")

	raw, dataType, _, err := jsonparser.Get(value, "Result")
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError), dataType == jsonparser.Null:
	case err != nil:
		return resp, err
	default:
		resp.Result = append([]byte(nil), raw...)
	}

	err = jsonparser.ObjectEach(value, func(key, v []byte, dataType jsonparser.ValueType, _ int) error {
		if resp.Headers == nil {
			resp.Headers = map[string]string{}
		}
		if dataType == jsonparser.String {
			s, err := jsonparser.ParseString(v)
			if err != nil {
				return err
			}
			resp.Headers[string(key)] = s
			return nil
		}
		resp.Headers[string(key)] = string(v)
		return nil
	}, "Headers")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return resp, fmt.Errorf("headers: %w", err)
	}
	return resp, nil
}
