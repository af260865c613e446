package fakeserver

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/goccy/go-json"
)

// internalHeader marks requests dispatched from inside a multi-get so they
// are not counted as separate round trips.
const internalHeader = "X-Fakeserver-Internal"

type getRequest struct {
	Url     string
	Query   string
	Method  string
	Headers map[string]string
	Content json.RawMessage
}

func (s *Server) handleMultiGet(w http.ResponseWriter, r *http.Request) {
	var req struct{ Requests []getRequest }
	if err := s.unmarshaler.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, invalidBatchType, "invalid multi-get: "+err.Error())
		return
	}

	results := make([]any, len(req.Requests))
	for i, get := range req.Requests {
		results[i] = s.dispatch(r, get)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"Results": results})
}

func (s *Server) dispatch(parent *http.Request, get getRequest) map[string]any {
	method := get.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(get.Content) > 0 && string(get.Content) != "null" {
		body = bytes.NewReader(get.Content)
	}
	sub, err := http.NewRequestWithContext(parent.Context(), method, get.Url+get.Query, body)
	if err != nil {
		return map[string]any{"Result": nil, "StatusCode": http.StatusBadRequest}
	}
	sub.Header.Set(internalHeader, "1")
	sub.Header.Set("Content-Type", "application/json")
	for k, v := range get.Headers {
		sub.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, sub)

	out := map[string]any{"StatusCode": rec.Code, "Result": nil}
	headers := map[string]string{}
	for k := range rec.Header() {
		headers[k] = rec.Header().Get(k)
	}
	out["Headers"] = headers
	if b := rec.Body.Bytes(); len(b) > 0 && json.Valid(b) {
		out["Result"] = json.RawMessage(b)
	}

	s.mu.Lock()
	if s.forceRetry > 0 {
		s.forceRetry--
		out["ForceRetry"] = true
		out["Result"] = nil
	}
	s.mu.Unlock()
	return out
}
