package fakeserver

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

func (s *Server) handleGetDocs(w http.ResponseWriter, r *http.Request) {
	db := s.database(mux.Vars(r)["database"])
	q := r.URL.Query()
	ids := q["id"]

	if len(ids) == 0 {
		all := db.all()
		results := make([]any, len(all))
		for i, d := range all {
			results[i] = d
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"Results": results})
		return
	}

	if len(ids) == 1 {
		if cv, ok := db.changeVector(ids[0]); ok && r.Header.Get("If-None-Match") == `"`+cv+`"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	results := make([]any, len(ids))
	includes := map[string]any{}
	found := 0
	for i, id := range ids {
		doc, ok := db.get(id)
		if !ok {
			continue
		}
		found++
		results[i] = doc
		for _, path := range q["include"] {
			for _, ref := range referencedIDs(doc, path) {
				if inc, ok := db.get(ref); ok {
					includes[ref] = inc
				}
			}
		}
	}
	if len(ids) == 1 && found == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(ids) == 1 {
		if cv, ok := db.changeVector(ids[0]); ok {
			w.Header().Set("ETag", `"`+cv+`"`)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"Results": results, "Includes": includes})
}

func (s *Server) handleHeadDoc(w http.ResponseWriter, r *http.Request) {
	db := s.database(mux.Vars(r)["database"])
	cv, ok := db.changeVector(strings.TrimSpace(r.URL.Query().Get("id")))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("ETag", `"`+cv+`"`)
	w.WriteHeader(http.StatusOK)
}
