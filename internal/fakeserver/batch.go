package fakeserver

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

const (
	concurrencyException = "Raven.Client.Exceptions.ConcurrencyException"
	docNotFoundException = "Raven.Client.Exceptions.Documents.DocumentDoesNotExistException"
	invalidBatchType     = "System.InvalidOperationException"
)

// batchError aborts a batch; nothing it touched is committed.
type batchError struct {
	status  int
	typ     string
	message string
}

func (e *batchError) Error() string { return e.message }

func concurrencyError(format string, args ...any) *batchError {
	return &batchError{status: http.StatusConflict, typ: concurrencyException, message: fmt.Sprintf(format, args...)}
}

func missingDocument(id string) *batchError {
	return &batchError{status: http.StatusNotFound, typ: docNotFoundException, message: fmt.Sprintf("Document '%s' does not exist.", id)}
}

func invalidCommand(format string, args ...any) *batchError {
	return &batchError{status: http.StatusBadRequest, typ: invalidBatchType, message: fmt.Sprintf(format, args...)}
}

type batchRequest struct {
	Commands []document.Document
}

type batchRun struct {
	st      *state
	dbID    string
	streams [][]byte
	changes []changeEvent
}

func (s *Server) handleBulkDocs(w http.ResponseWriter, r *http.Request) {
	db := s.database(mux.Vars(r)["database"])

	payload, streams, err := s.readBatchBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, invalidBatchType, err.Error())
		return
	}
	var req batchRequest
	if err := s.unmarshaler.Unmarshal(payload, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, invalidBatchType, "invalid batch: "+err.Error())
		return
	}

	st, err := db.snapshot()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, invalidBatchType, err.Error())
		return
	}
	run := &batchRun{st: &st, dbID: db.id, streams: streams}

	results := make([]any, 0, len(req.Commands))
	for _, cmd := range req.Commands {
		res, err := run.apply(cmd)
		if err != nil {
			be, ok := err.(*batchError)
			if !ok {
				be = invalidCommand("%v", err)
			}
			s.writeError(w, be.status, be.typ, be.message)
			return
		}
		results = append(results, res)
	}

	db.commit(st)
	s.changes.publish(db.name, run.changes)
	s.writeJSON(w, http.StatusCreated, map[string]any{"Results": results})
}

// readBatchBody returns the JSON envelope and, for multipart bodies, the
// attachment streams in order.
func (s *Server) readBatchBody(r *http.Request) ([]byte, [][]byte, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		data, err := io.ReadAll(r.Body)
		return data, nil, err
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	var (
		payload []byte
		streams [][]byte
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading multipart batch: %w", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, nil, err
		}
		if payload == nil {
			payload = data
			continue
		}
		if part.Header.Get("Command-Type") != "AttachmentStream" {
			return nil, nil, fmt.Errorf("unexpected part with Command-Type %q", part.Header.Get("Command-Type"))
		}
		streams = append(streams, data)
	}
	if payload == nil {
		return nil, nil, fmt.Errorf("multipart batch without commands")
	}
	return payload, streams, nil
}

func (b *batchRun) apply(cmd document.Document) (map[string]any, error) {
	typ := cmd.String("Type")
	switch typ {
	case "PUT":
		return b.put(cmd)
	case "DELETE":
		return b.delete(cmd)
	case "PATCH":
		return b.patch(cmd)
	case "BatchPATCH":
		return b.batchPatch(cmd)
	case "AttachmentPUT":
		return b.attachmentPut(cmd)
	case "AttachmentDELETE":
		return b.attachmentDelete(cmd)
	case "AttachmentMOVE", "AttachmentCOPY":
		return b.attachmentTransfer(cmd, typ == "AttachmentMOVE")
	case "Counters":
		return b.counters(cmd)
	case "TimeSeries", "TimeSeriesWithIncrements":
		return b.timeSeries(cmd, typ == "TimeSeriesWithIncrements")
	case "CompareExchangePUT":
		return b.compareExchangePut(cmd)
	case "CompareExchangeDELETE":
		return b.compareExchangeDelete(cmd)
	case "ForceRevisionCreation":
		return b.forceRevision(cmd)
	}
	return nil, invalidCommand("unknown command type %q", typ)
}

func (b *batchRun) lookup(id string) (*StoredDocument, bool) {
	d, ok := b.st.Docs[strings.ToLower(id)]
	return d, ok
}

// checkChangeVector enforces an expected change vector: absent means no
// check, empty means the document must not exist.
func (b *batchRun) checkChangeVector(id string, expected any) error {
	cv, ok := expected.(string)
	if !ok {
		return nil
	}
	d, exists := b.lookup(id)
	switch {
	case cv == "" && exists:
		return concurrencyError("Document %s already exists, but the expected change vector says it should not exist.", id)
	case cv != "" && !exists:
		return concurrencyError("Document %s does not exist, but Put was called with change vector: %s.", id, cv)
	case cv != "" && d.ChangeVector != cv:
		return concurrencyError("Document %s has change vector %s, but Put was called with expecting change vector %s.", id, d.ChangeVector, cv)
	}
	return nil
}

func (b *batchRun) record(typ string, d *StoredDocument) {
	b.changes = append(b.changes, changeEvent{Type: typ, ID: d.ID, Collection: d.Collection, ChangeVector: d.ChangeVector})
}

func (b *batchRun) put(cmd document.Document) (map[string]any, error) {
	id := cmd.String("Id")
	if id == "" {
		return nil, invalidCommand("PUT without Id")
	}
	if strings.HasSuffix(id, "/") {
		id = fmt.Sprintf("%s%d-A", id, b.st.Etag+1)
	}
	if err := b.checkChangeVector(id, cmd["ChangeVector"]); err != nil {
		return nil, err
	}
	doc := asDocument(cmd["Document"])
	if doc == nil {
		return nil, invalidCommand("PUT of %s without Document", id)
	}
	stored := putDocument(b.st, b.dbID, id, doc)
	b.record("Put", stored)
	return map[string]any{
		"Type":                         "PUT",
		constants.MetadataID:           stored.ID,
		constants.MetadataCollection:   stored.Collection,
		constants.MetadataChangeVector: stored.ChangeVector,
		constants.MetadataLastModified: stored.LastModified,
	}, nil
}

func (b *batchRun) delete(cmd document.Document) (map[string]any, error) {
	id := cmd.String("Id")
	if err := b.checkChangeVector(id, cmd["ChangeVector"]); err != nil {
		return nil, err
	}
	d, existed := b.lookup(id)
	if existed {
		delete(b.st.Docs, strings.ToLower(id))
		b.record("Delete", d)
	}
	return map[string]any{"Type": "DELETE", constants.MetadataID: id, "Deleted": existed}, nil
}

func (b *batchRun) patch(cmd document.Document) (map[string]any, error) {
	id := cmd.String("Id")
	if err := b.checkChangeVector(id, cmd["ChangeVector"]); err != nil {
		return nil, err
	}
	res, err := b.patchOne(id, asDocument(cmd["Patch"]), asDocument(cmd["PatchIfMissing"]))
	if err != nil {
		return nil, err
	}
	res["Type"] = "PATCH"
	if ret, _ := cmd["ReturnDocument"].(bool); ret {
		if d, ok := b.lookup(id); ok {
			res["ModifiedDocument"] = d.document()
		}
	}
	return res, nil
}

func (b *batchRun) batchPatch(cmd document.Document) (map[string]any, error) {
	ids, _ := cmd["Ids"].([]any)
	results := make([]any, 0, len(ids))
	for _, raw := range ids {
		entry := asDocument(raw)
		id := entry.String("Id")
		if err := b.checkChangeVector(id, entry["ChangeVector"]); err != nil {
			return nil, err
		}
		res, err := b.patchOne(id, asDocument(cmd["Patch"]), nil)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return map[string]any{"Type": "BatchPATCH", "Results": results}, nil
}

func (b *batchRun) patchOne(id string, patch, patchIfMissing document.Document) (map[string]any, error) {
	d, exists := b.lookup(id)
	script, values := patch.String("Script"), asDocument(patch["Values"])
	status := "Patched"
	if !exists {
		if patchIfMissing == nil {
			return map[string]any{constants.MetadataID: id, "PatchStatus": "DocumentDoesNotExist"}, nil
		}
		script, values = patchIfMissing.String("Script"), asDocument(patchIfMissing["Values"])
		d = &StoredDocument{ID: id, Collection: constants.EmptyCollection, Body: document.Document{}, Metadata: document.Document{}}
		status = "Created"
	}

	body := document.Clone(d.Body)
	if body == nil {
		body = document.Document{}
	}
	modified, err := runPatch(body, script, values)
	if err != nil {
		return nil, invalidCommand("patch of %s failed: %v", id, err)
	}
	if !modified && exists {
		return map[string]any{
			constants.MetadataID: id,
			"ChangeVector":       d.ChangeVector,
			"PatchStatus":        "NotModified",
			"Collection":         d.Collection,
		}, nil
	}
	d.Body = body
	if !exists {
		b.st.Docs[strings.ToLower(id)] = d
	}
	touch(b.st, b.dbID, d)
	b.record("Put", d)
	return map[string]any{
		constants.MetadataID: id,
		"ChangeVector":       d.ChangeVector,
		"LastModified":       d.LastModified,
		"Collection":         d.Collection,
		"PatchStatus":        status,
	}, nil
}

func (b *batchRun) requireDocument(id string) (*StoredDocument, error) {
	d, ok := b.lookup(id)
	if !ok {
		return nil, missingDocument(id)
	}
	return d, nil
}

func (b *batchRun) attachmentPut(cmd document.Document) (map[string]any, error) {
	id, name := cmd.String("Id"), cmd.String("Name")
	if err := b.checkChangeVector(id, cmd["ChangeVector"]); err != nil {
		return nil, err
	}
	d, err := b.requireDocument(id)
	if err != nil {
		return nil, err
	}
	if len(b.streams) == 0 {
		return nil, invalidCommand("attachment %s of %s has no stream", name, id)
	}
	data := b.streams[0]
	b.streams = b.streams[1:]

	if d.Attachments == nil {
		d.Attachments = map[string]Attachment{}
	}
	d.Attachments[name] = Attachment{Name: name, ContentType: cmd.String("ContentType"), Data: data}
	touch(b.st, b.dbID, d)
	return map[string]any{
		"Type":                 "AttachmentPUT",
		constants.MetadataID:   id,
		"Name":                 name,
		"ContentType":          cmd.String("ContentType"),
		"Size":                 len(data),
		"ChangeVector":         d.ChangeVector,
		"DocumentChangeVector": d.ChangeVector,
	}, nil
}

func (b *batchRun) attachmentDelete(cmd document.Document) (map[string]any, error) {
	id, name := cmd.String("Id"), cmd.String("Name")
	d, err := b.requireDocument(id)
	if err != nil {
		return nil, err
	}
	if _, ok := d.Attachments[name]; ok {
		delete(d.Attachments, name)
		touch(b.st, b.dbID, d)
	}
	return map[string]any{
		"Type":                 "AttachmentDELETE",
		constants.MetadataID:   id,
		"Name":                 name,
		"DocumentChangeVector": d.ChangeVector,
	}, nil
}

func (b *batchRun) attachmentTransfer(cmd document.Document, move bool) (map[string]any, error) {
	id, name := cmd.String("Id"), cmd.String("Name")
	destID, destName := cmd.String("DestinationId"), cmd.String("DestinationName")
	src, err := b.requireDocument(id)
	if err != nil {
		return nil, err
	}
	a, ok := src.Attachments[name]
	if !ok {
		return nil, &batchError{status: http.StatusNotFound, typ: docNotFoundException,
			message: fmt.Sprintf("Attachment '%s' of document '%s' does not exist.", name, id)}
	}
	dest, err := b.requireDocument(destID)
	if err != nil {
		return nil, err
	}
	if move {
		delete(src.Attachments, name)
		touch(b.st, b.dbID, src)
	}
	if dest.Attachments == nil {
		dest.Attachments = map[string]Attachment{}
	}
	a.Name = destName
	dest.Attachments[destName] = a
	touch(b.st, b.dbID, dest)

	typ := "AttachmentCOPY"
	if move {
		typ = "AttachmentMOVE"
	}
	return map[string]any{
		"Type":                 typ,
		constants.MetadataID:   id,
		"Name":                 name,
		"DestinationId":        destID,
		"DestinationName":      destName,
		"ChangeVector":         dest.ChangeVector,
		"DocumentChangeVector": dest.ChangeVector,
	}, nil
}

func (b *batchRun) counters(cmd document.Document) (map[string]any, error) {
	id := cmd.String("Id")
	d, err := b.requireDocument(id)
	if err != nil {
		return nil, err
	}
	ops, _ := asDocument(cmd["Counters"])["Operations"].([]any)
	if d.Counters == nil {
		d.Counters = map[string]int64{}
	}
	details := make([]any, 0, len(ops))
	for _, raw := range ops {
		op := asDocument(raw)
		name := op.String("CounterName")
		switch op.String("Type") {
		case "Increment":
			delta, _ := op["Delta"].(float64)
			d.Counters[name] += int64(delta)
			details = append(details, map[string]any{"DocumentId": id, "CounterName": name, "TotalValue": d.Counters[name]})
		case "Delete":
			delete(d.Counters, name)
		default:
			return nil, invalidCommand("unknown counter operation %q", op.String("Type"))
		}
	}
	touch(b.st, b.dbID, d)
	return map[string]any{
		"Type":                 "Counters",
		"Id":                   id,
		"DocumentChangeVector": d.ChangeVector,
		"CountersDetail":       map[string]any{"Counters": details},
	}, nil
}

func (b *batchRun) timeSeries(cmd document.Document, incremental bool) (map[string]any, error) {
	id := cmd.String("Id")
	d, err := b.requireDocument(id)
	if err != nil {
		return nil, err
	}
	series := asDocument(cmd["TimeSeries"])
	name := series.String("Name")
	if d.TimeSeries == nil {
		d.TimeSeries = map[string][]TimeSeriesEntry{}
	}
	entries := d.TimeSeries[name]

	deletes, _ := series["Deletes"].([]any)
	for _, raw := range deletes {
		rng := asDocument(raw)
		from, _ := rng["From"].(string)
		to, _ := rng["To"].(string)
		kept := entries[:0]
		for _, e := range entries {
			if (from == "" || e.Timestamp >= from) && (to == "" || e.Timestamp <= to) {
				continue
			}
			kept = append(kept, e)
		}
		entries = kept
	}

	key := "Appends"
	if incremental {
		key = "Increments"
	}
	points, _ := series[key].([]any)
	for _, raw := range points {
		p := asDocument(raw)
		entry := TimeSeriesEntry{Timestamp: p.String("Timestamp"), Values: floats(p["Values"]), Tag: p.String("Tag")}
		entries = upsertEntry(entries, entry, incremental)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	if len(entries) == 0 {
		delete(d.TimeSeries, name)
	} else {
		d.TimeSeries[name] = entries
	}
	touch(b.st, b.dbID, d)

	typ := "TimeSeries"
	if incremental {
		typ = "TimeSeriesWithIncrements"
	}
	return map[string]any{"Type": typ, "Id": id, "Name": name, "DocumentChangeVector": d.ChangeVector}, nil
}

func upsertEntry(entries []TimeSeriesEntry, e TimeSeriesEntry, incremental bool) []TimeSeriesEntry {
	for i := range entries {
		if entries[i].Timestamp != e.Timestamp {
			continue
		}
		if !incremental {
			entries[i] = e
			return entries
		}
		for j, v := range e.Values {
			if j < len(entries[i].Values) {
				entries[i].Values[j] += v
			} else {
				entries[i].Values = append(entries[i].Values, v)
			}
		}
		return entries
	}
	return append(entries, e)
}

func floats(v any) []float64 {
	raw, _ := v.([]any)
	out := make([]float64, 0, len(raw))
	for _, x := range raw {
		f, _ := x.(float64)
		out = append(out, f)
	}
	return out
}

func (b *batchRun) compareExchangePut(cmd document.Document) (map[string]any, error) {
	key := cmd.String("Id")
	index, _ := cmd["Index"].(float64)
	current, exists := b.st.CompareExchange[key]
	if (exists && current.Index != int64(index)) || (!exists && index != 0) {
		return nil, concurrencyError("Failed to execute cluster transaction due to the following issues: Guard compare exchange value '%s' index does not match.", key)
	}
	b.st.ClusterIndex++
	b.st.CompareExchange[key] = CompareExchangeValue{Index: b.st.ClusterIndex, Value: asDocument(cmd["Document"])["Object"]}
	return map[string]any{"Type": "CompareExchangePUT", "Id": key, "Index": b.st.ClusterIndex, "Successful": true}, nil
}

func (b *batchRun) compareExchangeDelete(cmd document.Document) (map[string]any, error) {
	key := cmd.String("Id")
	index, _ := cmd["Index"].(float64)
	current, exists := b.st.CompareExchange[key]
	if !exists || current.Index != int64(index) {
		return nil, concurrencyError("Failed to execute cluster transaction due to the following issues: Guard compare exchange value '%s' index does not match.", key)
	}
	delete(b.st.CompareExchange, key)
	return map[string]any{"Type": "CompareExchangeDELETE", "Id": key, "Index": current.Index, "Successful": true}, nil
}

func (b *batchRun) forceRevision(cmd document.Document) (map[string]any, error) {
	id := cmd.String("Id")
	d, err := b.requireDocument(id)
	if err != nil {
		return nil, err
	}
	d.Revisions++
	return map[string]any{"Type": "ForceRevisionCreation", "Id": id, "RevisionCreated": true, "ChangeVector": d.ChangeVector}, nil
}

func asDocument(v any) document.Document {
	switch m := v.(type) {
	case document.Document:
		return m
	case map[string]any:
		return document.Document(m)
	}
	return nil
}

func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	db := s.database(mux.Vars(r)["database"])
	id, name := r.URL.Query().Get("id"), r.URL.Query().Get("name")
	a, ok := db.attachment(id, name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, bytes.NewReader(a.Data))
}
