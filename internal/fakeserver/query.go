package fakeserver

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/gorilla/mux"

	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

const invalidQueryException = "Raven.Client.Exceptions.InvalidQueryException"

type queryRequest struct {
	Query                  string
	QueryParameters        map[string]any
	WaitForNonStaleResults bool
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	db := s.database(mux.Vars(r)["database"])

	var req queryRequest
	if err := s.unmarshaler.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, invalidQueryException, "invalid query request: "+err.Error())
		return
	}
	q, err := parseQuery(req.Query)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, invalidQueryException, err.Error())
		return
	}

	start := time.Now()
	res, err := q.run(db.all(), req.QueryParameters)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, invalidQueryException, err.Error())
		return
	}

	includes := map[string]any{}
	for _, doc := range res.docs {
		for _, path := range q.includes {
			for _, id := range referencedIDs(doc, path) {
				if inc, ok := db.get(id); ok {
					includes[id] = inc
				}
			}
		}
	}

	s.mu.Lock()
	stale := s.staleQueries > 0
	if stale {
		s.staleQueries--
	}
	s.mu.Unlock()

	results := make([]any, len(res.docs))
	for i, d := range res.docs {
		results[i] = d
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"Results":        results,
		"Includes":       includes,
		"TotalResults":   res.total,
		"SkippedResults": 0,
		"IsStale":        stale,
		"IndexName":      q.indexName(),
		"IndexTimestamp": now(),
		"LastQueryTime":  now(),
		"ResultEtag":     res.total,
		"DurationInMs":   time.Since(start).Milliseconds(),
	})
}

type parsedQuery struct {
	collection string
	index      string
	allDocs    bool
	where      expr
	orderBy    []orderField
	selects    []selectField
	distinct   bool
	includes   []string
	skipParam  string
	takeParam  string
}

type orderField struct {
	field      string
	descending bool
}

type selectField struct {
	field string
	alias string
}

type queryResult struct {
	docs  []document.Document
	total int
}

func (q *parsedQuery) indexName() string {
	switch {
	case q.index != "":
		return q.index
	case q.allDocs:
		return "AllDocs"
	}
	return "Auto/" + q.collection
}

func (q *parsedQuery) run(docs []document.Document, params map[string]any) (*queryResult, error) {
	var matched []document.Document
	for _, doc := range docs {
		if !q.inSource(doc) {
			continue
		}
		if q.where != nil {
			ok, err := q.where.eval(doc, params)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, doc)
	}

	if len(q.orderBy) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range q.orderBy {
				c := compareValues(lookup(matched[i], o.field), lookup(matched[j], o.field))
				if c == 0 {
					continue
				}
				if o.descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if len(q.selects) > 0 {
		projected := make([]document.Document, len(matched))
		for i, doc := range matched {
			p := document.Document{}
			for _, sf := range q.selects {
				p[sf.alias] = lookup(doc, sf.field)
			}
			meta := document.Clone(doc.Metadata())
			meta[constants.MetadataProjection] = true
			p[constants.MetadataKey] = meta
			projected[i] = p
		}
		matched = projected
	}
	if q.distinct {
		matched = distinct(matched)
	}

	total := len(matched)
	skip, take := 0, len(matched)
	if q.skipParam != "" {
		n, err := intParam(params, q.skipParam)
		if err != nil {
			return nil, err
		}
		skip = n
	}
	if q.takeParam != "" {
		n, err := intParam(params, q.takeParam)
		if err != nil {
			return nil, err
		}
		take = n
	}
	if skip > len(matched) {
		skip = len(matched)
	}
	end := skip + take
	if end > len(matched) || end < skip {
		end = len(matched)
	}
	return &queryResult{docs: matched[skip:end], total: total}, nil
}

func (q *parsedQuery) inSource(doc document.Document) bool {
	if q.allDocs {
		return true
	}
	collection, _ := doc.Metadata()[constants.MetadataCollection].(string)
	name := q.collection
	if q.index != "" {
		name, _, _ = strings.Cut(q.index, "/")
	}
	return strings.EqualFold(collection, name)
}

func distinct(docs []document.Document) []document.Document {
	seen := map[string]bool{}
	var out []document.Document
	for _, d := range docs {
		key := fmt.Sprint(d.Body())
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

func intParam(params map[string]any, name string) (int, error) {
	v, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("missing parameter $%s", name)
	}
	f, ok := toNumber(v)
	if !ok {
		return 0, fmt.Errorf("parameter $%s is not a number", name)
	}
	return int(f), nil
}

// lookup reads a dotted field path, or the document id for "id()".
func lookup(doc document.Document, field string) any {
	if field == "id()" {
		return doc.Metadata()[constants.MetadataID]
	}
	var current any = map[string]any(doc)
	for _, p := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			if d, isDoc := current.(document.Document); isDoc {
				m, ok = d, true
			}
		}
		if !ok {
			return nil
		}
		current = m[p]
	}
	return current
}

func referencedIDs(doc document.Document, path string) []string {
	switch v := lookup(doc, path).(type) {
	case string:
		return []string{v}
	case []any:
		var out []string
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func compareValues(a, b any) int {
	fa, aNum := toNumber(a)
	fb, bNum := toNumber(b)
	switch {
	case aNum && bNum:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return strings.Compare(strings.ToLower(fmt.Sprint(a)), strings.ToLower(fmt.Sprint(b)))
}

func equalValues(a, b any) bool {
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.EqualFold(sa, sb)
		}
	}
	fa, aNum := toNumber(a)
	fb, bNum := toNumber(b)
	if aNum && bNum {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// expr is a where clause node.
type expr interface {
	eval(doc document.Document, params map[string]any) (bool, error)
}

type boolExpr struct {
	and         bool
	left, right expr
}

func (e boolExpr) eval(doc document.Document, params map[string]any) (bool, error) {
	l, err := e.left.eval(doc, params)
	if err != nil {
		return false, err
	}
	if e.and && !l {
		return false, nil
	}
	if !e.and && l {
		return true, nil
	}
	return e.right.eval(doc, params)
}

type notExpr struct{ inner expr }

func (e notExpr) eval(doc document.Document, params map[string]any) (bool, error) {
	v, err := e.inner.eval(doc, params)
	return !v, err
}

type trueExpr struct{}

func (trueExpr) eval(document.Document, map[string]any) (bool, error) { return true, nil }

type intersectExpr struct{ parts []expr }

func (e intersectExpr) eval(doc document.Document, params map[string]any) (bool, error) {
	for _, p := range e.parts {
		ok, err := p.eval(doc, params)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

type compareExpr struct {
	field  string
	op     string
	params []string
	exact  bool
}

func (e compareExpr) eval(doc document.Document, params map[string]any) (bool, error) {
	values := make([]any, len(e.params))
	for i, p := range e.params {
		v, ok := params[p]
		if !ok {
			return false, fmt.Errorf("missing parameter $%s", p)
		}
		values[i] = v
	}
	actual := lookup(doc, e.field)

	switch e.op {
	case "=", "!=":
		eq := equalValues(actual, values[0])
		if e.exact {
			eq = fmt.Sprint(actual) == fmt.Sprint(values[0])
		}
		if e.op == "!=" {
			return !eq, nil
		}
		return eq, nil
	case ">", ">=", "<", "<=":
		if actual == nil {
			return false, nil
		}
		c := compareValues(actual, values[0])
		switch e.op {
		case ">":
			return c > 0, nil
		case ">=":
			return c >= 0, nil
		case "<":
			return c < 0, nil
		}
		return c <= 0, nil
	case "between":
		return actual != nil && compareValues(actual, values[0]) >= 0 && compareValues(actual, values[1]) <= 0, nil
	case "in", "all in":
		list, _ := values[0].([]any)
		if e.op == "in" {
			for _, v := range list {
				if containsValue(actual, v) {
					return true, nil
				}
			}
			return false, nil
		}
		for _, v := range list {
			if !containsValue(actual, v) {
				return false, nil
			}
		}
		return true, nil
	case "exists":
		_, ok := doc[e.field]
		return ok || lookup(doc, e.field) != nil, nil
	case "startsWith":
		return strings.HasPrefix(strings.ToLower(fmt.Sprint(actual)), strings.ToLower(fmt.Sprint(values[0]))), nil
	case "endsWith":
		return strings.HasSuffix(strings.ToLower(fmt.Sprint(actual)), strings.ToLower(fmt.Sprint(values[0]))), nil
	case "regex":
		re, err := regexp.Compile(fmt.Sprint(values[0]))
		if err != nil {
			return false, err
		}
		return re.MatchString(fmt.Sprint(actual)), nil
	case "search", "search and":
		text := strings.ToLower(fmt.Sprint(actual))
		terms := strings.Fields(strings.ToLower(fmt.Sprint(values[0])))
		for _, t := range terms {
			found := strings.Contains(text, strings.Trim(t, "*"))
			if e.op == "search" && found {
				return true, nil
			}
			if e.op == "search and" && !found {
				return false, nil
			}
		}
		return e.op == "search and" && len(terms) > 0, nil
	}
	return false, fmt.Errorf("unsupported operator %q", e.op)
}

// containsValue matches v against a scalar or any element of an array.
func containsValue(actual, v any) bool {
	if arr, ok := actual.([]any); ok {
		for _, a := range arr {
			if equalValues(a, v) {
				return true
			}
		}
		return false
	}
	return equalValues(actual, v)
}

// parseQuery parses the supported RQL subset.
func parseQuery(text string) (*parsedQuery, error) {
	p := &queryParser{tokens: tokenize(text)}
	q := &parsedQuery{}
	if err := p.expectWord("from"); err != nil {
		return nil, err
	}
	switch tok := p.next(); {
	case strings.EqualFold(tok, "index"):
		q.index = unquote(p.next())
	case tok == "@all_docs":
		q.allDocs = true
	case tok == "":
		return nil, fmt.Errorf("expected a collection after from")
	default:
		q.collection = unquote(tok)
	}

	for !p.done() {
		switch word := strings.ToLower(p.next()); word {
		case "where":
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			q.where = e
		case "order":
			if err := p.expectWord("by"); err != nil {
				return nil, err
			}
			for {
				o := orderField{field: unquote(p.next())}
				if p.peek() == "(" {
					// random() and score() keep the stored order
					for !p.done() && p.next() != ")" {
					}
					o.field = ""
				}
				if p.peekWord("as") {
					p.next()
					p.next()
				}
				if p.peekWord("desc") {
					p.next()
					o.descending = true
				} else if p.peekWord("asc") {
					p.next()
				}
				q.orderBy = append(q.orderBy, o)
				if p.peek() != "," {
					break
				}
				p.next()
			}
		case "select":
			if p.peekWord("distinct") {
				p.next()
				q.distinct = true
			}
			for {
				field := unquote(p.next())
				if strings.HasSuffix(field, "(") || p.peek() == "(" {
					return nil, fmt.Errorf("projection functions are not supported: %s", field)
				}
				sf := selectField{field: field, alias: field}
				if p.peekWord("as") {
					p.next()
					sf.alias = unquote(p.next())
				}
				q.selects = append(q.selects, sf)
				if p.peek() != "," {
					break
				}
				p.next()
			}
		case "include":
			for {
				q.includes = append(q.includes, unquote(p.next()))
				if p.peek() != "," {
					break
				}
				p.next()
			}
		case "limit":
			first := p.next()
			if p.peek() == "," {
				p.next()
				q.skipParam = strings.TrimPrefix(first, "$")
				q.takeParam = strings.TrimPrefix(p.next(), "$")
			} else {
				q.takeParam = strings.TrimPrefix(first, "$")
			}
		default:
			return nil, fmt.Errorf("unsupported clause %q", word)
		}
	}
	return q, nil
}

type queryParser struct {
	tokens []string
	pos    int
}

func (p *queryParser) done() bool { return p.pos >= len(p.tokens) }

func (p *queryParser) peek() string {
	if p.done() {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *queryParser) next() string {
	t := p.peek()
	if !p.done() {
		p.pos++
	}
	return t
}

func (p *queryParser) peekWord(w string) bool { return strings.EqualFold(p.peek(), w) }

func (p *queryParser) expectWord(w string) error {
	if !p.peekWord(w) {
		return fmt.Errorf("expected %q, got %q", w, p.peek())
	}
	p.next()
	return nil
}

func (p *queryParser) expect(t string) error {
	if p.peek() != t {
		return fmt.Errorf("expected %q, got %q", t, p.peek())
	}
	p.next()
	return nil
}

func (p *queryParser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekWord("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = boolExpr{left: left, right: right}
	}
	return left, nil
}

func (p *queryParser) parseAnd() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peekWord("and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = boolExpr{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *queryParser) parseUnary() (expr, error) {
	switch {
	case p.peekWord("not"):
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	case p.peek() == "(":
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		return e, p.expect(")")
	case p.peekWord("true"):
		p.next()
		return trueExpr{}, nil
	}
	return p.parsePredicate()
}

func (p *queryParser) parsePredicate() (expr, error) {
	name := p.next()
	if p.peek() == "(" {
		p.next()
		return p.parseCall(strings.ToLower(name))
	}
	e := compareExpr{field: unquote(name)}
	switch op := strings.ToLower(p.next()); op {
	case "=", "==", "!=", "<>", ">", ">=", "<", "<=":
		switch op {
		case "==":
			op = "="
		case "<>":
			op = "!="
		}
		e.op = op
		e.params = []string{param(p.next())}
	case "in":
		if err := p.expect("("); err != nil {
			return nil, err
		}
		e.op = "in"
		e.params = []string{param(p.next())}
		return e, p.expect(")")
	case "all":
		if err := p.expectWord("in"); err != nil {
			return nil, err
		}
		if err := p.expect("("); err != nil {
			return nil, err
		}
		e.op = "all in"
		e.params = []string{param(p.next())}
		return e, p.expect(")")
	case "between":
		e.op = "between"
		low := param(p.next())
		if err := p.expectWord("and"); err != nil {
			return nil, err
		}
		e.params = []string{low, param(p.next())}
	default:
		return nil, fmt.Errorf("unsupported operator %q after %s", op, name)
	}
	return e, nil
}

func (p *queryParser) parseCall(name string) (expr, error) {
	switch name {
	case "id":
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		p.pos--
		p.tokens[p.pos] = "id()"
		return p.parsePredicate()
	case "exact":
		inner, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		c, ok := inner.(compareExpr)
		if !ok {
			return nil, fmt.Errorf("exact() requires a comparison")
		}
		c.exact = true
		return c, p.expect(")")
	case "intersect":
		var parts []expr
		for {
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			parts = append(parts, e)
			if p.peek() != "," {
				break
			}
			p.next()
		}
		return intersectExpr{parts: parts}, p.expect(")")
	case "exists":
		e := compareExpr{op: "exists", field: unquote(p.next())}
		return e, p.expect(")")
	case "startswith", "endswith", "regex", "search":
		e := compareExpr{field: unquote(p.next())}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		e.params = []string{param(p.next())}
		switch name {
		case "startswith":
			e.op = "startsWith"
		case "endswith":
			e.op = "endsWith"
		default:
			e.op = name
		}
		if name == "search" && p.peek() == "," {
			p.next()
			if strings.EqualFold(p.next(), "and") {
				e.op = "search and"
			}
		}
		return e, p.expect(")")
	}
	return nil, fmt.Errorf("unsupported method %s()", name)
}

func param(tok string) string {
	return strings.TrimPrefix(tok, "$")
}

func unquote(tok string) string {
	if len(tok) >= 2 && (tok[0] == '\'' || tok[0] == '"') && tok[len(tok)-1] == tok[0] {
		return strings.ReplaceAll(tok[1:len(tok)-1], "\\"+string(tok[0]), string(tok[0]))
	}
	return tok
}

// tokenize splits RQL into words, quoted strings, operators and punctuation.
func tokenize(text string) []string {
	var tokens []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			j := i + 1
			for j < len(runes) && runes[j] != r {
				if runes[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(runes) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		case strings.ContainsRune("(),", r):
			tokens = append(tokens, string(r))
			i++
		case strings.ContainsRune("=!<>", r):
			j := i + 1
			if j < len(runes) && strings.ContainsRune("=>", runes[j]) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		default:
			j := i
			for j < len(runes) && !unicode.IsSpace(runes[j]) && !strings.ContainsRune("(),=!<>'\"", runes[j]) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		}
	}
	return tokens
}

