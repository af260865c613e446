// Package query compiles fluent builder calls into RQL text plus bound
// parameters.
//
// A Builder records an ordered token list per clause. Literal values are never
// written into the text; each is registered under a synthetic name (p0, p1, ...)
// and referenced as $pN. Build renders the tokens into an immutable Query.
//
//	q, err := query.ForCollection("Users").
//		WhereEquals("Name", "John").
//		WhereGreaterThan("Age", 21).
//		Build()
//	// q.Text == "from Users where Name = $p0 and Age > $p1"
//
// Errors are sticky: the first invalid call is remembered, later calls are
// ignored, and Build returns the error.
package query

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"
)

var (
	ErrUnbalancedSubclauses = errors.New("unbalanced subclauses")
	ErrRawQueryMode         = errors.New("builder was created from a raw query")
	ErrInvalidToken         = errors.New("invalid query token")
)

// Builder accumulates query tokens. It is not safe for concurrent use.
type Builder struct {
	collection string
	index      string

	raw   string
	isRaw bool

	where    []Token
	orderBy  []Token
	groupBy  []Token
	selects  []Token
	loads    []Token
	includes []string

	params    map[string]any
	nextParam int

	defaultOp   Operator
	negate      bool
	depth       int
	isIntersect bool

	start *int
	take  *int

	waitForNonStale bool
	timeout         time.Duration
	noTracking      bool

	err error
}

func newBuilder() *Builder {
	return &Builder{params: map[string]any{}}
}

// ForCollection starts a query over a collection.
func ForCollection(name string) *Builder {
	b := newBuilder()
	if name == "" {
		b.fail(fmt.Errorf("%w: collection name is required", ErrInvalidToken))
	}
	b.collection = name
	return b
}

// ForIndex starts a query over a named index.
func ForIndex(name string) *Builder {
	b := newBuilder()
	if name == "" {
		b.fail(fmt.Errorf("%w: index name is required", ErrInvalidToken))
	}
	b.index = name
	return b
}

// Raw wraps literal RQL text. Structured calls on the result fail with
// ErrRawQueryMode; parameters may still be added.
func Raw(text string) *Builder {
	b := newBuilder()
	b.raw = text
	b.isRaw = true
	if text == "" {
		b.fail(fmt.Errorf("%w: query text is required", ErrInvalidToken))
	}
	return b
}

// Clone returns a builder that can be changed without affecting b.
func (b *Builder) Clone() *Builder {
	c := *b
	c.where = slices.Clone(b.where)
	c.orderBy = slices.Clone(b.orderBy)
	c.groupBy = slices.Clone(b.groupBy)
	c.selects = slices.Clone(b.selects)
	c.loads = slices.Clone(b.loads)
	c.includes = slices.Clone(b.includes)
	c.params = maps.Clone(b.params)
	if b.start != nil {
		start := *b.start
		c.start = &start
	}
	if b.take != nil {
		take := *b.take
		c.take = &take
	}
	return &c
}

// Err returns the first error recorded by the builder.
func (b *Builder) Err() error { return b.err }

// IsRaw reports whether the builder was created from query text.
func (b *Builder) IsRaw() bool { return b.isRaw }

// Collection is the collection the query runs over, if any.
func (b *Builder) Collection() string { return b.collection }

// WhereTokens returns a copy of the where clause tokens.
func (b *Builder) WhereTokens() []Token {
	return append([]Token(nil), b.where...)
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// structured reports whether a structured call may proceed.
func (b *Builder) structured(op string) bool {
	if b.err != nil {
		return false
	}
	if b.isRaw {
		b.fail(fmt.Errorf("%w: %s is not allowed", ErrRawQueryMode, op))
		return false
	}
	return true
}

func (b *Builder) requireField(op, field string) bool {
	if field == "" {
		b.fail(fmt.Errorf("%w: %s requires a field name", ErrInvalidToken, op))
		return false
	}
	return true
}

func (b *Builder) addParam(value any) string {
	for {
		name := "p" + strconv.Itoa(b.nextParam)
		b.nextParam++
		if _, taken := b.params[name]; !taken {
			b.params[name] = value
			return name
		}
	}
}

// AddParameter binds a named parameter, typically referenced from raw text.
func (b *Builder) AddParameter(name string, value any) *Builder {
	if b.err != nil {
		return b
	}
	if name == "" {
		b.fail(fmt.Errorf("%w: parameter name is required", ErrInvalidToken))
		return b
	}
	if _, ok := b.params[name]; ok {
		b.fail(fmt.Errorf("%w: parameter %q already exists", ErrInvalidToken, name))
		return b
	}
	b.params[name] = value
	return b
}

// UsingDefaultOperator changes the connector inserted between predicates that
// have no explicit AndAlso or OrElse. It must precede every predicate.
func (b *Builder) UsingDefaultOperator(op Operator) *Builder {
	if !b.structured("UsingDefaultOperator") {
		return b
	}
	if len(b.where) > 0 {
		b.fail(fmt.Errorf("%w: default operator can only be set before any where clause", ErrInvalidToken))
		return b
	}
	b.defaultOp = op
	return b
}

// appendOperatorIfNeeded inserts the implicit connector when the previous
// token closes a predicate. A search predicate switches the default to or.
func (b *Builder) appendOperatorIfNeeded() {
	if len(b.where) == 0 {
		return
	}
	switch b.where[len(b.where)-1].(type) {
	case WhereToken, CloseSubclauseToken, TrueToken:
	default:
		return
	}

	op := b.defaultOp
	for i := len(b.where) - 1; i >= 0; i-- {
		if w, ok := b.where[i].(WhereToken); ok {
			if w.Op == OpSearch {
				op = Or
			}
			break
		}
	}
	b.where = append(b.where, OperatorToken{Op: op})
}

// negateIfNeeded consumes a pending Not. At the start of a clause or right
// after "(" the negation is guarded with exists(field) (or true) so a
// missing field does not match vacuously.
func (b *Builder) negateIfNeeded(field string) {
	if !b.negate {
		return
	}
	b.negate = false

	atStart := len(b.where) == 0
	if !atStart {
		_, atStart = b.where[len(b.where)-1].(OpenSubclauseToken)
	}
	if atStart {
		if field != "" {
			b.WhereExists(field)
		} else {
			b.WhereTrue()
		}
		b.AndAlso()
	}
	b.where = append(b.where, NegateToken{})
}

func (b *Builder) addWhere(op string, tok WhereToken) *Builder {
	if !b.structured(op) || !b.requireField(op, tok.Field) {
		return b
	}
	b.appendOperatorIfNeeded()
	b.negateIfNeeded(tok.Field)
	b.where = append(b.where, tok)
	return b
}

func (b *Builder) compare(op string, wop WhereOperator, field string, value any, exact bool) *Builder {
	if !b.structured(op) || !b.requireField(op, field) {
		return b
	}
	return b.addWhere(op, WhereToken{Field: field, Op: wop, Params: []string{b.addParam(value)}, Exact: exact})
}

func (b *Builder) WhereEquals(field string, value any) *Builder {
	return b.compare("WhereEquals", OpEquals, field, value, false)
}

// WhereEqualsExact compares case-sensitively.
func (b *Builder) WhereEqualsExact(field string, value any) *Builder {
	return b.compare("WhereEqualsExact", OpEquals, field, value, true)
}

func (b *Builder) WhereNotEquals(field string, value any) *Builder {
	return b.compare("WhereNotEquals", OpNotEquals, field, value, false)
}

func (b *Builder) WhereGreaterThan(field string, value any) *Builder {
	return b.compare("WhereGreaterThan", OpGreaterThan, field, value, false)
}

func (b *Builder) WhereGreaterThanOrEqual(field string, value any) *Builder {
	return b.compare("WhereGreaterThanOrEqual", OpGreaterThanOrEqual, field, value, false)
}

func (b *Builder) WhereLessThan(field string, value any) *Builder {
	return b.compare("WhereLessThan", OpLessThan, field, value, false)
}

func (b *Builder) WhereLessThanOrEqual(field string, value any) *Builder {
	return b.compare("WhereLessThanOrEqual", OpLessThanOrEqual, field, value, false)
}

func (b *Builder) WhereIn(field string, values ...any) *Builder {
	return b.compare("WhereIn", OpIn, field, values, false)
}

// ContainsAll matches documents whose array field holds every value.
func (b *Builder) ContainsAll(field string, values ...any) *Builder {
	return b.compare("ContainsAll", OpAllIn, field, values, false)
}

func (b *Builder) WhereStartsWith(field, prefix string) *Builder {
	return b.compare("WhereStartsWith", OpStartsWith, field, prefix, false)
}

func (b *Builder) WhereEndsWith(field, suffix string) *Builder {
	return b.compare("WhereEndsWith", OpEndsWith, field, suffix, false)
}

func (b *Builder) WhereRegex(field, pattern string) *Builder {
	return b.compare("WhereRegex", OpRegex, field, pattern, false)
}

func (b *Builder) WhereLucene(field, clause string) *Builder {
	return b.compare("WhereLucene", OpLucene, field, clause, false)
}

func (b *Builder) WhereBetween(field string, from, to any) *Builder {
	if !b.structured("WhereBetween") || !b.requireField("WhereBetween", field) {
		return b
	}
	return b.addWhere("WhereBetween", WhereToken{
		Field:  field,
		Op:     OpBetween,
		Params: []string{b.addParam(from), b.addParam(to)},
	})
}

func (b *Builder) WhereExists(field string) *Builder {
	return b.addWhere("WhereExists", WhereToken{Field: field, Op: OpExists})
}

// Search runs a full-text search for terms. Predicates following a search
// default to or.
func (b *Builder) Search(field, terms string, op SearchOperator) *Builder {
	if !b.structured("Search") || !b.requireField("Search", field) {
		return b
	}
	return b.addWhere("Search", WhereToken{Field: field, Op: OpSearch, Params: []string{b.addParam(terms)}, Search: op})
}

func (b *Builder) WhereTrue() *Builder {
	if !b.structured("WhereTrue") {
		return b
	}
	b.appendOperatorIfNeeded()
	b.negateIfNeeded("")
	b.where = append(b.where, TrueToken{})
	return b
}

func (b *Builder) AndAlso() *Builder { return b.connector("AndAlso", And) }

func (b *Builder) OrElse() *Builder { return b.connector("OrElse", Or) }

func (b *Builder) connector(op string, o Operator) *Builder {
	if !b.structured(op) || len(b.where) == 0 {
		return b
	}
	if _, ok := b.where[len(b.where)-1].(OperatorToken); ok {
		b.fail(fmt.Errorf("%w: %s after another operator", ErrInvalidToken, op))
		return b
	}
	b.where = append(b.where, OperatorToken{Op: o})
	return b
}

// Not negates the next predicate or subclause. Calling it twice cancels out.
func (b *Builder) Not() *Builder {
	if !b.structured("Not") {
		return b
	}
	b.negate = !b.negate
	return b
}

// NegateNext is an alias of Not.
func (b *Builder) NegateNext() *Builder { return b.Not() }

func (b *Builder) OpenSubclause() *Builder {
	if !b.structured("OpenSubclause") {
		return b
	}
	b.depth++
	b.appendOperatorIfNeeded()
	b.negateIfNeeded("")
	b.where = append(b.where, OpenSubclauseToken{})
	return b
}

func (b *Builder) CloseSubclause() *Builder {
	if !b.structured("CloseSubclause") {
		return b
	}
	b.depth--
	b.where = append(b.where, CloseSubclauseToken{})
	return b
}

// Intersect ends one intersect argument; the where clause renders as
// intersect(...).
func (b *Builder) Intersect() *Builder {
	if !b.structured("Intersect") {
		return b
	}
	if len(b.where) > 0 {
		switch b.where[len(b.where)-1].(type) {
		case WhereToken, CloseSubclauseToken:
			b.isIntersect = true
			b.where = append(b.where, IntersectMarkerToken{})
			return b
		}
	}
	b.fail(fmt.Errorf("%w: intersect must follow a predicate or subclause", ErrInvalidToken))
	return b
}

func (b *Builder) OrderBy(field string, ordering ...OrderingType) *Builder {
	return b.order("OrderBy", field, false, ordering)
}

func (b *Builder) OrderByDescending(field string, ordering ...OrderingType) *Builder {
	return b.order("OrderByDescending", field, true, ordering)
}

func (b *Builder) order(op, field string, desc bool, ordering []OrderingType) *Builder {
	if !b.structured(op) || !b.requireField(op, field) {
		return b
	}
	tok := OrderByToken{Field: field, Descending: desc}
	if len(ordering) > 0 {
		tok.Ordering = ordering[0]
	}
	b.orderBy = append(b.orderBy, tok)
	return b
}

func (b *Builder) OrderByScore() *Builder {
	if b.structured("OrderByScore") {
		b.orderBy = append(b.orderBy, OrderByToken{Score: true})
	}
	return b
}

func (b *Builder) OrderByScoreDescending() *Builder {
	if b.structured("OrderByScoreDescending") {
		b.orderBy = append(b.orderBy, OrderByToken{Score: true, Descending: true})
	}
	return b
}

// RandomOrdering sorts randomly; an optional seed makes the order repeatable.
func (b *Builder) RandomOrdering(seed ...string) *Builder {
	if !b.structured("RandomOrdering") {
		return b
	}
	tok := OrderByToken{Random: true}
	if len(seed) > 0 {
		tok.Seed = seed[0]
	}
	b.orderBy = append(b.orderBy, tok)
	return b
}

func (b *Builder) GroupBy(fields ...string) *Builder {
	if !b.structured("GroupBy") {
		return b
	}
	for _, f := range fields {
		if !b.requireField("GroupBy", f) {
			return b
		}
		b.groupBy = append(b.groupBy, GroupByToken{Field: f})
	}
	return b
}

// GroupByArray groups by each element of an array field.
func (b *Builder) GroupByArray(field string) *Builder {
	if b.structured("GroupByArray") && b.requireField("GroupByArray", field) {
		b.groupBy = append(b.groupBy, GroupByToken{Field: field, Array: true})
	}
	return b
}

// SelectKey projects the group key. An empty field selects key().
func (b *Builder) SelectKey(field, alias string) *Builder {
	if b.structured("SelectKey") {
		b.selects = append(b.selects, SelectToken{Kind: SelectKey, Field: field, Alias: alias})
	}
	return b
}

func (b *Builder) SelectSum(field, alias string) *Builder {
	if b.structured("SelectSum") && b.requireField("SelectSum", field) {
		b.selects = append(b.selects, SelectToken{Kind: SelectSum, Field: field, Alias: alias})
	}
	return b
}

func (b *Builder) SelectCount(alias string) *Builder {
	if b.structured("SelectCount") {
		b.selects = append(b.selects, SelectToken{Kind: SelectCount, Alias: alias})
	}
	return b
}

// SelectFields projects the named fields. Results are projections and are
// not tracked by a session.
func (b *Builder) SelectFields(fields ...string) *Builder {
	if !b.structured("SelectFields") {
		return b
	}
	for _, f := range fields {
		if !b.requireField("SelectFields", f) {
			return b
		}
		b.selects = append(b.selects, SelectToken{Kind: SelectField, Field: f})
	}
	return b
}

func (b *Builder) Distinct() *Builder {
	if !b.structured("Distinct") {
		return b
	}
	for _, t := range b.selects {
		if _, ok := t.(DistinctToken); ok {
			b.fail(fmt.Errorf("%w: distinct is already set", ErrInvalidToken))
			return b
		}
	}
	b.selects = append([]Token{DistinctToken{}}, b.selects...)
	return b
}

// Load joins a related document referenced by path under alias.
func (b *Builder) Load(path, alias string) *Builder {
	if !b.structured("Load") || !b.requireField("Load", path) {
		return b
	}
	if alias == "" {
		b.fail(fmt.Errorf("%w: load requires an alias", ErrInvalidToken))
		return b
	}
	b.loads = append(b.loads, LoadToken{Path: path, Alias: alias})
	return b
}

// Include asks the server to send referenced documents along with the results.
func (b *Builder) Include(paths ...string) *Builder {
	if !b.structured("Include") {
		return b
	}
	for _, p := range paths {
		if !b.requireField("Include", p) {
			return b
		}
		b.includes = append(b.includes, p)
	}
	return b
}

func (b *Builder) Take(n int) *Builder {
	if !b.structured("Take") {
		return b
	}
	if n < 0 {
		b.fail(fmt.Errorf("%w: take must not be negative", ErrInvalidToken))
		return b
	}
	b.take = &n
	return b
}

func (b *Builder) Skip(n int) *Builder {
	if !b.structured("Skip") {
		return b
	}
	if n < 0 {
		b.fail(fmt.Errorf("%w: skip must not be negative", ErrInvalidToken))
		return b
	}
	b.start = &n
	return b
}

// WaitForNonStaleResults asks the server to wait up to timeout for the index
// to catch up. A zero timeout leaves the choice to the server.
func (b *Builder) WaitForNonStaleResults(timeout time.Duration) *Builder {
	if b.err == nil {
		b.waitForNonStale = true
		b.timeout = timeout
	}
	return b
}

// NoTracking returns results without registering them with the session.
func (b *Builder) NoTracking() *Builder {
	if b.err == nil {
		b.noTracking = true
	}
	return b
}
