package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Query is the compiled, immutable output of a Builder.
type Query struct {
	Text       string
	Parameters map[string]any

	Collection string
	IndexName  string
	// Projection is set when the query selects fields; projected results
	// are not tracked.
	Projection bool

	WaitForNonStaleResults bool
	Timeout                time.Duration
	NoTracking             bool
}

// Build renders the builder. It can be called repeatedly and returns the same
// text each time; later builder calls are reflected in later builds.
func (b *Builder) Build() (*Query, error) {
	if b.err != nil {
		return nil, b.err
	}

	params := make(map[string]any, len(b.params)+2)
	for k, v := range b.params {
		params[k] = v
	}
	q := &Query{
		Parameters:             params,
		Collection:             b.collection,
		IndexName:              b.index,
		WaitForNonStaleResults: b.waitForNonStale,
		Timeout:                b.timeout,
		NoTracking:             b.noTracking,
	}

	if b.isRaw {
		q.Text = b.raw
		return q, nil
	}
	if b.depth != 0 {
		return nil, fmt.Errorf("%w: %d subclause(s) left open", ErrUnbalancedSubclauses, b.depth)
	}
	if b.negate {
		return nil, fmt.Errorf("%w: not is not followed by a predicate", ErrInvalidToken)
	}

	var w strings.Builder
	b.writeFrom(&w)
	writeList(&w, "group by", b.groupBy, ", ")
	b.writeWhere(&w)
	writeList(&w, "order by", b.orderBy, ", ")
	writeList(&w, "load", b.loads, ", ")
	b.writeSelect(&w)
	if len(b.includes) > 0 {
		w.WriteString(" include ")
		for i, inc := range b.includes {
			if i > 0 {
				w.WriteString(",")
			}
			writeField(&w, inc)
		}
	}
	b.writePagination(&w, params)

	q.Text = w.String()
	for _, t := range b.selects {
		if s, ok := t.(SelectToken); ok && s.Kind == SelectField {
			q.Projection = true
		}
	}
	return q, nil
}

// String renders the query text, or the builder error.
func (b *Builder) String() string {
	q, err := b.Build()
	if err != nil {
		return "error: " + err.Error()
	}
	return q.Text
}

func (b *Builder) writeFrom(w *strings.Builder) {
	w.WriteString("from ")
	if b.index != "" {
		w.WriteString("index '")
		w.WriteString(strings.ReplaceAll(b.index, "'", "\\'"))
		w.WriteString("'")
		return
	}
	if strings.ContainsAny(b.collection, " \t\r\n'\"") {
		w.WriteString("'")
		w.WriteString(strings.ReplaceAll(b.collection, "'", "\\'"))
		w.WriteString("'")
		return
	}
	w.WriteString(b.collection)
}

func (b *Builder) writeWhere(w *strings.Builder) {
	if len(b.where) == 0 {
		return
	}
	w.WriteString(" where ")
	if b.isIntersect {
		w.WriteString("intersect(")
	}
	var prev Token
	for _, t := range b.where {
		addSpaceIfNeeded(w, prev, t)
		writeToken(w, t)
		prev = t
	}
	if b.isIntersect {
		w.WriteString(")")
	}
}

func (b *Builder) writeSelect(w *strings.Builder) {
	if len(b.selects) == 0 {
		return
	}
	w.WriteString(" select ")
	if len(b.selects) == 1 {
		if _, ok := b.selects[0].(DistinctToken); ok {
			w.WriteString("distinct *")
			return
		}
	}
	var prev Token
	for i, t := range b.selects {
		if i > 0 {
			if _, ok := prev.(DistinctToken); !ok {
				w.WriteString(",")
			}
			w.WriteString(" ")
		}
		writeToken(w, t)
		prev = t
	}
}

func (b *Builder) writePagination(w *strings.Builder, params map[string]any) {
	if b.start == nil && b.take == nil {
		return
	}
	start, take := 0, math.MaxInt32
	if b.start != nil {
		start = *b.start
	}
	if b.take != nil {
		take = *b.take
	}
	next := b.nextParam
	bind := func(v int) string {
		for {
			name := "p" + strconv.Itoa(next)
			next++
			if _, taken := params[name]; !taken {
				params[name] = v
				return name
			}
		}
	}
	w.WriteString(" limit $")
	w.WriteString(bind(start))
	w.WriteString(", $")
	w.WriteString(bind(take))
}

func writeList(w *strings.Builder, keyword string, tokens []Token, sep string) {
	if len(tokens) == 0 {
		return
	}
	w.WriteString(" ")
	w.WriteString(keyword)
	w.WriteString(" ")
	for i, t := range tokens {
		if i > 0 {
			w.WriteString(sep)
		}
		writeToken(w, t)
	}
}
