package query

import (
	"strings"
	"unicode"
)

// Token is one element of a clause list. The set of tokens is closed; only
// types in this package implement it, so the renderer can switch over them
// exhaustively.
type Token interface {
	token()
}

// Operator joins two predicates.
type Operator int

const (
	And Operator = iota
	Or
)

var operatorNames = map[Operator]string{
	And: "and",
	Or:  "or",
}

func (o Operator) String() string { return operatorNames[o] }

// SearchOperator combines the terms of a full-text search.
type SearchOperator int

const (
	SearchOr SearchOperator = iota
	SearchAnd
)

// WhereOperator is the comparison a WhereToken performs.
type WhereOperator int

const (
	OpEquals WhereOperator = iota
	OpNotEquals
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpAllIn
	OpBetween
	OpSearch
	OpLucene
	OpStartsWith
	OpEndsWith
	OpExists
	OpRegex
)

// comparison operators render as "field <op> $param"
var comparisonOperators = map[WhereOperator]string{
	OpEquals:             "=",
	OpNotEquals:          "!=",
	OpGreaterThan:        ">",
	OpGreaterThanOrEqual: ">=",
	OpLessThan:           "<",
	OpLessThanOrEqual:    "<=",
}

// method operators render as "method(field, $param)"
var methodOperators = map[WhereOperator]string{
	OpSearch:     "search",
	OpLucene:     "lucene",
	OpStartsWith: "startsWith",
	OpEndsWith:   "endsWith",
	OpRegex:      "regex",
}

// OrderingType selects how the server compares values when sorting.
type OrderingType int

const (
	OrderingString OrderingType = iota
	OrderingLong
	OrderingDouble
	OrderingAlphaNumeric
)

var orderingNames = map[OrderingType]string{
	OrderingString:       "",
	OrderingLong:         "long",
	OrderingDouble:       "double",
	OrderingAlphaNumeric: "alphaNumeric",
}

// WhereToken is a single predicate. Params holds the names of the bound
// parameters it references, without the leading "$".
type WhereToken struct {
	Field  string
	Op     WhereOperator
	Params []string
	Exact  bool
	Search SearchOperator
}

type OperatorToken struct{ Op Operator }

type OpenSubclauseToken struct{}

type CloseSubclauseToken struct{}

type NegateToken struct{}

type TrueToken struct{}

// IntersectMarkerToken separates the arguments of intersect(...).
type IntersectMarkerToken struct{}

type OrderByToken struct {
	Field      string
	Descending bool
	Ordering   OrderingType
	Random     bool
	Seed       string
	Score      bool
}

type GroupByToken struct {
	Field string
	Array bool
}

// SelectKind distinguishes the projections a SelectToken renders.
type SelectKind int

const (
	SelectField SelectKind = iota
	SelectKey
	SelectSum
	SelectCount
)

type SelectToken struct {
	Kind  SelectKind
	Field string
	Alias string
}

type DistinctToken struct{}

type LoadToken struct {
	Path  string
	Alias string
}

func (WhereToken) token()           {}
func (OperatorToken) token()        {}
func (OpenSubclauseToken) token()   {}
func (CloseSubclauseToken) token()  {}
func (NegateToken) token()          {}
func (TrueToken) token()            {}
func (IntersectMarkerToken) token() {}
func (OrderByToken) token()         {}
func (GroupByToken) token()         {}
func (SelectToken) token()          {}
func (DistinctToken) token()        {}
func (LoadToken) token()            {}

// writeToken renders t onto w.
func writeToken(w *strings.Builder, t Token) {
	switch tok := t.(type) {
	case WhereToken:
		writeWhere(w, tok)
	case OperatorToken:
		w.WriteString(tok.Op.String())
	case OpenSubclauseToken:
		w.WriteString("(")
	case CloseSubclauseToken:
		w.WriteString(")")
	case NegateToken:
		w.WriteString("not")
	case TrueToken:
		w.WriteString("true")
	case IntersectMarkerToken:
		w.WriteString(",")
	case OrderByToken:
		writeOrderBy(w, tok)
	case GroupByToken:
		if tok.Array {
			w.WriteString("array(")
			writeField(w, tok.Field)
			w.WriteString(")")
		} else {
			writeField(w, tok.Field)
		}
	case SelectToken:
		writeSelect(w, tok)
	case DistinctToken:
		w.WriteString("distinct")
	case LoadToken:
		w.WriteString(tok.Path)
		w.WriteString(" as ")
		w.WriteString(tok.Alias)
	default:
		panic("unreachable")
	}
}

func writeWhere(w *strings.Builder, tok WhereToken) {
	if tok.Exact {
		w.WriteString("exact(")
	}
	switch {
	case tok.Op == OpExists:
		w.WriteString("exists(")
		writeField(w, tok.Field)
		w.WriteString(")")
	case methodOperators[tok.Op] != "":
		w.WriteString(methodOperators[tok.Op])
		w.WriteString("(")
		writeField(w, tok.Field)
		w.WriteString(", $")
		w.WriteString(tok.Params[0])
		if tok.Op == OpSearch && tok.Search == SearchAnd {
			w.WriteString(", and")
		}
		w.WriteString(")")
	case comparisonOperators[tok.Op] != "":
		writeField(w, tok.Field)
		w.WriteString(" ")
		w.WriteString(comparisonOperators[tok.Op])
		w.WriteString(" $")
		w.WriteString(tok.Params[0])
	case tok.Op == OpIn:
		writeField(w, tok.Field)
		w.WriteString(" in ($")
		w.WriteString(tok.Params[0])
		w.WriteString(")")
	case tok.Op == OpAllIn:
		writeField(w, tok.Field)
		w.WriteString(" all in ($")
		w.WriteString(tok.Params[0])
		w.WriteString(")")
	case tok.Op == OpBetween:
		writeField(w, tok.Field)
		w.WriteString(" between $")
		w.WriteString(tok.Params[0])
		w.WriteString(" and $")
		w.WriteString(tok.Params[1])
	default:
		panic("unreachable")
	}
	if tok.Exact {
		w.WriteString(")")
	}
}

func writeOrderBy(w *strings.Builder, tok OrderByToken) {
	switch {
	case tok.Random:
		w.WriteString("random(")
		if tok.Seed != "" {
			w.WriteString("'")
			w.WriteString(strings.ReplaceAll(tok.Seed, "'", "\\'"))
			w.WriteString("'")
		}
		w.WriteString(")")
	case tok.Score:
		w.WriteString("score()")
	default:
		writeField(w, tok.Field)
		if name := orderingNames[tok.Ordering]; name != "" {
			w.WriteString(" as ")
			w.WriteString(name)
		}
	}
	if tok.Descending {
		w.WriteString(" desc")
	}
}

func writeSelect(w *strings.Builder, tok SelectToken) {
	switch tok.Kind {
	case SelectKey:
		if tok.Field == "" {
			w.WriteString("key()")
		} else {
			writeField(w, tok.Field)
		}
	case SelectSum:
		w.WriteString("sum(")
		writeField(w, tok.Field)
		w.WriteString(")")
	case SelectCount:
		w.WriteString("count()")
	default:
		writeField(w, tok.Field)
	}
	if tok.Alias != "" && tok.Alias != tok.Field {
		w.WriteString(" as ")
		w.WriteString(tok.Alias)
	}
}

// writeField quotes field names the parser would not accept bare.
func writeField(w *strings.Builder, field string) {
	if !needsQuoting(field) {
		w.WriteString(field)
		return
	}
	w.WriteString("'")
	w.WriteString(strings.ReplaceAll(field, "'", "\\'"))
	w.WriteString("'")
}

func needsQuoting(field string) bool {
	if field == "id()" {
		return false
	}
	for i, r := range field {
		switch {
		case unicode.IsLetter(r), r == '_', r == '@':
		case i > 0 && (unicode.IsDigit(r) || r == '.' || r == '[' || r == ']'):
		default:
			return true
		}
	}
	return field == ""
}

// addSpaceIfNeeded writes the separator between two adjacent tokens.
func addSpaceIfNeeded(w *strings.Builder, prev, cur Token) {
	if prev == nil {
		return
	}
	if _, ok := prev.(OpenSubclauseToken); ok {
		return
	}
	switch cur.(type) {
	case CloseSubclauseToken, IntersectMarkerToken:
		return
	}
	w.WriteString(" ")
}
