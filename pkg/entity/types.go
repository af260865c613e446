package entity

import (
	"reflect"
	"sync"

	"github.com/ravendb/ravendb.go/pkg/document"
)

// TypeResolver picks the runtime type a document decodes into. hint is the
// Raven-Go-Type metadata value, possibly empty.
type TypeResolver interface {
	ResolveType(id, hint string, doc document.Document) (reflect.Type, bool)
}

// TypeResolverFunc adapts a function to TypeResolver.
type TypeResolverFunc func(id, hint string, doc document.Document) (reflect.Type, bool)

func (f TypeResolverFunc) ResolveType(id, hint string, doc document.Document) (reflect.Type, bool) {
	return f(id, hint, doc)
}

// TypeName is the hint written into document metadata for values of t.
func TypeName(t reflect.Type) string {
	return indirectType(t).String()
}

// TypeRegistry resolves type hints against a set of registered types.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

var _ TypeResolver = (*TypeRegistry)(nil)

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: map[string]reflect.Type{}}
}

// Register records the types of the given sample values.
func (r *TypeRegistry) Register(samples ...any) *TypeRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		t := indirectType(reflect.TypeOf(s))
		if t == nil {
			continue
		}
		r.types[TypeName(t)] = t
	}
	return r
}

// RegisterType records T.
func RegisterType[T any](r *TypeRegistry) {
	var zero T
	r.Register(&zero)
}

func (r *TypeRegistry) ResolveType(_, hint string, _ document.Document) (reflect.Type, bool) {
	if hint == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[hint]
	return t, ok
}
