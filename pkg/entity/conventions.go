// Package entity converts application values to structured documents and back.
//
// An entity is a non-nil pointer to a struct, or a pointer to a
// document.Document / map[string]any. Struct entities may designate an
// identity field, either with the `ravendb:"id"` tag or by carrying a string
// field named after Conventions.IdentityProperty (ID by default). The
// identity lives in the document metadata and is never duplicated in the
// document body.
package entity

import (
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/ravendb/ravendb.go/internal/codec"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

const identityTag = "ravendb"

// Conventions holds the naming and typing rules used by Encode and Decode.
type Conventions struct {
	// IdentityProperty names the struct field holding the document id when no
	// field carries the `ravendb:"id"` tag.
	IdentityProperty string
	// CollectionName maps an entity type to its collection.
	CollectionName func(t reflect.Type) string
	// TypeResolver picks the concrete type to decode into. Optional.
	TypeResolver TypeResolver

	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	identity sync.Map // reflect.Type -> identityField
}

type identityField struct {
	index    []int
	jsonName string
	ok       bool
}

// DefaultConventions returns conventions with pluralized collection names,
// the ID identity property, and the JSON codec.
func DefaultConventions() *Conventions {
	return &Conventions{
		IdentityProperty: constants.DefaultIdentityProperty,
		CollectionName:   DefaultCollectionName,
		Marshaler:        codec.JSON{},
		Unmarshaler:      codec.JSON{},
	}
}

// DefaultCollectionName pluralizes the type name: User becomes Users,
// Company becomes Companies. Unnamed types and maps go to the empty collection.
func DefaultCollectionName(t reflect.Type) string {
	t = indirectType(t)
	if isMapType(t) || t.Name() == "" {
		return constants.EmptyCollection
	}
	return Pluralize(t.Name())
}

// Pluralize applies English plural rules sufficient for collection names.
func Pluralize(name string) string {
	if name == "" {
		return name
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !isVowel(rune(lower[len(lower)-2])):
		return name[:len(name)-1] + "ies"
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"), strings.HasSuffix(lower, "z"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return name + "es"
	default:
		return name + "s"
	}
}

func isVowel(r rune) bool {
	return strings.ContainsRune("aeiou", unicode.ToLower(r))
}

// CollectionFor returns the collection the entity is stored in.
func (c *Conventions) CollectionFor(entity any) string {
	if m := mapOf(entity); m != nil {
		if coll := m.Metadata().String(constants.MetadataCollection); coll != "" {
			return coll
		}
		return constants.EmptyCollection
	}
	name := c.CollectionName
	if name == nil {
		name = DefaultCollectionName
	}
	return name(reflect.TypeOf(entity))
}

// GetID reads the identity of entity. Struct entities report their identity
// field; map entities report the @id metadata key.
func (c *Conventions) GetID(entity any) (string, bool) {
	if m := mapOf(entity); m != nil {
		id := m.Metadata().String(constants.MetadataID)
		return id, id != ""
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return "", false
	}
	f := c.identityFieldOf(v.Type())
	if !f.ok {
		return "", false
	}
	id := v.Elem().FieldByIndex(f.index).String()
	return id, id != ""
}

// SetID writes id onto the entity's identity field, if it has one.
func (c *Conventions) SetID(entity any, id string) {
	if m := mapOf(entity); m != nil {
		return
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	f := c.identityFieldOf(v.Type())
	if !f.ok {
		return
	}
	field := v.Elem().FieldByIndex(f.index)
	if field.CanSet() {
		field.SetString(id)
	}
}

// HasIdentityField reports whether entities of t carry their id in a field.
func (c *Conventions) HasIdentityField(t reflect.Type) bool {
	return c.identityFieldOf(t).ok
}

func (c *Conventions) identityFieldOf(t reflect.Type) identityField {
	t = indirectType(t)
	if cached, ok := c.identity.Load(t); ok {
		return cached.(identityField)
	}
	f := c.lookupIdentityField(t)
	c.identity.Store(t, f)
	return f
}

func (c *Conventions) lookupIdentityField(t reflect.Type) identityField {
	if t.Kind() != reflect.Struct {
		return identityField{}
	}
	var byName *reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Type.Kind() != reflect.String {
			continue
		}
		if sf.Tag.Get(identityTag) == "id" {
			return identityField{index: sf.Index, jsonName: jsonName(sf), ok: true}
		}
		if byName == nil && c.IdentityProperty != "" && sf.Name == c.IdentityProperty {
			byName = &sf
		}
	}
	if byName != nil {
		return identityField{index: byName.Index, jsonName: jsonName(*byName), ok: true}
	}
	return identityField{}
}

func jsonName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if tag == "" {
		return sf.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return sf.Name
	}
	return name
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func isMapType(t reflect.Type) bool {
	return t.Kind() == reflect.Map && t.Key().Kind() == reflect.String
}

// mapOf returns the document behind a map entity, or nil for any other value.
func mapOf(entity any) document.Document {
	switch e := entity.(type) {
	case *document.Document:
		if e == nil {
			return nil
		}
		if *e == nil {
			*e = document.Document{}
		}
		return *e
	case *map[string]any:
		if e == nil {
			return nil
		}
		if *e == nil {
			*e = map[string]any{}
		}
		return *e
	default:
		return nil
	}
}
