package entity

import (
	"fmt"
	"reflect"

	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

// ConversionError reports a document that could not be decoded into a type.
type ConversionError struct {
	ID   string
	Type string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%v: document %q into %s: %v", constants.ErrConversion, e.ID, e.Type, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool {
	return target == constants.ErrConversion
}

// Validate checks that entity can be tracked: a non-nil pointer to a struct
// or to a string-keyed map.
func Validate(entity any) error {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("%w: expected a non-nil pointer, got %T", constants.ErrInvalidEntity, entity)
	}
	switch elem := v.Type().Elem(); {
	case elem.Kind() == reflect.Struct:
		return nil
	case isMapType(elem) && mapOf(entity) != nil:
		return nil
	default:
		return fmt.Errorf("%w: %T is neither a struct nor a document pointer", constants.ErrInvalidEntity, entity)
	}
}

// Encode serializes entity into a document. When info is given its metadata
// is merged in first, so metadata edits made through the session survive
// re-encoding. The identity field is left out of the body.
func (c *Conventions) Encode(entity any, info *document.Info) (document.Document, error) {
	if err := Validate(entity); err != nil {
		return nil, err
	}

	var doc document.Document
	if m := mapOf(entity); m != nil {
		doc = document.Clone(m)
	} else {
		data, err := c.Marshaler.Marshal(entity)
		if err != nil {
			return nil, fmt.Errorf("encode %T: %w", entity, err)
		}
		if err := c.Unmarshaler.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("encode %T: %w", entity, err)
		}
		if f := c.identityFieldOf(reflect.TypeOf(entity)); f.ok {
			delete(doc, f.jsonName)
		}
	}

	meta := doc.Metadata()
	if meta == nil {
		meta = document.Document{}
	}
	if info != nil {
		for k, v := range document.Clone(info.Metadata) {
			meta[k] = v
		}
	}

	if mapOf(entity) != nil {
		if meta.String(constants.MetadataCollection) == "" {
			coll := constants.EmptyCollection
			if info != nil && info.Collection != "" {
				coll = info.Collection
			}
			meta[constants.MetadataCollection] = coll
		}
	} else {
		// a loaded document keeps the collection it was stored under
		if meta.String(constants.MetadataCollection) == "" {
			coll := c.CollectionFor(entity)
			if info != nil && info.Collection != "" {
				coll = info.Collection
			}
			meta[constants.MetadataCollection] = coll
		}
		// documents written by other clients keep their metadata as loaded
		if info == nil || info.Document == nil {
			meta[constants.MetadataGoType] = TypeName(reflect.TypeOf(entity))
		}
	}
	doc[constants.MetadataKey] = meta
	return doc, nil
}

// Decode materializes doc into a new value and returns a pointer to it. The
// concrete type comes from the TypeResolver when it recognizes the document's
// type hint and the result is assignable to t; otherwise t is used.
func (c *Conventions) Decode(t reflect.Type, id string, doc document.Document) (any, error) {
	target := c.resolveType(t, id, doc)
	if target.Kind() == reflect.Interface && target.NumMethod() == 0 {
		target = reflect.TypeOf(document.Document{})
	}
	out := reflect.New(target)

	if isMapType(target) {
		body := document.Clone(doc.Body())
		if target == reflect.TypeOf(document.Document{}) {
			out.Elem().Set(reflect.ValueOf(body))
		} else {
			out.Elem().Set(reflect.ValueOf(map[string]any(body)))
		}
		return out.Interface(), nil
	}
	if target.Kind() != reflect.Struct {
		return nil, &ConversionError{ID: id, Type: TypeName(target), Err: constants.ErrTypeMismatch}
	}

	data, err := c.Marshaler.Marshal(doc.Body())
	if err != nil {
		return nil, &ConversionError{ID: id, Type: TypeName(target), Err: err}
	}
	if err := c.Unmarshaler.Unmarshal(data, out.Interface()); err != nil {
		return nil, &ConversionError{ID: id, Type: TypeName(target), Err: err}
	}
	c.SetID(out.Interface(), id)
	return out.Interface(), nil
}

// Populate decodes doc into the value entity points to, replacing its
// contents in place.
func (c *Conventions) Populate(entity any, id string, doc document.Document) error {
	if err := Validate(entity); err != nil {
		return err
	}
	v := reflect.ValueOf(entity)
	fresh, err := c.Decode(v.Type().Elem(), id, doc)
	if err != nil {
		return err
	}
	fv := reflect.ValueOf(fresh)
	if fv.Type() != v.Type() {
		return &ConversionError{ID: id, Type: TypeName(v.Type()), Err: constants.ErrTypeMismatch}
	}
	v.Elem().Set(fv.Elem())
	return nil
}

func (c *Conventions) resolveType(t reflect.Type, id string, doc document.Document) reflect.Type {
	t = indirectType(t)
	if c.TypeResolver == nil {
		return t
	}
	hint := doc.Metadata().String(constants.MetadataGoType)
	rt, ok := c.TypeResolver.ResolveType(id, hint, doc)
	if !ok || rt == nil {
		return t
	}
	rt = indirectType(rt)
	if rt == t {
		return t
	}
	if t.Kind() == reflect.Interface && (rt.Implements(t) || reflect.PointerTo(rt).Implements(t)) {
		return rt
	}
	return t
}
