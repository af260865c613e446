package entity

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type User struct {
	ID      string   `json:"Id"`
	Name    string   `json:"Name"`
	Age     int      `json:"Age"`
	Tags    []string `json:"Tags,omitempty"`
	Address *Address `json:"Address,omitempty"`
}

type Address struct {
	City string `json:"City"`
}

type Company struct {
	Key  string `ravendb:"id"`
	Name string
}

type Box struct {
	Name string
}

type Animal interface{ Sound() string }

type Dog struct {
	ID   string
	Name string
}

func (d *Dog) Sound() string { return "woof" }

func TestPluralize(t *testing.T) {
	tests := map[string]string{
		"User":    "Users",
		"Company": "Companies",
		"Day":     "Days",
		"Box":     "Boxes",
		"Address": "Addresses",
		"Match":   "Matches",
		"Wish":    "Wishes",
		"Quiz":    "Quizes",
		"":        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Pluralize(in), in)
	}
}

func TestCollectionFor(t *testing.T) {
	c := DefaultConventions()
	assert.Equal(t, "Users", c.CollectionFor(&User{}))
	assert.Equal(t, "Companies", c.CollectionFor(&Company{}))
	assert.Equal(t, constants.EmptyCollection, c.CollectionFor(&document.Document{}))
	assert.Equal(t, "Things", c.CollectionFor(&document.Document{
		"@metadata": map[string]any{"@collection": "Things"},
	}))

	c.CollectionName = func(reflect.Type) string { return "Custom" }
	assert.Equal(t, "Custom", c.CollectionFor(&User{}))
}

func TestIdentityField(t *testing.T) {
	c := DefaultConventions()

	u := &User{ID: "users/1"}
	id, ok := c.GetID(u)
	require.True(t, ok)
	assert.Equal(t, "users/1", id)

	comp := &Company{}
	_, ok = c.GetID(comp)
	assert.False(t, ok)
	c.SetID(comp, "companies/1")
	assert.Equal(t, "companies/1", comp.Key)

	assert.False(t, c.HasIdentityField(reflect.TypeOf(Box{})))
	_, ok = c.GetID(&Box{Name: "b"})
	assert.False(t, ok)
	c.SetID(&Box{}, "boxes/1")

	doc := &document.Document{"@metadata": map[string]any{"@id": "docs/7"}}
	id, ok = c.GetID(doc)
	require.True(t, ok)
	assert.Equal(t, "docs/7", id)
}

func TestValidate(t *testing.T) {
	var nilUser *User
	assert.NoError(t, Validate(&User{}))
	assert.NoError(t, Validate(&document.Document{}))
	assert.NoError(t, Validate(&map[string]any{}))
	assert.ErrorIs(t, Validate(User{}), constants.ErrInvalidEntity)
	assert.ErrorIs(t, Validate(nilUser), constants.ErrInvalidEntity)
	assert.ErrorIs(t, Validate(nil), constants.ErrInvalidEntity)
	n := 5
	assert.ErrorIs(t, Validate(&n), constants.ErrInvalidEntity)
}

func TestEncodeStripsIdentityAndAddsMetadata(t *testing.T) {
	c := DefaultConventions()
	u := &User{ID: "users/1", Name: "John", Age: 21}

	doc, err := c.Encode(u, nil)
	require.NoError(t, err)

	_, hasID := doc["Id"]
	assert.False(t, hasID)
	assert.Equal(t, "John", doc["Name"])
	assert.Equal(t, float64(21), doc["Age"])
	assert.Equal(t, "Users", doc.Metadata().String(constants.MetadataCollection))
	assert.Equal(t, "entity.User", doc.Metadata().String(constants.MetadataGoType))

	again, err := c.Encode(u, nil)
	require.NoError(t, err)
	assert.Equal(t, doc, again)
}

func TestEncodeMergesRecordMetadata(t *testing.T) {
	c := DefaultConventions()
	info := &document.Info{
		ID:       "users/1",
		Metadata: document.Document{"Color": "red", "@change-vector": "A:1"},
	}
	doc, err := c.Encode(&User{Name: "John"}, info)
	require.NoError(t, err)
	meta := doc.Metadata()
	assert.Equal(t, "red", meta["Color"])
	assert.Equal(t, "Users", meta[constants.MetadataCollection])

	info.Metadata["Color"] = "blue"
	assert.Equal(t, "red", meta["Color"])
}

func TestEncodeKeepsLoadedMetadataWithoutTypeHint(t *testing.T) {
	c := DefaultConventions()
	stored := document.Document{
		"Name":      "John",
		"Age":       float64(21),
		"@metadata": map[string]any{constants.MetadataCollection: "Users"},
	}
	info := document.NewInfo("users/1", stored)
	doc, err := c.Encode(&User{ID: "users/1", Name: "John", Age: 21}, info)
	require.NoError(t, err)
	_, hasHint := doc.Metadata()[constants.MetadataGoType]
	assert.False(t, hasHint)
	assert.False(t, document.Changed(doc, info))
}

func TestEncodeKeepsForeignCollection(t *testing.T) {
	c := DefaultConventions()
	stored := document.Document{
		"Name":      "Ann",
		"Age":       float64(1),
		"@metadata": map[string]any{constants.MetadataCollection: "People"},
	}
	info := document.NewInfo("people/1", stored)
	doc, err := c.Encode(&User{ID: "people/1", Name: "Ann", Age: 1}, info)
	require.NoError(t, err)
	assert.Equal(t, "People", doc.Metadata().String(constants.MetadataCollection))
	assert.False(t, document.Changed(doc, info))

	doc, err = c.Encode(&User{Name: "Ann"}, &document.Info{ID: "people/2", Collection: "People"})
	require.NoError(t, err)
	assert.Equal(t, "People", doc.Metadata().String(constants.MetadataCollection))
}

func TestEncodeMapEntity(t *testing.T) {
	c := DefaultConventions()
	m := &document.Document{"Name": "raw"}
	doc, err := c.Encode(m, nil)
	require.NoError(t, err)
	assert.Equal(t, "raw", doc["Name"])
	assert.Equal(t, constants.EmptyCollection, doc.Metadata().String(constants.MetadataCollection))
	_, hasHint := doc.Metadata()[constants.MetadataGoType]
	assert.False(t, hasHint)

	doc, err = c.Encode(m, &document.Info{Collection: "Things"})
	require.NoError(t, err)
	assert.Equal(t, "Things", doc.Metadata().String(constants.MetadataCollection))

	_, leaked := (*m)["@metadata"]
	assert.False(t, leaked)
}

func TestRoundTrip(t *testing.T) {
	c := DefaultConventions()
	users := []*User{
		{ID: "users/1", Name: "John", Age: 21},
		{ID: "users/2", Name: "Jane", Tags: []string{"a", "b"}, Address: &Address{City: "Oslo"}},
		{ID: "users/3"},
	}
	for _, u := range users {
		doc, err := c.Encode(u, nil)
		require.NoError(t, err)
		out, err := c.Decode(reflect.TypeOf(User{}), u.ID, doc)
		require.NoError(t, err)
		assert.Equal(t, u, out)
	}
}

func TestDecodeConversionError(t *testing.T) {
	c := DefaultConventions()
	doc := document.Document{"Age": "not a number"}
	_, err := c.Decode(reflect.TypeOf(User{}), "users/9", doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrConversion)

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, "users/9", convErr.ID)
	assert.Equal(t, "entity.User", convErr.Type)
}

func TestDecodeWithTypeRegistry(t *testing.T) {
	c := DefaultConventions()
	c.TypeResolver = NewTypeRegistry().Register(&Dog{})

	doc := document.Document{
		"Name":      "Rex",
		"@metadata": map[string]any{constants.MetadataGoType: "entity.Dog"},
	}
	out, err := c.Decode(reflect.TypeOf((*Animal)(nil)).Elem(), "dogs/1", doc)
	require.NoError(t, err)
	dog, ok := out.(*Dog)
	require.True(t, ok)
	assert.Equal(t, "Rex", dog.Name)
	assert.Equal(t, "dogs/1", dog.ID)

	out, err = c.Decode(reflect.TypeOf((*any)(nil)).Elem(), "dogs/1", doc)
	require.NoError(t, err)
	assert.IsType(t, &Dog{}, out)

	// a hint that does not fit the requested type is ignored
	out, err = c.Decode(reflect.TypeOf(Box{}), "dogs/1", doc)
	require.NoError(t, err)
	assert.Equal(t, &Box{Name: "Rex"}, out)
}

func TestDecodeUntypedFallsBackToDocument(t *testing.T) {
	c := DefaultConventions()
	doc := document.Document{"Name": "x", "@metadata": map[string]any{"@collection": "Things"}}
	out, err := c.Decode(reflect.TypeOf((*any)(nil)).Elem(), "things/1", doc)
	require.NoError(t, err)
	assert.Equal(t, &document.Document{"Name": "x"}, out)

	out, err = c.Decode(reflect.TypeOf(map[string]any{}), "things/1", doc)
	require.NoError(t, err)
	assert.Equal(t, &map[string]any{"Name": "x"}, out)
}

func TestTypeResolverFunc(t *testing.T) {
	c := DefaultConventions()
	c.TypeResolver = TypeResolverFunc(func(id, _ string, _ document.Document) (reflect.Type, bool) {
		if id == "dogs/1" {
			return reflect.TypeOf(Dog{}), true
		}
		return nil, false
	})
	out, err := c.Decode(reflect.TypeOf((*Animal)(nil)).Elem(), "dogs/1", document.Document{"Name": "Rex"})
	require.NoError(t, err)
	assert.Equal(t, "woof", out.(Animal).Sound())
}

func TestPopulateInPlace(t *testing.T) {
	c := DefaultConventions()
	u := &User{ID: "users/1", Name: "Old"}
	ptr := u
	require.NoError(t, c.Populate(u, "users/1", document.Document{"Name": "New", "Age": float64(3)}))
	assert.Same(t, ptr, u)
	assert.Equal(t, "New", u.Name)
	assert.Equal(t, 3, u.Age)
	assert.Equal(t, "users/1", u.ID)
}

func TestRegisterType(t *testing.T) {
	r := NewTypeRegistry()
	RegisterType[User](r)
	rt, ok := r.ResolveType("", "entity.User", nil)
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf(User{}), rt)

	_, ok = r.ResolveType("", "", nil)
	assert.False(t, ok)
}
