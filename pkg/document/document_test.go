package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedUser() Document {
	return Document{
		"Name": "A",
		"Age":  float64(30),
		"Address": map[string]any{
			"City": "Haifa",
		},
		"Tags": []any{"x", "y"},
		"@metadata": map[string]any{
			"@collection":    "Users",
			"@change-vector": "A:1-abc",
			"@id":            "users/1",
			"Raven-Go-Type":  "main.User",
			"@last-modified": "2024-01-01T00:00:00.0000000Z",
		},
	}
}

func TestClone(t *testing.T) {
	orig := storedUser()
	c := Clone(orig)
	require.Equal(t, orig, c)

	c["Address"].(map[string]any)["City"] = "Tel Aviv"
	c.Metadata()["@collection"] = "People"
	c["Tags"].([]any)[0] = "z"

	assert.Equal(t, "Haifa", orig["Address"].(map[string]any)["City"])
	assert.Equal(t, "Users", orig.Metadata()["@collection"])
	assert.Equal(t, "x", orig["Tags"].([]any)[0])

	assert.Nil(t, Clone(nil))
}

func TestBodyStripsMetadata(t *testing.T) {
	body := storedUser().Body()
	_, ok := body["@metadata"]
	assert.False(t, ok)
	assert.Equal(t, "A", body.String("Name"))
	assert.Equal(t, "", body.String("Age"))
}

func TestNewInfo(t *testing.T) {
	doc := storedUser()
	info := NewInfo("users/1", doc)

	assert.Equal(t, "users/1", info.ID)
	assert.Equal(t, "A:1-abc", info.ChangeVector)
	assert.Equal(t, "Users", info.Collection)
	assert.False(t, info.IsNewDocument)

	info.Metadata["Color"] = "red"
	_, leaked := info.Document.Metadata()["Color"]
	assert.False(t, leaked)
	_, leaked = doc.Metadata()["Color"]
	assert.False(t, leaked)
}

func TestConcurrencyModeString(t *testing.T) {
	assert.Equal(t, "Auto", ConcurrencyAuto.String())
	assert.Equal(t, "Forced", ConcurrencyForced.String())
	assert.Equal(t, "Disabled", ConcurrencyDisabled.String())
	assert.Equal(t, "Unknown", ConcurrencyMode(42).String())
}

func TestExpectedChangeVector(t *testing.T) {
	tests := []struct {
		name       string
		info       Info
		optimistic bool
		wantCV     string
		wantSend   bool
	}{
		{"auto without optimistic", Info{ChangeVector: "A:1"}, false, "", false},
		{"auto with optimistic", Info{ChangeVector: "A:1"}, true, "A:1", true},
		{"auto new document with optimistic", Info{IsNewDocument: true}, true, "", true},
		{"forced", Info{ChangeVector: "A:2", ConcurrencyMode: ConcurrencyForced}, false, "A:2", true},
		{"forced unsaved", Info{ConcurrencyMode: ConcurrencyForced, IsNewDocument: true}, false, "", true},
		{"disabled", Info{ChangeVector: "A:3", ConcurrencyMode: ConcurrencyDisabled}, true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cv, send := tt.info.ExpectedChangeVector(tt.optimistic)
			assert.Equal(t, tt.wantCV, cv)
			assert.Equal(t, tt.wantSend, send)
		})
	}
}

func TestChangedIgnoresServerMetadata(t *testing.T) {
	info := NewInfo("users/1", storedUser())

	fresh := Clone(storedUser())
	meta := fresh.Metadata()
	meta["@change-vector"] = "A:9-zzz"
	meta["@last-modified"] = "2025-01-01T00:00:00.0000000Z"
	delete(meta, "@id")

	assert.False(t, Changed(fresh, info))
	assert.Empty(t, Diff(fresh, info))
}

func TestChangedNestedField(t *testing.T) {
	info := NewInfo("users/1", storedUser())
	fresh := Clone(storedUser())
	fresh["Address"].(map[string]any)["City"] = "Tel Aviv"

	require.True(t, Changed(fresh, info))
	changes := Diff(fresh, info)
	require.Len(t, changes, 1)
	assert.Equal(t, FieldChange{
		FieldPath: "Address",
		FieldName: "City",
		OldValue:  "Haifa",
		NewValue:  "Tel Aviv",
		Change:    FieldChanged,
	}, changes[0])
}

func TestDiffFieldsAndArrays(t *testing.T) {
	info := NewInfo("users/1", storedUser())
	fresh := Clone(storedUser())
	delete(fresh, "Age")
	fresh["Email"] = "a@example.com"
	fresh["Tags"] = []any{"x", "q", "w"}
	fresh.Metadata()["Color"] = "red"

	changes := Diff(fresh, info)
	var kinds []ChangeType
	for _, c := range changes {
		kinds = append(kinds, c.Change)
	}
	assert.ElementsMatch(t, []ChangeType{FieldAdded, FieldRemoved, FieldAdded, ArrayValueChanged, ArrayValueAdded}, kinds)
}

func TestDiffArrayShrink(t *testing.T) {
	info := NewInfo("users/1", storedUser())
	fresh := Clone(storedUser())
	fresh["Tags"] = []any{"x"}

	changes := Diff(fresh, info)
	require.Len(t, changes, 1)
	assert.Equal(t, ArrayValueRemoved, changes[0].Change)
	assert.Equal(t, "y", changes[0].OldValue)
}

func TestChangedNumbersCompareByValue(t *testing.T) {
	info := NewInfo("users/1", storedUser())
	fresh := Clone(storedUser())
	fresh["Age"] = 30
	assert.False(t, Changed(fresh, info))
	fresh["Age"] = 31
	assert.True(t, Changed(fresh, info))
}

func TestIgnoreChangesShortCircuits(t *testing.T) {
	info := NewInfo("users/1", storedUser())
	info.IgnoreChanges = true
	fresh := Document{"Name": "totally different"}
	assert.False(t, Changed(fresh, info))
	assert.Nil(t, Diff(fresh, info))
}

func TestNewDocumentIsAlwaysChanged(t *testing.T) {
	info := &Info{ID: "users/2", IsNewDocument: true}
	fresh := Document{"Name": "B"}
	assert.True(t, Changed(fresh, info))
	changes := Diff(fresh, info)
	require.Len(t, changes, 1)
	assert.Equal(t, DocumentAdded, changes[0].Change)
}

func TestChangeTypeString(t *testing.T) {
	assert.Equal(t, "NewField", FieldAdded.String())
	assert.Equal(t, "ArrayValueAdded", ArrayValueAdded.String())
	assert.Equal(t, "ChangeType(99)", ChangeType(99).String())
}
