package document

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/ravendb/ravendb.go/pkg/constants"
)

// ChangeType classifies one entry of a Diff.
type ChangeType int

const (
	DocumentDeleted ChangeType = iota
	DocumentAdded
	FieldChanged
	FieldAdded
	FieldRemoved
	ArrayValueChanged
	ArrayValueAdded
	ArrayValueRemoved
)

var changeTypeNames = map[ChangeType]string{
	DocumentDeleted:   "DocumentDeleted",
	DocumentAdded:     "DocumentAdded",
	FieldChanged:      "FieldChanged",
	FieldAdded:        "NewField",
	FieldRemoved:      "RemovedField",
	ArrayValueChanged: "ArrayValueChanged",
	ArrayValueAdded:   "ArrayValueAdded",
	ArrayValueRemoved: "ArrayValueRemoved",
}

func (c ChangeType) String() string {
	if s, ok := changeTypeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ChangeType(%d)", int(c))
}

// FieldChange describes a single structural difference.
type FieldChange struct {
	FieldPath string
	FieldName string
	OldValue  any
	NewValue  any
	Change    ChangeType
}

// Metadata keys the server rewrites on every save; they never count as a change.
var ignoredMetadataKeys = map[string]struct{}{
	constants.MetadataID:           {},
	constants.MetadataChangeVector: {},
	constants.MetadataLastModified: {},
}

// Changed reports whether newDoc differs from the stored shape held by info.
func Changed(newDoc Document, info *Info) bool {
	if info.IgnoreChanges {
		return false
	}
	if info.Document == nil {
		return true
	}
	d := differ{stopEarly: true}
	d.compareObjects("", newDoc, info.Document, true)
	return len(d.changes) > 0
}

// Diff lists the field-level differences between newDoc and the stored shape
// held by info, ordered by field path.
func Diff(newDoc Document, info *Info) []FieldChange {
	if info.IgnoreChanges {
		return nil
	}
	if info.Document == nil {
		return []FieldChange{{Change: DocumentAdded, NewValue: newDoc}}
	}
	var d differ
	d.compareObjects("", newDoc, info.Document, true)
	return d.changes
}

type differ struct {
	stopEarly bool
	changes   []FieldChange
}

func (d *differ) done() bool {
	return d.stopEarly && len(d.changes) > 0
}

func (d *differ) add(c FieldChange) {
	d.changes = append(d.changes, c)
}

func (d *differ) compareObjects(path string, newObj, oldObj map[string]any, top bool) {
	for _, key := range unionKeys(newObj, oldObj) {
		if d.done() {
			return
		}
		fieldPath := joinPath(path, key)
		newVal, inNew := newObj[key]
		oldVal, inOld := oldObj[key]

		if top && key == constants.MetadataKey {
			d.compareMetadata(fieldPath, asMap(newVal), asMap(oldVal))
			continue
		}

		switch {
		case !inOld:
			d.add(FieldChange{FieldPath: path, FieldName: key, NewValue: newVal, Change: FieldAdded})
		case !inNew:
			d.add(FieldChange{FieldPath: path, FieldName: key, OldValue: oldVal, Change: FieldRemoved})
		default:
			d.compareValues(path, key, fieldPath, newVal, oldVal)
		}
	}
}

func (d *differ) compareMetadata(path string, newMeta, oldMeta map[string]any) {
	for _, key := range unionKeys(newMeta, oldMeta) {
		if d.done() {
			return
		}
		if _, skip := ignoredMetadataKeys[key]; skip {
			continue
		}
		newVal, inNew := newMeta[key]
		oldVal, inOld := oldMeta[key]
		switch {
		case !inOld:
			d.add(FieldChange{FieldPath: path, FieldName: key, NewValue: newVal, Change: FieldAdded})
		case !inNew:
			d.add(FieldChange{FieldPath: path, FieldName: key, OldValue: oldVal, Change: FieldRemoved})
		default:
			d.compareValues(path, key, joinPath(path, key), newVal, oldVal)
		}
	}
}

func (d *differ) compareValues(path, key, fieldPath string, newVal, oldVal any) {
	newMap, newIsMap := toMap(newVal)
	oldMap, oldIsMap := toMap(oldVal)
	if newIsMap && oldIsMap {
		d.compareObjects(fieldPath, newMap, oldMap, false)
		return
	}
	newArr, newIsArr := newVal.([]any)
	oldArr, oldIsArr := oldVal.([]any)
	if newIsArr && oldIsArr {
		d.compareArrays(fieldPath, key, newArr, oldArr)
		return
	}
	if !equalScalars(newVal, oldVal) {
		d.add(FieldChange{FieldPath: path, FieldName: key, OldValue: oldVal, NewValue: newVal, Change: FieldChanged})
	}
}

func (d *differ) compareArrays(path, key string, newArr, oldArr []any) {
	n := len(newArr)
	if len(oldArr) < n {
		n = len(oldArr)
	}
	for i := 0; i < n && !d.done(); i++ {
		elemPath := fmt.Sprintf("%s[%d]", path, i)
		newMap, newIsMap := toMap(newArr[i])
		oldMap, oldIsMap := toMap(oldArr[i])
		if newIsMap && oldIsMap {
			d.compareObjects(elemPath, newMap, oldMap, false)
			continue
		}
		newSub, newIsArr := newArr[i].([]any)
		oldSub, oldIsArr := oldArr[i].([]any)
		if newIsArr && oldIsArr {
			d.compareArrays(elemPath, key, newSub, oldSub)
			continue
		}
		if !equalScalars(newArr[i], oldArr[i]) {
			d.add(FieldChange{FieldPath: path, FieldName: key, OldValue: oldArr[i], NewValue: newArr[i], Change: ArrayValueChanged})
		}
	}
	for i := n; i < len(newArr) && !d.done(); i++ {
		d.add(FieldChange{FieldPath: path, FieldName: key, NewValue: newArr[i], Change: ArrayValueAdded})
	}
	for i := n; i < len(oldArr) && !d.done(); i++ {
		d.add(FieldChange{FieldPath: path, FieldName: key, OldValue: oldArr[i], Change: ArrayValueRemoved})
	}
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

func asMap(v any) map[string]any {
	m, _ := toMap(v)
	return m
}

// equalScalars compares leaf values. Numbers compare by value regardless of
// their Go type, since metadata set by callers may hold ints while documents
// decoded from the wire hold float64.
func equalScalars(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}
