package models

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Document is the schemaless form of an object or a remote collection entry.
// Filters and update documents for remote collections use the same type, so
// callers can write them the way they would for a MongoDB driver.
type Document = bson.M

// CloneDocument returns a shallow copy of doc, converting nested documents that
// came off the wire as map[string]any into Document.
func CloneDocument(doc map[string]any) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if nested, ok := v.(map[string]any); ok {
			out[k] = CloneDocument(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// DocumentID returns the primary key of a document.
func DocumentID(doc map[string]any) (ObjectID, bool) {
	v, ok := doc["_id"]
	if !ok {
		return NilObjectID, false
	}
	return AsObjectID(v)
}

// Equal reports whether two decoded values are equal, treating all numeric kinds
// as numbers and comparing ObjectIDs in any of their accepted forms.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return isNil(a) && isNil(b)
	}
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	if aid, ok := a.(ObjectID); ok {
		bid, ok := AsObjectID(b)
		return ok && aid == bid
	}
	if bid, ok := b.(ObjectID); ok {
		aid, ok := AsObjectID(a)
		return ok && aid == bid
	}
	if as, ok := asString(a); ok {
		bs, ok := asString(b)
		return ok && as == bs
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values of the same family (numbers or strings). ok is false
// when the values cannot be ordered against each other.
func Compare(a, b any) (result int, ok bool) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := asString(a)
	bs, bok := asString(b)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

// AsString returns the string form of string-like values.
func AsString(v any) (string, bool) {
	return asString(v)
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case *string:
		if t == nil {
			return "", false
		}
		return *t, true
	case fmt.Stringer:
		if _, isID := v.(ObjectID); isID {
			return "", false
		}
		return t.String(), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

// AsFloat returns numeric values as float64.
func AsFloat(v any) (float64, bool) {
	return asFloat(v)
}

func asFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f, !math.IsNaN(f)
	}
	return 0, false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	if _, ok := v.(CustomNil); ok {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// IsNil reports whether v is nil, a nil pointer, or None.
func IsNil(v any) bool {
	return isNil(v)
}
