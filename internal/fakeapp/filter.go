package fakeapp

import (
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

// lookup resolves a dotted path such as "address.city" in doc.
func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case models.Document:
		return t, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// isOperatorDoc reports whether every key of m starts with "$".
func isOperatorDoc(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// matches evaluates a query filter. Supported: field equality, dotted paths,
// $and, $or, $nor, and the field operators $eq, $ne, $in, $nin, $gt, $gte, $lt,
// $lte and $exists. An empty filter matches every document.
func matches(doc map[string]any, filter map[string]any) (bool, error) {
	for key, cond := range filter {
		var ok bool
		var err error
		switch key {
		case "$and", "$or", "$nor":
			ok, err = matchLogical(doc, key, cond)
		default:
			ok, err = matchField(doc, key, cond)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(doc map[string]any, op string, cond any) (bool, error) {
	list, ok := asList(cond)
	if !ok {
		return false, fmt.Errorf("%s needs an array", op)
	}
	for _, item := range list {
		sub, ok := asMap(item)
		if !ok {
			return false, fmt.Errorf("%s entries must be documents", op)
		}
		m, err := matches(doc, sub)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$and" && !m:
			return false, nil
		case op == "$or" && m:
			return true, nil
		case op == "$nor" && m:
			return false, nil
		}
	}
	return op != "$or", nil
}

func matchField(doc map[string]any, path string, cond any) (bool, error) {
	value, present := lookup(doc, path)

	ops, ok := asMap(cond)
	if !ok || !isOperatorDoc(ops) {
		return present && models.Equal(value, cond), nil
	}

	for op, arg := range ops {
		var m bool
		switch op {
		case "$eq":
			m = present && models.Equal(value, arg)
		case "$ne":
			m = !present || !models.Equal(value, arg)
		case "$in", "$nin":
			list, ok := asList(arg)
			if !ok {
				return false, fmt.Errorf("%s needs an array", op)
			}
			found := false
			for _, candidate := range list {
				if present && models.Equal(value, candidate) {
					found = true
					break
				}
			}
			m = found == (op == "$in")
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				m = false
				break
			}
			c, ok := models.Compare(value, arg)
			if !ok {
				m = false
				break
			}
			switch op {
			case "$gt":
				m = c > 0
			case "$gte":
				m = c >= 0
			case "$lt":
				m = c < 0
			case "$lte":
				m = c <= 0
			}
		case "$exists":
			want, _ := arg.(bool)
			m = present == want
		default:
			return false, fmt.Errorf("unsupported query operator %s", op)
		}
		if !m {
			return false, nil
		}
	}
	return true, nil
}

// applyUpdate returns the updated copy of doc. Supported operators are $set,
// $unset and $inc; an update document without operators is treated as $set of
// all its fields. The primary key cannot be changed.
func applyUpdate(doc map[string]any, update map[string]any) (models.Document, bool, error) {
	out := models.Document(maps.Clone(doc))
	if out == nil {
		out = models.Document{}
	}

	if !isOperatorDoc(update) {
		update = map[string]any{"$set": update}
	}

	for op, arg := range update {
		fields, ok := asMap(arg)
		if !ok {
			return nil, false, fmt.Errorf("%s needs a document", op)
		}
		for field, v := range fields {
			if field == constants.PrimaryKeyField {
				if existing, ok := out[field]; ok && models.Equal(existing, v) {
					continue
				}
				return nil, false, fmt.Errorf("cannot modify %s", constants.PrimaryKeyField)
			}
			switch op {
			case "$set":
				out[field] = v
			case "$unset":
				delete(out, field)
			case "$inc":
				delta, ok := models.AsFloat(v)
				if !ok {
					return nil, false, fmt.Errorf("$inc needs a number for %s", field)
				}
				cur, present := out[field]
				if !present {
					out[field] = v
					continue
				}
				base, ok := models.AsFloat(cur)
				if !ok {
					return nil, false, fmt.Errorf("cannot $inc non-numeric field %s", field)
				}
				out[field] = addNumber(cur, base, v, delta)
			default:
				return nil, false, fmt.Errorf("unsupported update operator %s", op)
			}
		}
	}

	return out, !documentsEqual(doc, out), nil
}

// addNumber keeps integer fields integral when both operands are integers.
func addNumber(cur any, base float64, delta any, d float64) any {
	if isInteger(cur) && isInteger(delta) {
		return int64(base) + int64(d)
	}
	return base + d
}

func isInteger(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func documentsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !models.Equal(av, bv) {
			return false
		}
	}
	return true
}

// seedFromFilter builds the document an upsert starts from: the plain equality
// fields of the filter.
func seedFromFilter(filter map[string]any) models.Document {
	out := models.Document{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
			continue
		}
		if m, ok := asMap(v); ok && isOperatorDoc(m) {
			if eq, ok := m["$eq"]; ok {
				out[k] = eq
			}
			continue
		}
		out[k] = v
	}
	return out
}
