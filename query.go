package realm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/takameyer/realm.go/pkg/models"
)

// Predicate filters objects by their document form.
type Predicate interface {
	Match(doc models.Document) bool
	String() string
}

// FieldRef names a document field, such as "status". Nested fields use dotted
// paths.
type FieldRef struct {
	name string
	fold bool
}

func Field(name string) FieldRef {
	return FieldRef{name: name}
}

// Fold makes string comparisons of the field case-insensitive.
func (f FieldRef) Fold() FieldRef {
	f.fold = true
	return f
}

func (f FieldRef) lookup(doc models.Document) (any, bool) {
	var cur any = map[string]any(doc)
	for _, part := range strings.Split(f.name, ".") {
		var m map[string]any
		switch t := cur.(type) {
		case map[string]any:
			m = t
		case models.Document:
			m = t
		default:
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

type compareOp string

const (
	opEqual      compareOp = "=="
	opNotEqual   compareOp = "!="
	opBeginsWith compareOp = "BEGINSWITH"
	opEndsWith   compareOp = "ENDSWITH"
	opContains   compareOp = "CONTAINS"
	opIn         compareOp = "IN"
)

type comparison struct {
	field FieldRef
	op    compareOp
	value any
}

func (f FieldRef) Equal(v any) Predicate {
	return comparison{field: f, op: opEqual, value: v}
}

func (f FieldRef) NotEqual(v any) Predicate {
	return comparison{field: f, op: opNotEqual, value: v}
}

func (f FieldRef) BeginsWith(prefix string) Predicate {
	return comparison{field: f, op: opBeginsWith, value: prefix}
}

func (f FieldRef) EndsWith(suffix string) Predicate {
	return comparison{field: f, op: opEndsWith, value: suffix}
}

func (f FieldRef) Contains(substr string) Predicate {
	return comparison{field: f, op: opContains, value: substr}
}

// In matches when the field equals one of values.
func (f FieldRef) In(values ...any) Predicate {
	return comparison{field: f, op: opIn, value: values}
}

// IsNil matches absent and null fields.
func (f FieldRef) IsNil() Predicate {
	return comparison{field: f, op: opEqual, value: nil}
}

func (c comparison) equal(v any, want any) bool {
	if c.field.fold {
		a, aok := models.AsString(v)
		b, bok := models.AsString(want)
		if aok && bok {
			return foldString(a) == foldString(b)
		}
	}
	return models.Equal(v, want)
}

func (c comparison) Match(doc models.Document) bool {
	v, present := c.field.lookup(doc)
	if !present {
		v = nil
	}

	switch c.op {
	case opEqual:
		return c.equal(v, c.value)
	case opNotEqual:
		return !c.equal(v, c.value)
	case opIn:
		for _, candidate := range c.value.([]any) {
			if c.equal(v, candidate) {
				return true
			}
		}
		return false
	}

	s, ok := models.AsString(v)
	if !ok {
		return false
	}
	arg := c.value.(string)
	if c.field.fold {
		s, arg = foldString(s), foldString(arg)
	}
	switch c.op {
	case opBeginsWith:
		return strings.HasPrefix(s, arg)
	case opEndsWith:
		return strings.HasSuffix(s, arg)
	case opContains:
		return strings.Contains(s, arg)
	}
	return false
}

// foldString maps every rune to the smallest rune of its simple case folding
// orbit, so two strings fold alike exactly when strings.EqualFold holds.
func foldString(s string) string {
	return strings.Map(func(r rune) rune {
		least := r
		for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
			if f < least {
				least = f
			}
		}
		return least
	}, s)
}

func (c comparison) String() string {
	op := string(c.op)
	if c.field.fold {
		op += "[c]"
	}
	if c.op == opIn {
		values := c.value.([]any)
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = formatValue(v)
		}
		return fmt.Sprintf("%s %s {%s}", c.field.name, op, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s %s %s", c.field.name, op, formatValue(c.value))
}

func formatValue(v any) string {
	if models.IsNil(v) {
		return "nil"
	}
	if id, ok := v.(models.ObjectID); ok {
		return "oid(" + id.Hex() + ")"
	}
	if s, ok := models.AsString(v); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprint(v)
}

type logical struct {
	op    string
	terms []Predicate
}

// And matches when every predicate matches. And() matches everything.
func And(preds ...Predicate) Predicate {
	return logical{op: "AND", terms: preds}
}

// Or matches when any predicate matches. Or() matches nothing.
func Or(preds ...Predicate) Predicate {
	return logical{op: "OR", terms: preds}
}

func (l logical) Match(doc models.Document) bool {
	for _, p := range l.terms {
		if p.Match(doc) == (l.op == "OR") {
			return l.op == "OR"
		}
	}
	return l.op == "AND"
}

func (l logical) String() string {
	if len(l.terms) == 0 {
		if l.op == "AND" {
			return "TRUEPREDICATE"
		}
		return "FALSEPREDICATE"
	}
	parts := make([]string, len(l.terms))
	for i, p := range l.terms {
		parts[i] = p.String()
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " "+l.op+" ") + ")"
}

type not struct {
	term Predicate
}

func Not(p Predicate) Predicate {
	return not{term: p}
}

func (n not) Match(doc models.Document) bool {
	return !n.term.Match(doc)
}

func (n not) String() string {
	return "NOT " + n.term.String()
}
