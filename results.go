package realm

import (
	"fmt"
	"strings"

	"github.com/takameyer/realm.go/internal/store"
)

// Results is a query over the objects of type T. A Results is live: every call
// evaluates the query against the latest committed state, unless it was
// obtained from Snapshot.
type Results[T any] struct {
	realm *Realm
	class string
	where Predicate
	// frozen pins the results to one version.
	frozen *store.Snapshot
}

// Objects returns every object of type T in r.
func Objects[T any](r *Realm) *Results[T] {
	return &Results[T]{realm: r, class: classOf[T]()}
}

// Where returns the results further filtered by p.
func (res *Results[T]) Where(p Predicate) *Results[T] {
	out := *res
	if res.where == nil {
		out.where = p
	} else {
		out.where = And(res.where, p)
	}
	return &out
}

// Snapshot returns results frozen at the current version.
func (res *Results[T]) Snapshot() *Results[T] {
	out := *res
	if out.frozen == nil {
		out.frozen = res.realm.store.Snapshot()
	}
	return &out
}

// IsFrozen reports whether the results come from Snapshot.
func (res *Results[T]) IsFrozen() bool {
	return res.frozen != nil
}

func (res *Results[T]) rowsAt(sn *store.Snapshot) []*store.Row {
	rows := sn.Rows(res.class)
	if res.where == nil {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if res.where.Match(r.Doc) {
			out = append(out, r)
		}
	}
	return out
}

func (res *Results[T]) rows() []*store.Row {
	sn := res.frozen
	if sn == nil {
		sn = res.realm.store.Snapshot()
	}
	return res.rowsAt(sn)
}

func (res *Results[T]) decode(rows []*store.Row) ([]T, error) {
	out := make([]T, len(rows))
	for i, r := range rows {
		if err := res.realm.store.Decode(r, &out[i]); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", res.class, r.ID, err)
		}
	}
	return out, nil
}

func (res *Results[T]) Len() int {
	return len(res.rows())
}

// At returns the object at index i.
func (res *Results[T]) At(i int) (T, error) {
	var obj T
	rows := res.rows()
	if i < 0 || i >= len(rows) {
		return obj, fmt.Errorf("index %d out of range [0:%d]", i, len(rows))
	}
	err := res.realm.store.Decode(rows[i], &obj)
	return obj, err
}

// First returns the first object, or nil when the results are empty.
func (res *Results[T]) First() (*T, error) {
	rows := res.rows()
	if len(rows) == 0 {
		return nil, nil
	}
	var obj T
	if err := res.realm.store.Decode(rows[0], &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// All returns every object in insertion order.
func (res *Results[T]) All() ([]T, error) {
	return res.decode(res.rows())
}

// String renders the class, the query and the objects, e.g.
// Results<Task>(name BEGINSWITH "A") [{...}].
func (res *Results[T]) String() string {
	var b strings.Builder
	b.WriteString("Results<" + res.class + ">")
	if res.where != nil {
		b.WriteString("(" + res.where.String() + ")")
	}
	objs, err := res.All()
	if err != nil {
		b.WriteString(" <" + err.Error() + ">")
		return b.String()
	}
	b.WriteString(" [")
	for i, o := range objs {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%+v", o)
	}
	b.WriteString("]")
	return b.String()
}
