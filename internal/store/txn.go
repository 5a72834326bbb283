package store

import (
	"fmt"
	"slices"

	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

// Txn is a write transaction. It is not safe for concurrent use; every method
// fails with constants.ErrNotInWriteTransaction once Commit or Rollback has run.
type Txn struct {
	store   *Store
	base    *Snapshot
	touched map[string]*table
	ops     []Op
	origin  Origin
	done    bool
}

func (tx *Txn) table(class string) *table {
	if t, ok := tx.touched[class]; ok {
		return t
	}
	var t *table
	if orig, ok := tx.base.tables[class]; ok {
		t = orig.clone()
	} else {
		t = newTable()
	}
	tx.touched[class] = t
	return t
}

func (tx *Txn) view(class string) (*table, bool) {
	if t, ok := tx.touched[class]; ok {
		return t, true
	}
	t, ok := tx.base.tables[class]
	return t, ok
}

func (tx *Txn) check() error {
	if tx.done {
		return constants.ErrNotInWriteTransaction
	}
	return nil
}

// Done reports whether Commit or Rollback has run.
func (tx *Txn) Done() bool {
	return tx.done
}

// Get returns the row as seen inside the transaction.
func (tx *Txn) Get(class string, id models.ObjectID) (*Row, bool) {
	t, ok := tx.view(class)
	if !ok {
		return nil, false
	}
	r, ok := t.rows[id]
	return r, ok
}

// Rows returns the rows of class as seen inside the transaction.
func (tx *Txn) Rows(class string) []*Row {
	t, ok := tx.view(class)
	if !ok {
		return nil
	}
	return t.list()
}

// Decode decodes a row into dst with the store codec.
func (tx *Txn) Decode(row *Row, dst any) error {
	return tx.store.Decode(row, dst)
}

// Insert adds a new object. It fails if an object with the same primary key exists.
func (tx *Txn) Insert(class string, doc map[string]any) error {
	if err := tx.check(); err != nil {
		return err
	}
	id, ok := models.DocumentID(doc)
	if !ok {
		return fmt.Errorf("%s: %w", class, constants.ErrMissingPrimaryKey)
	}
	if _, exists := tx.Get(class, id); exists {
		return fmt.Errorf("%s %s: %w", class, id, constants.ErrDuplicatePrimaryKey)
	}
	return tx.put(class, id, doc)
}

// Upsert inserts the object or replaces the stored one with the same primary key.
func (tx *Txn) Upsert(class string, doc map[string]any) (inserted bool, err error) {
	if err := tx.check(); err != nil {
		return false, err
	}
	id, ok := models.DocumentID(doc)
	if !ok {
		return false, fmt.Errorf("%s: %w", class, constants.ErrMissingPrimaryKey)
	}
	_, exists := tx.Get(class, id)
	return !exists, tx.put(class, id, doc)
}

func (tx *Txn) put(class string, id models.ObjectID, doc map[string]any) error {
	raw, normalized, err := tx.store.normalize(doc)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", class, id, err)
	}

	t := tx.table(class)
	if _, exists := t.rows[id]; !exists {
		t.order = append(t.order, id)
	}
	// Version is stamped on Commit.
	t.rows[id] = &Row{ID: id, Raw: raw, Doc: normalized}

	tx.ops = append(tx.ops, Op{Kind: OpUpsert, Class: class, ID: id, Doc: normalized})
	return nil
}

// Delete removes an object by primary key.
func (tx *Txn) Delete(class string, id models.ObjectID) error {
	if err := tx.check(); err != nil {
		return err
	}
	if _, exists := tx.Get(class, id); !exists {
		return fmt.Errorf("%s %s: %w", class, id, constants.ErrObjectNotFound)
	}

	t := tx.table(class)
	delete(t.rows, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}

	tx.ops = append(tx.ops, Op{Kind: OpDelete, Class: class, ID: id})
	return nil
}

// DeleteAll removes every object of class and returns how many there were.
func (tx *Txn) DeleteAll(class string) int {
	if tx.done {
		return 0
	}
	t, ok := tx.view(class)
	if !ok {
		return 0
	}
	n := len(t.order)
	tx.touched[class] = newTable()
	tx.ops = append(tx.ops, Op{Kind: OpClear, Class: class})
	return n
}

// Classes lists the classes holding at least one row inside the transaction.
func (tx *Txn) Classes() []string {
	out := make([]string, 0, len(tx.base.tables)+len(tx.touched))
	for k, t := range tx.touched {
		if len(t.order) > 0 {
			out = append(out, k)
		}
	}
	for k, t := range tx.base.tables {
		if _, ok := tx.touched[k]; !ok && len(t.order) > 0 {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Ops returns the operations staged so far.
func (tx *Txn) Ops() []Op {
	return tx.ops
}

// Commit publishes the staged tables and signals listeners. A transaction
// without operations commits without creating a new version.
func (tx *Txn) Commit() (Commit, error) {
	if err := tx.check(); err != nil {
		return Commit{}, err
	}
	tx.done = true

	s := tx.store
	if len(tx.ops) == 0 {
		s.writeLock.Unlock()
		return Commit{Version: tx.base.version, Origin: tx.origin}, nil
	}

	s.mu.Lock()
	s.version++
	version := s.version
	for class, t := range tx.touched {
		for _, id := range t.order {
			r := t.rows[id]
			if r.Version == 0 {
				r.Version = version
			}
		}
		s.tables[class] = t
	}
	s.mu.Unlock()
	s.writeLock.Unlock()

	c := Commit{
		Version:   version,
		Origin:    tx.origin,
		Changeset: Changeset{Ops: tx.ops, Version: version},
	}
	s.changed.TryBroadcast(version)

	return c, nil
}

// Rollback discards the staged changes. It is a no-op after Commit.
func (tx *Txn) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.store.writeLock.Unlock()
}
