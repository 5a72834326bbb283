package realm

import (
	"fmt"
	"reflect"

	"github.com/takameyer/realm.go/internal/store"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

// Txn is the write transaction passed to Realm.Write.
type Txn struct {
	realm *Realm
	tx    *store.Txn
}

func (tx *Txn) document(obj any) (string, models.Document, error) {
	if err := tx.check(); err != nil {
		return "", nil, err
	}
	class := classNameOf(obj)
	if class == "" {
		return "", nil, fmt.Errorf("cannot store %T", obj)
	}
	if err := tx.realm.checkClass(class); err != nil {
		return "", nil, err
	}
	doc, err := toDocument(tx.realm.codec, obj)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", class, err)
	}
	return class, doc, nil
}

// Add inserts a new object. An object with a zero primary key gets a new
// ObjectID, written back to obj when obj is a pointer. Adding an object whose
// primary key exists fails with constants.ErrDuplicatePrimaryKey.
func (tx *Txn) Add(obj any) error {
	class, doc, err := tx.document(obj)
	if err != nil {
		return err
	}

	if _, err := objectID(doc); err != nil {
		doc[constants.PrimaryKeyField] = models.NewObjectID()
		if rv := reflect.ValueOf(obj); rv.Kind() == reflect.Pointer && !rv.IsNil() {
			raw, err := tx.realm.codec.Marshal(doc)
			if err != nil {
				return err
			}
			if err := tx.realm.codec.Unmarshal(raw, obj); err != nil {
				return fmt.Errorf("assign primary key of %s: %w", class, err)
			}
		}
	}

	return tx.tx.Insert(class, doc)
}

// Update stores obj, replacing the object with the same primary key or adding it.
func (tx *Txn) Update(obj any) error {
	class, doc, err := tx.document(obj)
	if err != nil {
		return err
	}
	if _, err := objectID(doc); err != nil {
		return fmt.Errorf("%s: %w", class, err)
	}
	_, err = tx.tx.Upsert(class, doc)
	return err
}

// Delete removes obj, identified by its primary key.
func (tx *Txn) Delete(obj any) error {
	class, doc, err := tx.document(obj)
	if err != nil {
		return err
	}
	id, err := objectID(doc)
	if err != nil {
		return fmt.Errorf("%s: %w", class, err)
	}
	return tx.tx.Delete(class, id)
}

// DeleteAll removes every object of the realm.
func (tx *Txn) DeleteAll() error {
	if err := tx.check(); err != nil {
		return err
	}
	classes := tx.realm.classes
	if classes == nil {
		classes = tx.tx.Classes()
	}
	for _, class := range classes {
		if len(tx.tx.Rows(class)) == 0 {
			continue
		}
		tx.tx.DeleteAll(class)
	}
	return nil
}

func (tx *Txn) check() error {
	if tx.tx.Done() {
		return constants.ErrNotInWriteTransaction
	}
	return nil
}

// Modify loads the object of type T with primary key id, passes it to fn and
// stores the result.
func Modify[T any](tx *Txn, id models.ObjectID, fn func(obj *T)) error {
	if err := tx.check(); err != nil {
		return err
	}
	class := classOf[T]()
	row, ok := tx.tx.Get(class, id)
	if !ok {
		return fmt.Errorf("%s %s: %w", class, id, constants.ErrObjectNotFound)
	}
	var obj T
	if err := tx.tx.Decode(row, &obj); err != nil {
		return err
	}
	fn(&obj)
	return tx.Update(&obj)
}

// Clear removes every object of type T.
func Clear[T any](tx *Txn) error {
	class := classOf[T]()
	if err := tx.check(); err != nil {
		return err
	}
	if err := tx.realm.checkClass(class); err != nil {
		return err
	}
	tx.tx.DeleteAll(class)
	return nil
}
