package realm

import (
	"reflect"

	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

// ClassNamer lets an object type choose its class name. Without it the class
// name is the Go type name.
type ClassNamer interface {
	ClassName() string
}

// classNameOf returns the class of v, which may be a value or a pointer.
func classNameOf(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if n, ok := reflect.New(t).Interface().(ClassNamer); ok {
		return n.ClassName()
	}
	return t.Name()
}

func classOf[T any]() string {
	var zero T
	return classNameOf(&zero)
}

// toDocument encodes an object into its document form.
func toDocument(c models.Codec, v any) (models.Document, error) {
	raw, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := c.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return models.Document(doc), nil
}

// objectID returns the primary key of doc.
func objectID(doc models.Document) (models.ObjectID, error) {
	id, ok := models.DocumentID(doc)
	if !ok || id.IsZero() {
		return models.NilObjectID, constants.ErrMissingPrimaryKey
	}
	return id, nil
}
