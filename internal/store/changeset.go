package store

import "github.com/takameyer/realm.go/pkg/models"

type OpKind string

const (
	// OpUpsert writes the whole document.
	OpUpsert OpKind = "upsert"
	// OpDelete removes one object by primary key.
	OpDelete OpKind = "delete"
	// OpClear removes every object of a class.
	OpClear OpKind = "clear"
)

// Op is one operation of a Changeset. It is also the unit exchanged with the
// server on upload and in change notifications.
type Op struct {
	Kind  OpKind          `cbor:"op" json:"op"`
	Class string          `cbor:"class" json:"class"`
	ID    models.ObjectID `cbor:"id" json:"id"`
	Doc   models.Document `cbor:"doc,omitempty" json:"doc,omitempty"`
}

// Changeset is the ordered list of operations of one transaction.
type Changeset struct {
	Ops     []Op   `cbor:"ops" json:"ops"`
	Version uint64 `cbor:"version,omitempty" json:"version,omitempty"`
}

func (cs Changeset) IsEmpty() bool {
	return len(cs.Ops) == 0
}

// Classes returns the distinct classes touched by the changeset, in first-seen order.
func (cs Changeset) Classes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, op := range cs.Ops {
		if _, ok := seen[op.Class]; ok {
			continue
		}
		seen[op.Class] = struct{}{}
		out = append(out, op.Class)
	}
	return out
}

type Origin int

const (
	// OriginLocal marks commits made through Begin. They have to be uploaded.
	OriginLocal Origin = iota
	// OriginRemote marks commits made by ApplyRemote.
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Commit describes a committed transaction.
type Commit struct {
	Version   uint64
	Origin    Origin
	Changeset Changeset
}

// Touches reports whether the commit changed class.
func (c Commit) Touches(class string) bool {
	for _, op := range c.Changeset.Ops {
		if op.Class == class {
			return true
		}
	}
	return false
}
