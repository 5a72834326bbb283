package models

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectID is the 12-byte primary key type of synced objects.
//
// It shares its layout with the BSON ObjectID, so ids minted on a device and ids
// minted by the backend are interchangeable. On the wire it travels as a CBOR byte
// string wrapped in ObjectIDTag; in JSON it is written in extended JSON form,
// {"$oid": "<hex>"}.
type ObjectID primitive.ObjectID

// NilObjectID is the zero ObjectID.
var NilObjectID ObjectID

// NewObjectID generates a new, globally unique ObjectID.
func NewObjectID() ObjectID {
	return ObjectID(primitive.NewObjectID())
}

// ObjectIDFromHex parses the 24-character hex form of an ObjectID.
func ObjectIDFromHex(s string) (ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return NilObjectID, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	return ObjectID(oid), nil
}

// MustObjectIDFromHex is like ObjectIDFromHex but panics on malformed input.
func MustObjectIDFromHex(s string) ObjectID {
	oid, err := ObjectIDFromHex(s)
	if err != nil {
		panic(err)
	}
	return oid
}

func (id ObjectID) Hex() string {
	return primitive.ObjectID(id).Hex()
}

func (id ObjectID) String() string {
	return fmt.Sprintf("ObjectID(%q)", id.Hex())
}

func (id ObjectID) IsZero() bool {
	return id == NilObjectID
}

// Compare orders ObjectIDs bytewise, which is also creation order for ids minted
// by NewObjectID within the same second resolution.
func (id ObjectID) Compare(other ObjectID) int {
	return bytes.Compare(id[:], other[:])
}

type extendedObjectID struct {
	OID string `json:"$oid"`
}

func (id ObjectID) MarshalJSON() ([]byte, error) {
	return json.Marshal(extendedObjectID{OID: id.Hex()})
}

func (id *ObjectID) UnmarshalJSON(data []byte) error {
	var ext extendedObjectID
	if err := json.Unmarshal(data, &ext); err == nil && ext.OID != "" {
		parsed, err := ObjectIDFromHex(ext.OID)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}

	var hex string
	if err := json.Unmarshal(data, &hex); err != nil {
		return fmt.Errorf("object id must be {\"$oid\": hex} or a hex string: %w", err)
	}
	parsed, err := ObjectIDFromHex(hex)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// AsObjectID converts decoded document values into an ObjectID. It accepts an
// ObjectID, a bson primitive.ObjectID, a 24-character hex string or a 12-byte slice.
func AsObjectID(v any) (ObjectID, bool) {
	switch t := v.(type) {
	case ObjectID:
		return t, true
	case *ObjectID:
		if t == nil {
			return NilObjectID, false
		}
		return *t, true
	case primitive.ObjectID:
		return ObjectID(t), true
	case string:
		oid, err := ObjectIDFromHex(t)
		return oid, err == nil
	case []byte:
		if len(t) != len(NilObjectID) {
			return NilObjectID, false
		}
		var oid ObjectID
		copy(oid[:], t)
		return oid, true
	}
	return NilObjectID, false
}
