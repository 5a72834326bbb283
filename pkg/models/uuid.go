package models

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"
)

// UUID identifies server-side resources such as sync subscriptions and users.
//
// It implements cbor.Marshaler and cbor.Unmarshaler and travels as CBOR tag 37
// with the 16 raw bytes as content.
type UUID struct {
	uuid.UUID
}

// NewUUID returns a random (version 4) UUID.
func NewUUID() UUID {
	return UUID{uuid.Must(uuid.NewV4())}
}

// ParseUUID parses the canonical string form.
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.FromString(s)
	if err != nil {
		return UUID{}, err
	}
	return UUID{u}, nil
}

// MarshalCBOR implements cbor.Marshaler interface for UUID
func (u UUID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  uint64(BinaryUUIDTag),
		Content: u.Bytes(),
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler interface for UUID
func (u *UUID) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}

	if tag.Number != uint64(BinaryUUIDTag) {
		return fmt.Errorf("unexpected tag number for UUID: got %d, want %d", tag.Number, BinaryUUIDTag)
	}

	bytes, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("UUID tag content must be byte string, got %T", tag.Content)
	}

	if len(bytes) != uuid.Size {
		return fmt.Errorf("UUID must be exactly 16 bytes, got %d", len(bytes))
	}

	parsed, err := uuid.FromBytes(bytes)
	if err != nil {
		return fmt.Errorf("failed to parse UUID bytes: %w", err)
	}

	u.UUID = parsed
	return nil
}

// AsUUID converts a decoded parameter (string, UUID or raw tag 37) into a UUID.
func AsUUID(v any) (UUID, bool) {
	switch t := v.(type) {
	case UUID:
		return t, true
	case string:
		u, err := ParseUUID(t)
		return u, err == nil
	case cbor.Tag:
		if t.Number != uint64(BinaryUUIDTag) {
			return UUID{}, false
		}
		b, ok := t.Content.([]byte)
		if !ok {
			return UUID{}, false
		}
		u, err := uuid.FromBytes(b)
		return UUID{u}, err == nil
	}
	return UUID{}, false
}
