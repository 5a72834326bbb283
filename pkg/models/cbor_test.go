package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taggedRecord struct {
	ID    ObjectID `cbor:"_id"`
	Name  string   `cbor:"name"`
	Owner *string  `cbor:"owner"`
}

func TestObjectIDRoundTripsThroughInterface(t *testing.T) {
	c := NewCodec()
	id := NewObjectID()

	data, err := c.Marshal(map[string]any{"_id": id, "name": "Do laundry"})
	require.NoError(t, err)

	var decoded any
	require.NoError(t, c.Unmarshal(data, &decoded))

	doc, ok := decoded.(map[string]any)
	require.True(t, ok, "maps must decode as map[string]any, got %T", decoded)
	assert.Equal(t, id, doc["_id"])
	assert.Equal(t, "Do laundry", doc["name"])
}

func TestObjectIDDecodesIntoStruct(t *testing.T) {
	c := NewCodec()
	owner := "joe"
	in := taggedRecord{ID: NewObjectID(), Name: "App design", Owner: &owner}

	data, err := c.Marshal(in)
	require.NoError(t, err)

	var out taggedRecord
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUUIDRoundTrip(t *testing.T) {
	c := NewCodec()
	u := NewUUID()

	data, err := c.Marshal(u)
	require.NoError(t, err)

	var out UUID
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, u.String(), out.String())

	var raw any
	require.NoError(t, c.Unmarshal(data, &raw))
	parsed, ok := AsUUID(raw)
	require.True(t, ok)
	assert.Equal(t, u.String(), parsed.String())
}
