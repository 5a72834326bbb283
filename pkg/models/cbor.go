package models

import (
	"io"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/takameyer/realm.go/internal/codec"
)

type CustomCBORTag uint64

var (
	NoneTag       CustomCBORTag = 6
	ObjectIDTag   CustomCBORTag = 55
	BinaryUUIDTag CustomCBORTag = 37
)

func registerCborTags() cbor.TagSet {
	customTags := map[CustomCBORTag]interface{}{
		ObjectIDTag: ObjectID{},
		NoneTag:     CustomNil{},
	}

	tags := cbor.NewTagSet()
	for tag, customType := range customTags {
		err := tags.Add(
			cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired},
			reflect.TypeOf(customType),
			uint64(tag),
		)
		if err != nil {
			panic(err)
		}
	}

	return tags
}

// CustomNil is an explicit "no value", distinct from an absent field.
type CustomNil struct{}

var None = CustomNil{}

var (
	modesOnce sync.Once
	encMode   cbor.EncMode
	decMode   cbor.DecMode
)

func initModes() {
	tags := registerCborTags()

	em, err := cbor.EncOptions{
		Sort:    cbor.SortCanonical,
		Time:    cbor.TimeRFC3339,
		TimeTag: cbor.EncTagRequired,
	}.EncModeWithTags(tags)
	if err != nil {
		panic(err)
	}

	dm, err := cbor.DecOptions{
		TimeTagToAny:   cbor.TimeTagToTime,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecModeWithTags(tags)
	if err != nil {
		panic(err)
	}

	encMode, decMode = em, dm
}

func getCborEncoder() cbor.EncMode {
	modesOnce.Do(initModes)
	return encMode
}

func getCborDecoder() cbor.DecMode {
	modesOnce.Do(initModes)
	return decMode
}

type CborMarshaler struct {
}

func (c CborMarshaler) Marshal(v interface{}) ([]byte, error) {
	return getCborEncoder().Marshal(v)
}

func (c CborMarshaler) NewEncoder(w io.Writer) codec.Encoder {
	return getCborEncoder().NewEncoder(w)
}

type CborUnmarshaler struct {
}

func (c CborUnmarshaler) Unmarshal(data []byte, dst interface{}) error {
	return getCborDecoder().Unmarshal(data, dst)
}

func (c CborUnmarshaler) NewDecoder(r io.Reader) codec.Decoder {
	return getCborDecoder().NewDecoder(r)
}

// Codec bundles CborMarshaler and CborUnmarshaler. It is the default wire format
// of connections, the local store and the fake backend.
type Codec struct {
	CborMarshaler
	CborUnmarshaler
}

// NewCodec returns the default CBOR codec.
func NewCodec() Codec {
	return Codec{}
}

var _ codec.Codec = Codec{}
