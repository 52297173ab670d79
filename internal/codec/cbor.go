// Package codec serializes frame payloads.
//
// Payloads are CBOR maps encoded with Core Deterministic Encoding, so the same
// attribute map always produces identical bytes on the wire and in recordings.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Untyped targets decode as map[string]any, matching encoding/json.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Payloads are bounded by the frame size already.
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose renders data in CBOR diagnostic notation for logs.
func Diagnose(data []byte) string {
	s, err := cbor.Diagnose(data)
	if err != nil {
		return "<invalid cbor: " + err.Error() + ">"
	}
	return s
}
