// Package wire implements the frame format shared by client and server.
//
// Wire format (6 bytes header + variable payload, network byte order):
//
//	┌──────────────┬──────────────────────────┐
//	│ Type         │ Payload Length           │
//	│ (2 bytes)    │ (4 bytes, big-endian)    │
//	└──────────────┴──────────────────────────┘
//	│  Payload (Length bytes)                 │
//	└─────────────────────────────────────────┘
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the frame header in bytes.
	HeaderSize = 6

	// DefaultMaxPayload bounds the payload length a Reader accepts.
	DefaultMaxPayload = 4 << 20
)

var ErrFrameTooLarge = errors.New("wire: frame payload too large")

// Header is the fixed-size prefix of every frame.
type Header struct {
	Type   uint16
	Length uint32
}

// Frame is one decoded header-plus-payload unit.
type Frame struct {
	Type    uint16
	Payload []byte
}

// Encode concatenates the header for (typ, len(payload)) with the payload.
func Encode(typ uint16, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	PutHeader(buf, Header{Type: typ, Length: uint32(len(payload))})
	copy(buf[HeaderSize:], payload)
	return buf
}

// PutHeader writes h into the first HeaderSize bytes of dst.
func PutHeader(dst []byte, h Header) {
	binary.BigEndian.PutUint16(dst[0:2], h.Type)
	binary.BigEndian.PutUint32(dst[2:6], h.Length)
}

// DecodeHeader is the inverse of PutHeader.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, io.ErrUnexpectedEOF
	}
	return Header{
		Type:   binary.BigEndian.Uint16(b[0:2]),
		Length: binary.BigEndian.Uint32(b[2:6]),
	}, nil
}

// Decode parses one complete frame from b. Trailing bytes are an error.
func Decode(b []byte) (Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}
	rest := b[HeaderSize:]
	if uint64(len(rest)) < uint64(h.Length) {
		return Frame{}, io.ErrUnexpectedEOF
	}
	if uint64(len(rest)) > uint64(h.Length) {
		return Frame{}, fmt.Errorf("wire: %d trailing bytes after frame", uint64(len(rest))-uint64(h.Length))
	}
	payload := make([]byte, h.Length)
	copy(payload, rest)
	return Frame{Type: h.Type, Payload: payload}, nil
}
