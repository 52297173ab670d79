package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestReader_WholeFrame(t *testing.T) {
	r := NewReader(0)
	f, ok, err := r.Feed(Encode(7, []byte("snapshot")))
	if err != nil || !ok {
		t.Fatalf("Feed: ok=%v err=%v", ok, err)
	}
	if f.Type != 7 || string(f.Payload) != "snapshot" {
		t.Fatalf("frame mismatch: %+v", f)
	}
	if r.Pending() || r.Buffered() != 0 {
		t.Fatalf("reader not reset: pending=%v buffered=%d", r.Pending(), r.Buffered())
	}
}

func TestReader_ChunkingEquivalence(t *testing.T) {
	payload := bytes.Repeat([]byte("xyz"), 50)
	enc := Encode(42, payload)

	for chunk := 1; chunk <= len(enc); chunk++ {
		r := NewReader(0)
		var got []Frame
		for off := 0; off < len(enc); off += chunk {
			end := off + chunk
			if end > len(enc) {
				end = len(enc)
			}
			// Empty reads between chunks must not lose state.
			if _, ok, err := r.Feed(nil); err != nil || ok {
				t.Fatalf("chunk=%d empty feed: ok=%v err=%v", chunk, ok, err)
			}
			f, ok, err := r.Feed(enc[off:end])
			if err != nil {
				t.Fatalf("chunk=%d: %v", chunk, err)
			}
			if ok {
				got = append(got, f)
			}
		}
		if len(got) != 1 {
			t.Fatalf("chunk=%d: got %d frames want 1", chunk, len(got))
		}
		if got[0].Type != 42 || !bytes.Equal(got[0].Payload, payload) {
			t.Fatalf("chunk=%d: frame mismatch", chunk)
		}
	}
}

func TestReader_MultipleFramesInOneRead(t *testing.T) {
	var stream []byte
	stream = append(stream, Encode(1, []byte("a"))...)
	stream = append(stream, Encode(2, nil)...)
	stream = append(stream, Encode(3, []byte("ccc"))...)

	r := NewReader(0)
	var types []uint16
	f, ok, err := r.Feed(stream)
	for ok && err == nil {
		types = append(types, f.Type)
		f, ok, err = r.Feed(nil)
	}
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(types) != 3 || types[0] != 1 || types[1] != 2 || types[2] != 3 {
		t.Fatalf("types: got %v", types)
	}
}

func TestReader_MaxPayload(t *testing.T) {
	r := NewReader(16)
	f, ok, err := r.Feed(Encode(5, make([]byte, 16)))
	if err != nil || !ok || len(f.Payload) != 16 {
		t.Fatalf("payload at max: ok=%v err=%v len=%d", ok, err, len(f.Payload))
	}

	var hdr [HeaderSize]byte
	PutHeader(hdr[:], Header{Type: 5, Length: 17})
	if _, _, err := r.Feed(hdr[:]); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if _, _, err := r.Feed(nil); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("reader must stay failed, got %v", err)
	}
}
