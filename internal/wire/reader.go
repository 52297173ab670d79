package wire

import "fmt"

// Reader assembles frames from a byte stream that may deliver any amount of
// data per read. It never blocks: Feed only looks at bytes it has been given.
type Reader struct {
	maxPayload uint32

	pending *Header
	buf     []byte
	err     error
}

func NewReader(maxPayload uint32) *Reader {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Reader{maxPayload: maxPayload}
}

// Feed appends p (possibly empty) to the buffered bytes and returns the next
// complete frame if one is available. Bytes past that frame stay buffered, so
// callers drain with Feed(nil) until ok is false.
//
// A header declaring more than the configured maximum payload is fatal: the
// error is returned now and on every later call.
func (r *Reader) Feed(p []byte) (f Frame, ok bool, err error) {
	if r.err != nil {
		return Frame{}, false, r.err
	}
	r.buf = append(r.buf, p...)

	if r.pending == nil {
		if len(r.buf) < HeaderSize {
			return Frame{}, false, nil
		}
		h, _ := DecodeHeader(r.buf)
		if h.Length > r.maxPayload {
			r.err = fmt.Errorf("%w: declared %d bytes, max %d", ErrFrameTooLarge, h.Length, r.maxPayload)
			r.buf = nil
			return Frame{}, false, r.err
		}
		r.pending = &h
		r.buf = r.buf[HeaderSize:]
	}

	need := int(r.pending.Length)
	if len(r.buf) < need {
		return Frame{}, false, nil
	}

	payload := make([]byte, need)
	copy(payload, r.buf[:need])
	f = Frame{Type: r.pending.Type, Payload: payload}

	r.pending = nil
	r.buf = r.buf[need:]
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return f, true, nil
}

// Buffered reports how many bytes are held beyond an already-decoded header.
func (r *Reader) Buffered() int { return len(r.buf) }

// Pending reports whether a header has been read whose payload is incomplete.
func (r *Reader) Pending() bool { return r.pending != nil }
