// Package transport defines the byte-oriented duplex stream the client core
// runs on, plus an in-memory implementation and an adapter for blocking
// connections.
package transport

import (
	"errors"
	"io"
	"sync"
	"time"
)

// Stream is a reliable byte stream with a non-blocking read side.
//
// Read returns at most max bytes. In non-blocking mode it returns an empty
// slice and a nil error when nothing is available yet. In blocking mode it
// waits for at least one byte, but gives up after a short slice of time and
// returns empty so callers can check their context. A closed or failed
// connection is reported as an error, io.EOF for an orderly close by the peer.
type Stream interface {
	Write(p []byte) (int, error)
	Read(max int) ([]byte, error)
	SetBlocking(blocking bool) error
	Close() error
}

var ErrClosed = errors.New("transport: stream closed")

// DefaultWaitSlice bounds a single blocking Read.
const DefaultWaitSlice = 200 * time.Millisecond

// Pipe returns two connected in-memory streams.
func Pipe() (*MemStream, *MemStream) {
	ab := newBuffer(0)
	ba := newBuffer(0)
	return &MemStream{in: ba, out: ab}, &MemStream{in: ab, out: ba}
}

// MemStream is one end of an in-memory pipe.
type MemStream struct {
	in  *buffer
	out *buffer

	mu       sync.Mutex
	blocking bool
}

func (s *MemStream) Write(p []byte) (int, error) { return s.out.write(p) }

func (s *MemStream) Read(max int) ([]byte, error) {
	s.mu.Lock()
	blocking := s.blocking
	s.mu.Unlock()
	wait := time.Duration(0)
	if blocking {
		wait = DefaultWaitSlice
	}
	return s.in.read(max, wait)
}

func (s *MemStream) SetBlocking(blocking bool) error {
	s.mu.Lock()
	s.blocking = blocking
	s.mu.Unlock()
	return nil
}

// Close shuts both directions. The peer reads io.EOF once buffered data is drained.
func (s *MemStream) Close() error {
	s.out.fail(io.EOF)
	s.in.fail(io.EOF)
	return nil
}

// buffer is a byte queue with one producer and one consumer. A non-zero
// limit makes the producer wait while the queue is full.
type buffer struct {
	mu    sync.Mutex
	cond  *sync.Cond
	data  []byte
	limit int
	err   error
}

func newBuffer(limit int) *buffer {
	b := &buffer{limit: limit}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *buffer) write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.limit > 0 && len(b.data) >= b.limit && b.err == nil {
		b.cond.Wait()
	}
	if b.err != nil {
		return 0, ErrClosed
	}
	b.data = append(b.data, p...)
	b.cond.Broadcast()
	return len(p), nil
}

// read returns up to max bytes (all when max <= 0). With wait > 0 it waits
// up to wait for data to show up.
func (b *buffer) read(max int, wait time.Duration) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if wait > 0 && len(b.data) == 0 && b.err == nil {
		expired := false
		t := time.AfterFunc(wait, func() {
			b.mu.Lock()
			expired = true
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		for len(b.data) == 0 && b.err == nil && !expired {
			b.cond.Wait()
		}
		t.Stop()
	}
	if len(b.data) == 0 {
		return nil, b.err
	}
	n := len(b.data)
	if max > 0 && n > max {
		n = max
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	b.data = b.data[n:]
	if len(b.data) == 0 {
		b.data = nil
	}
	b.cond.Broadcast()
	return out, nil
}

// fail records the terminal error reported once buffered data is drained.
// The first error wins.
func (b *buffer) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}
