// Package proxy sits between the transport stream and the rest of the client:
// it queues outbound messages, assembles inbound frames without blocking, and
// routes decoded messages to registered handlers.
package proxy

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log"
	"slices"

	"outpost.client/internal/protocol"
	"outpost.client/internal/transport"
	"outpost.client/internal/wire"
)

// Handler consumes one inbound message. Handlers are expected to be total
// over well-formed input; a returned error is fatal to the session.
type Handler func(protocol.Message) error

// HandlerError is returned by Dispatch when a handler fails.
type HandlerError struct {
	Type  protocol.Type
	Index int
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("proxy: handler %d for %s: %v", e.Index, e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type Direction int

const (
	Inbound Direction = iota + 1
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "in"
	case Outbound:
		return "out"
	default:
		return "?"
	}
}

// Tap observes every frame that crosses the proxy (e.g. a recorder).
type Tap func(dir Direction, m protocol.Message)

type Stats struct {
	FramesIn  uint64
	FramesOut uint64
	BytesIn   uint64
	BytesOut  uint64
	Discarded uint64
}

type Options struct {
	// MaxPayload bounds inbound frame payloads (default wire.DefaultMaxPayload).
	MaxPayload uint32
	// ReadChunk is the max bytes requested per stream read (default 64 KiB).
	ReadChunk int
	Logger    *log.Logger
}

type outbound struct {
	msg    protocol.Message
	onSent func()
}

type Proxy struct {
	stream    transport.Stream
	reader    *wire.Reader
	log       *log.Logger
	readChunk int

	queue    []outbound
	handlers map[protocol.Type][]Handler
	taps     []Tap
	stats    Stats
}

func New(stream transport.Stream, opts Options) *Proxy {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	chunk := opts.ReadChunk
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &Proxy{
		stream:    stream,
		reader:    wire.NewReader(opts.MaxPayload),
		log:       logger,
		readChunk: chunk,
		handlers:  make(map[protocol.Type][]Handler),
	}
}

// Register appends h to the handlers for t. Handlers run in registration order.
func (p *Proxy) Register(t protocol.Type, h Handler) {
	p.handlers[t] = append(p.handlers[t], h)
}

// Observe adds a tap that sees every inbound and outbound message.
func (p *Proxy) Observe(tap Tap) {
	p.taps = append(p.taps, tap)
}

// Enqueue appends m to the outbound queue. onSent (may be nil) runs after the
// frame has been written to the stream.
func (p *Proxy) Enqueue(m protocol.Message, onSent func()) {
	p.queue = append(p.queue, outbound{msg: m, onSent: onSent})
}

// Send serializes v and enqueues it as a message of type t.
func (p *Proxy) Send(t protocol.Type, v any, onSent func()) error {
	m, err := protocol.NewMessage(t, v)
	if err != nil {
		return err
	}
	p.Enqueue(m, onSent)
	return nil
}

// Pending returns the number of queued outbound messages.
func (p *Proxy) Pending() int { return len(p.queue) }

// Push writes queued messages in FIFO order. On a write error the failed
// message and everything after it stay queued.
func (p *Proxy) Push() error {
	for len(p.queue) > 0 {
		ob := p.queue[0]
		frame := wire.Encode(uint16(ob.msg.Type), ob.msg.Payload)
		if _, err := p.stream.Write(frame); err != nil {
			return fmt.Errorf("proxy: write %s: %w", ob.msg.Type, err)
		}
		p.queue[0] = outbound{}
		p.queue = p.queue[1:]
		p.stats.FramesOut++
		p.stats.BytesOut += uint64(len(frame))
		for _, tap := range p.taps {
			tap(Outbound, ob.msg)
		}
		if ob.onSent != nil {
			ob.onSent()
		}
	}
	p.queue = nil
	return nil
}

// Poll yields every message that can be assembled from bytes already
// available on the stream, then stops; it never waits for more data.
// With a non-zero filter, messages of other types are logged and dropped.
// Unknown types are always logged and dropped. A stream or framing error is
// yielded once and ends the sequence.
func (p *Proxy) Poll(filter protocol.Type) iter.Seq2[protocol.Message, error] {
	var want []protocol.Type
	if filter != 0 {
		want = []protocol.Type{filter}
	}
	return func(yield func(protocol.Message, error) bool) {
		for {
			m, ok, err := p.next()
			if err != nil {
				yield(protocol.Message{}, err)
				return
			}
			if !ok {
				return
			}
			if !p.accept(m, want...) {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

// WaitFor blocks until a message of type t arrives, discarding any other
// messages. It is meant for the handshake, before the game loop runs.
func (p *Proxy) WaitFor(ctx context.Context, t protocol.Type) (protocol.Message, error) {
	return p.WaitForAny(ctx, t)
}

// WaitForAny is WaitFor for the first message of any of the given types.
func (p *Proxy) WaitForAny(ctx context.Context, types ...protocol.Type) (protocol.Message, error) {
	if err := p.stream.SetBlocking(true); err != nil {
		return protocol.Message{}, fmt.Errorf("proxy: set blocking: %w", err)
	}
	defer func() {
		if err := p.stream.SetBlocking(false); err != nil {
			p.log.Printf("restore non-blocking mode: %v", err)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return protocol.Message{}, err
		}
		m, ok, err := p.next()
		if err != nil {
			return protocol.Message{}, fmt.Errorf("proxy: waiting for %v: %w", types, err)
		}
		if !ok {
			continue
		}
		if p.accept(m, types...) {
			return m, nil
		}
	}
}

// Dispatch runs the handlers registered for m.Type in order. The first
// handler error stops dispatch and is returned as a *HandlerError.
func (p *Proxy) Dispatch(m protocol.Message) error {
	for i, h := range p.handlers[m.Type] {
		if err := h(m); err != nil {
			return &HandlerError{Type: m.Type, Index: i, Err: err}
		}
	}
	return nil
}

// PollAndDispatch drains available messages and dispatches each one.
// It returns the number of messages dispatched.
func (p *Proxy) PollAndDispatch() (int, error) {
	n := 0
	for m, err := range p.Poll(0) {
		if err != nil {
			return n, err
		}
		if err := p.Dispatch(m); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (p *Proxy) Stats() Stats { return p.stats }

// accept reports whether m should be handed to the caller. With no types
// every known message is accepted.
func (p *Proxy) accept(m protocol.Message, types ...protocol.Type) bool {
	if !m.Type.Known() {
		p.stats.Discarded++
		p.log.Printf("discard unknown frame type=%d len=%d", uint16(m.Type), len(m.Payload))
		return false
	}
	if len(types) > 0 && !slices.Contains(types, m.Type) {
		p.stats.Discarded++
		p.log.Printf("discard %s frame len=%d (want %v)", m.Type, len(m.Payload), types)
		return false
	}
	return true
}

// next returns the next complete frame, reading from the stream only while
// the stream has bytes to give.
func (p *Proxy) next() (protocol.Message, bool, error) {
	var in []byte
	for {
		f, ok, err := p.reader.Feed(in)
		if err != nil {
			return protocol.Message{}, false, err
		}
		if ok {
			m := protocol.Message{Type: protocol.Type(f.Type), Payload: f.Payload}
			p.stats.FramesIn++
			p.stats.BytesIn += uint64(wire.HeaderSize + len(f.Payload))
			for _, tap := range p.taps {
				tap(Inbound, m)
			}
			return m, true, nil
		}
		b, err := p.stream.Read(p.readChunk)
		if len(b) == 0 {
			if err != nil {
				return protocol.Message{}, false, err
			}
			return protocol.Message{}, false, nil
		}
		in = b
	}
}
