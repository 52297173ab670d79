// Package tcp carries the frame stream over a plain TCP connection.
package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"outpost.client/internal/transport"
)

// Dial connects to addr and returns a non-blocking stream.
func Dial(ctx context.Context, addr string, opts transport.ConnOptions) (*transport.Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return transport.NewConn(c, opts), nil
}

// Listener accepts TCP connections as streams.
type Listener struct {
	ln   net.Listener
	opts transport.ConnOptions
}

func Listen(addr string, opts transport.ConnOptions) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, opts: opts}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next connection.
func (l *Listener) Accept() (transport.Stream, net.Addr, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, nil, err
	}
	return transport.NewConn(c, l.opts), c.RemoteAddr(), nil
}

func (l *Listener) Close() error { return l.ln.Close() }
