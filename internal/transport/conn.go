package transport

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type ConnOptions struct {
	// ReadSize is the size of each read from the underlying connection.
	ReadSize int
	// MaxBuffered makes the reader goroutine wait while this many bytes are
	// buffered and unread (0 means 1 MiB).
	MaxBuffered int
	// WaitSlice bounds one blocking Read (default DefaultWaitSlice).
	WaitSlice time.Duration
}

// Conn adapts a blocking connection to Stream. A single goroutine moves
// bytes from the connection into a buffer; Read only ever touches the buffer.
type Conn struct {
	rwc  io.ReadWriteCloser
	in   *buffer
	wait time.Duration

	wmu      sync.Mutex
	blocking atomic.Bool
	closed   atomic.Bool
	done     chan struct{}
}

func NewConn(rwc io.ReadWriteCloser, opts ConnOptions) *Conn {
	if opts.ReadSize <= 0 {
		opts.ReadSize = 32 * 1024
	}
	if opts.MaxBuffered <= 0 {
		opts.MaxBuffered = 1 << 20
	}
	if opts.WaitSlice <= 0 {
		opts.WaitSlice = DefaultWaitSlice
	}
	c := &Conn{
		rwc:  rwc,
		in:   newBuffer(opts.MaxBuffered),
		wait: opts.WaitSlice,
		done: make(chan struct{}),
	}
	go c.pump(opts.ReadSize)
	return c
}

func (c *Conn) pump(size int) {
	defer close(c.done)
	buf := make([]byte, size)
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			if _, werr := c.in.write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if c.closed.Load() {
				err = ErrClosed
			}
			c.in.fail(err)
			return
		}
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	n, err := c.rwc.Write(p)
	if err != nil && c.closed.Load() {
		return n, ErrClosed
	}
	return n, err
}

func (c *Conn) Read(max int) ([]byte, error) {
	wait := time.Duration(0)
	if c.blocking.Load() {
		wait = c.wait
	}
	return c.in.read(max, wait)
}

func (c *Conn) SetBlocking(blocking bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.blocking.Store(blocking)
	return nil
}

// Close closes the connection and waits for the reader goroutine to exit.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.in.fail(ErrClosed)
	err := c.rwc.Close()
	<-c.done
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
