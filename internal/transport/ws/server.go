// Package ws carries the frame stream over websocket binary messages. Frame
// boundaries and message boundaries are unrelated: each Write becomes one
// message, and inbound messages are concatenated into a byte stream.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"outpost.client/internal/transport"
)

const writeTimeout = 5 * time.Second

// Dial opens a websocket to url and returns a non-blocking stream.
func Dial(ctx context.Context, url string, opts transport.ConnOptions) (*transport.Conn, error) {
	d := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}
	return transport.NewConn(&msgConn{conn: conn}, opts), nil
}

// ServeFunc runs one accepted connection. The stream is closed when it returns.
type ServeFunc func(s transport.Stream, remote string)

type Server struct {
	serve ServeFunc
	opts  transport.ConnOptions
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(serve ServeFunc, opts transport.ConnOptions, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		serve: serve,
		opts:  opts,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.log.Printf("upgrade %s: %v", r.RemoteAddr, err)
			return
		}
		stream := transport.NewConn(&msgConn{conn: conn}, s.opts)
		defer stream.Close()
		s.serve(stream, r.RemoteAddr)
	}
}

// msgConn presents a websocket as an io.ReadWriteCloser.
type msgConn struct {
	conn *websocket.Conn
	cur  io.Reader
}

func (c *msgConn) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.cur = r
		}
		n, err := c.cur.Read(p)
		if errors.Is(err, io.EOF) {
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *msgConn) Write(p []byte) (int, error) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *msgConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
