// Package websocket is the duplex transport under the protocol session: one
// gorilla/websocket connection with serialized writes and a single reader.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FrameKind tells binary audio apart from structured text.
type FrameKind int

const (
	FrameBinary FrameKind = iota + 1
	FrameText
)

func (k FrameKind) String() string {
	switch k {
	case FrameBinary:
		return "binary"
	case FrameText:
		return "text"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by writes on a closed connection.
var ErrClosed = errors.New("websocket: connection closed")

// Config tunes dialing and writes.
type Config struct {
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	ReadLimit        int64         `json:"read_limit"`
	UserAgent        string        `json:"user_agent"`
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadLimit:        4 << 20,
		UserAgent:        "stride/1.0",
	}
}

// Conn wraps one WebSocket connection. Writes from several goroutines are
// serialized; exactly one goroutine may call ReadFrame.
type Conn struct {
	config Config
	conn   *websocket.Conn

	mu     sync.Mutex // protects writes and closed
	closed bool
}

// Dial opens a connection to url. Cancelling ctx aborts the handshake at any
// point, including while waiting for the upgrade response.
func Dial(ctx context.Context, url string, config Config) (*Conn, error) {
	dialer := *websocket.DefaultDialer
	if config.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = config.HandshakeTimeout
	}

	var (
		rawMu sync.Mutex
		raw   net.Conn
	)
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := (&net.Dialer{}).DialContext(ctx, network, addr)
		if err == nil {
			rawMu.Lock()
			raw = c
			rawMu.Unlock()
		}
		return c, err
	}
	stop := context.AfterFunc(ctx, func() {
		rawMu.Lock()
		defer rawMu.Unlock()
		if raw != nil {
			raw.Close()
		}
	})

	headers := http.Header{}
	if config.UserAgent != "" {
		headers.Set("User-Agent", config.UserAgent)
	}

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if !stop() {
		// ctx ended during the dial and the socket was closed under it.
		if conn != nil {
			conn.Close()
		}
		return nil, fmt.Errorf("websocket: dial %q: %w", url, ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %q: %w", url, err)
	}
	if config.ReadLimit > 0 {
		conn.SetReadLimit(config.ReadLimit)
	}
	return &Conn{config: config, conn: conn}, nil
}

// WriteBinary sends one binary frame.
func (c *Conn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

// WriteText sends one text frame.
func (c *Conn) WriteText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return c.conn.WriteMessage(messageType, data)
}

// ReadFrame blocks for the next data frame. Control frames are handled by
// gorilla internally and never returned.
func (c *Conn) ReadFrame() (FrameKind, []byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		switch messageType {
		case websocket.BinaryMessage:
			return FrameBinary, data, nil
		case websocket.TextMessage:
			return FrameText, data, nil
		}
	}
}

// Close sends a normal closure and closes the socket. It is safe to call
// more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.mu.Unlock()

	return c.conn.Close()
}

// IsNormalClose reports whether err is a clean shutdown rather than a failure.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
