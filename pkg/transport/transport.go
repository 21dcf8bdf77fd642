// Package transport provides the byte-stream connection to the counterparty.
// TCP is the native framing; the WebSocket variant carries the same frames
// inside binary messages and re-buffers them so readers see one contiguous
// stream either way.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
)

var (
	// ErrConnectionRefused marks the fatal no-session-ever-existed case.
	ErrConnectionRefused = errors.New("connection refused")

	ErrUnknownScheme = errors.New("unknown transport scheme")
)

const defaultDialTimeout = 10 * time.Second

// Transport is a connected byte stream. Read blocks until data or error;
// Close unblocks a pending Read.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() string
}

// Config selects the counterparty endpoint.
type Config struct {
	Scheme string // "tcp" (default), "ws" or "wss"
	Host   string
	Port   int

	DialTimeout time.Duration
}

func (c *Config) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Dial connects to the configured endpoint. A refused connection is wrapped
// in ErrConnectionRefused so callers can take the fatal exit path.
func Dial(ctx context.Context, cfg Config, logger log.Logger) (Transport, error) {
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	switch cfg.Scheme {
	case "", "tcp":
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", cfg.addr())
		if err != nil {
			return nil, classify(err, cfg.addr())
		}
		logger.Info("connected", "transport", "tcp", "addr", conn.RemoteAddr().String())
		return &tcpTransport{conn: conn}, nil

	case "ws", "wss":
		u := url.URL{Scheme: cfg.Scheme, Host: cfg.addr()}
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = timeout
		conn, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, classify(err, u.String())
		}
		logger.Info("connected", "transport", cfg.Scheme, "addr", conn.RemoteAddr().String())
		return &wsTransport{conn: conn}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, cfg.Scheme)
}

func classify(err error, addr string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %s", ErrConnectionRefused, addr)
	}
	return fmt.Errorf("dial %s: %w", addr, err)
}

// IsConnRefused reports whether the dial failed because nothing was
// listening at the endpoint.
func IsConnRefused(err error) bool {
	return errors.Is(err, ErrConnectionRefused)
}

// WrapConn adapts an accepted TCP connection to the Transport interface.
func WrapConn(conn net.Conn) Transport {
	return &tcpTransport{conn: conn}
}

// WrapWebSocket adapts an accepted WebSocket connection.
func WrapWebSocket(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

type tcpTransport struct {
	conn net.Conn
}

func (t *tcpTransport) Read(p []byte) (int, error)  { return t.conn.Read(p) }
func (t *tcpTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *tcpTransport) Close() error                { return t.conn.Close() }
func (t *tcpTransport) RemoteAddr() string          { return t.conn.RemoteAddr().String() }

type wsTransport struct {
	conn *websocket.Conn
	rest []byte
}

func (t *wsTransport) Read(p []byte) (int, error) {
	if len(t.rest) == 0 {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			// A clean close is end-of-stream, same as TCP.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		t.rest = data
	}
	n := copy(p, t.rest)
	t.rest = t.rest[n:]
	return n, nil
}

func (t *wsTransport) Write(p []byte) (int, error) {
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) Close() error {
	// Best effort close handshake before dropping the connection.
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }
