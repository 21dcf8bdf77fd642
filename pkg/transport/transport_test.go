package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	level, _ := log.ToLevel("debug")
	return log.NewTestLogger(level)
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestDialTCPRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		conn.Write(buf[:n])
	}()

	host, port := hostPort(t, ln.Addr().String())
	tr, err := Dial(context.Background(), Config{Scheme: "tcp", Host: host, Port: port}, testLogger())
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Write([]byte("8=FIX.4.2\x01"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "8=FIX.4.2\x01", string(buf[:n]))
	assert.NotEmpty(t, tr.RemoteAddr())
}

func TestDialRefused(t *testing.T) {
	// Grab a port that is guaranteed closed.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := hostPort(t, ln.Addr().String())
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), Config{Host: host, Port: port, DialTimeout: 2 * time.Second}, testLogger())
	require.Error(t, err)
	assert.True(t, IsConnRefused(err), "expected refused classification, got %v", err)
}

func TestDialUnknownScheme(t *testing.T) {
	_, err := Dial(context.Background(), Config{Scheme: "carrier-pigeon", Host: "localhost", Port: 1}, testLogger())
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestDialWebSocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port := hostPort(t, u.Host)

	tr, err := Dial(context.Background(), Config{Scheme: "ws", Host: host, Port: port}, testLogger())
	require.NoError(t, err)
	defer tr.Close()

	frame := []byte("8=FIX.4.2\x019=5\x0135=0\x0110=123\x01")
	_, err = tr.Write(frame)
	require.NoError(t, err)

	// Short reads must drain one websocket message across calls.
	var got []byte
	buf := make([]byte, 7)
	for len(got) < len(frame) {
		n, err := tr.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, frame, got)
}

func TestWebSocketCloseReadsAsEOF(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port := hostPort(t, u.Host)

	tr, err := Dial(context.Background(), Config{Scheme: "ws", Host: host, Port: port}, testLogger())
	require.NoError(t, err)
	defer tr.Close()

	buf := make([]byte, 16)
	_, err = tr.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCloseUnblocksRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	host, port := hostPort(t, ln.Addr().String())
	tr, err := Dial(context.Background(), Config{Host: host, Port: port}, testLogger())
	require.NoError(t, err)

	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := tr.Read(buf)
		readDone <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-readDone:
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "closed"), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not unblock on Close")
	}

	select {
	case conn := <-accepted:
		conn.Close()
	default:
	}
}
