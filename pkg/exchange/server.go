// Package exchange is an in-process counterparty simulator for session
// testing. It accepts FIX connections over TCP and WebSocket, answers the
// logon handshake with mirrored identities and services the admin message
// set. It never initiates application traffic.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/luxfi/fix/pkg/fix"
	"github.com/luxfi/fix/pkg/transport"
)

// Config holds simulator settings. Port 0 binds an ephemeral port.
type Config struct {
	TCPPort int
	WSPort  int

	// EnableWS opens the WebSocket endpoint alongside TCP.
	EnableWS bool

	// TestRequestPeriod spaces unsolicited TestRequests to authenticated
	// peers; zero disables them.
	TestRequestPeriod time.Duration
}

// Server accepts and services counterparty-side sessions.
type Server struct {
	cfg    Config
	codec  *fix.Codec
	logger log.Logger

	peers   map[*peer]bool
	peersMu sync.Mutex

	framesIn  uint64
	framesOut uint64
	peerCount int32
	testReqN  uint64

	tcpListener net.Listener
	wsListener  net.Listener
	httpServer  *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// peer is one connected session, seen from the exchange side.
type peer struct {
	mu     sync.Mutex
	tr     transport.Transport
	sender string
	target string
	seqNum uint64
	authed bool
	rbuf   []byte
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewServer(cfg Config, logger log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		codec:  fix.NewCodec(logger),
		logger: logger,
		peers:  make(map[*peer]bool),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start opens the listeners and begins accepting sessions.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.TCPPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.tcpListener = ln
	s.logger.Info("Exchange simulator listening", "transport", "tcp", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ln)

	if s.cfg.EnableWS {
		wsLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.WSPort))
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen for websocket: %w", err)
		}
		s.wsListener = wsLn

		mux := http.NewServeMux()
		mux.HandleFunc("/", s.handleWebSocket)
		mux.HandleFunc("/health", s.handleHealth)

		s.httpServer = &http.Server{
			Handler:     mux,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("Exchange simulator listening",
				"transport", "ws", "addr", wsLn.Addr().String())
			if err := s.httpServer.Serve(wsLn); err != nil && err != http.ErrServerClosed {
				s.logger.Error("WebSocket server error", "error", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.runStats()

	if s.cfg.TestRequestPeriod > 0 {
		s.wg.Add(1)
		go s.runTestRequests()
	}

	return nil
}

// TCPPort returns the bound TCP port.
func (s *Server) TCPPort() int {
	return s.tcpListener.Addr().(*net.TCPAddr).Port
}

// WSPort returns the bound WebSocket port.
func (s *Server) WSPort() int {
	return s.wsListener.Addr().(*net.TCPAddr).Port
}

// Stop closes the listeners, hangs up every peer and waits for the
// goroutines to finish.
func (s *Server) Stop() {
	s.logger.Info("Stopping exchange simulator")
	s.cancel()

	if s.tcpListener != nil {
		s.tcpListener.Close()
	}
	if s.httpServer != nil {
		s.httpServer.Shutdown(context.Background())
	}

	s.peersMu.Lock()
	for p := range s.peers {
		p.tr.Close()
	}
	s.peersMu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.logger.Error("Accept failed", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go s.servePeer(transport.WrapConn(conn))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	s.wg.Add(1)
	go s.servePeer(transport.WrapWebSocket(conn))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"peers":     atomic.LoadInt32(&s.peerCount),
		"framesIn":  atomic.LoadUint64(&s.framesIn),
		"framesOut": atomic.LoadUint64(&s.framesOut),
	})
}

func (s *Server) servePeer(tr transport.Transport) {
	defer s.wg.Done()

	p := &peer{tr: tr, seqNum: 1}

	s.peersMu.Lock()
	s.peers[p] = true
	s.peersMu.Unlock()
	total := atomic.AddInt32(&s.peerCount, 1)
	s.logger.Info("Peer connected", "remote", tr.RemoteAddr(), "total", total)

	defer func() {
		s.peersMu.Lock()
		delete(s.peers, p)
		s.peersMu.Unlock()
		atomic.AddInt32(&s.peerCount, -1)
		tr.Close()
		s.logger.Info("Peer disconnected", "remote", tr.RemoteAddr())
	}()

	buf := make([]byte, 4096)
	for {
		n, err := tr.Read(buf)
		if n > 0 {
			if ended := s.consume(p, buf[:n]); ended {
				return
			}
		}
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.logger.Debug("Peer read ended", "remote", tr.RemoteAddr(), "error", err)
			}
			return
		}
	}
}

// consume runs every complete frame through the responder and reports
// whether the peer ended the session.
func (s *Server) consume(p *peer, chunk []byte) bool {
	p.rbuf = append(p.rbuf, chunk...)
	msgs, used := s.codec.Split(p.rbuf)
	if used > 0 {
		p.rbuf = append(p.rbuf[:0], p.rbuf[used:]...)
	}

	for _, msg := range msgs {
		atomic.AddUint64(&s.framesIn, 1)
		if ended := s.respond(p, msg); ended {
			return true
		}
	}
	return false
}

func (s *Server) respond(p *peer, msg *fix.Message) bool {
	switch msg.Type {
	case fix.MsgTypeLogon:
		// Mirror the identities so the client's auth check passes.
		p.mu.Lock()
		p.sender, p.target = msg.Target, msg.Sender
		p.authed = true
		p.mu.Unlock()
		s.reply(p, fix.MsgTypeLogon, "")
		s.logger.Info("Peer authenticated",
			"sender", msg.Sender, "target", msg.Target, "seqNum", msg.SeqNum)

	case fix.MsgTypeTestRequest:
		s.reply(p, fix.MsgTypeHeartbeat, msg.TestReqID)

	case fix.MsgTypeResendRequest:
		// Admin-only history, nothing to replay.
		begin, _ := msg.Get(fix.TagBeginSeqNo)
		end, _ := msg.Get(fix.TagEndSeqNo)
		s.logger.Info("Resend requested", "beginSeqNo", begin, "endSeqNo", end)

	case fix.MsgTypeLogout:
		s.reply(p, fix.MsgTypeLogout, "")
		return true

	case fix.MsgTypeHeartbeat:
	default:
		s.logger.Debug("Ignoring message", "type", msg.TypeName())
	}
	return false
}

func (s *Server) reply(p *peer, typ fix.MsgType, testReqID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.authed {
		return
	}

	out, err := s.codec.Encode(typ, p.seqNum, p.sender, p.target, "", testReqID)
	if err != nil {
		s.logger.Error("Encode failed", "type", typ.Name(), "error", err)
		return
	}
	p.seqNum++

	if _, err := p.tr.Write(out.Raw); err != nil {
		s.logger.Warn("Write failed", "remote", p.tr.RemoteAddr(), "error", err)
		return
	}
	atomic.AddUint64(&s.framesOut, 1)
}

// runTestRequests probes every authenticated peer on a fixed period.
func (s *Server) runTestRequests() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TestRequestPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			id := fmt.Sprintf("EXCH-%d", atomic.AddUint64(&s.testReqN, 1))

			s.peersMu.Lock()
			targets := make([]*peer, 0, len(s.peers))
			for p := range s.peers {
				targets = append(targets, p)
			}
			s.peersMu.Unlock()

			for _, p := range targets {
				s.reply(p, fix.MsgTypeTestRequest, id)
			}
		}
	}
}

func (s *Server) runStats() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.logger.Debug("Simulator stats",
				"peers", atomic.LoadInt32(&s.peerCount),
				"framesIn", atomic.LoadUint64(&s.framesIn),
				"framesOut", atomic.LoadUint64(&s.framesOut))
		}
	}
}
