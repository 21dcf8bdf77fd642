// Package session implements the protocol state machine for one FIX session:
// sequence-number bookkeeping, the logon handshake, and the automatic
// responses selected by the operating modes. It owns no I/O; the lifecycle
// manager feeds it decoded inbound messages and drains its outbound queue.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/fix/pkg/fix"
)

var (
	ErrInvalidConfig = errors.New("invalid session config")
	ErrUnknownMode   = errors.New("unknown session mode")
)

// Mode toggles automatic session behavior after authentication.
type Mode uint8

const (
	// ModeDormant keeps the session connected without automatic responses.
	ModeDormant Mode = 1 << iota
	// ModeKeepalive answers TestRequest with a Heartbeat and sends periodic
	// Heartbeats of its own.
	ModeKeepalive
	// ModeGapfill requests full retransmission once authenticated.
	ModeGapfill
	// ModeLogout sends a Logout once authenticated.
	ModeLogout
)

func (m Mode) Has(flag Mode) bool { return m&flag != 0 }

// Normalize applies the default: dormant is implied whenever none of
// logout, keepalive or dormant was selected.
func (m Mode) Normalize() Mode {
	if m&(ModeLogout|ModeKeepalive|ModeDormant) == 0 {
		return m | ModeDormant
	}
	return m
}

func (m Mode) String() string {
	var names []string
	for _, e := range []struct {
		flag Mode
		name string
	}{
		{ModeDormant, "dormant"},
		{ModeKeepalive, "keepalive"},
		{ModeGapfill, "gapfill"},
		{ModeLogout, "logout"},
	} {
		if m.Has(e.flag) {
			names = append(names, e.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseMode maps a CLI mode selector to its flag.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dormant":
		return ModeDormant, nil
	case "keepalive":
		return ModeKeepalive, nil
	case "gapfill":
		return ModeGapfill, nil
	case "logout":
		return ModeLogout, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// State is the session lifecycle position.
type State int

const (
	StateConnecting State = iota
	StateAwaitingLogonAck
	StateAuthenticated
	StateExiting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingLogonAck:
		return "awaiting-logon-ack"
	case StateAuthenticated:
		return "authenticated"
	case StateExiting:
		return "exiting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config identifies the two session participants and selects behavior.
type Config struct {
	Sender    string
	Target    string
	SenderSub string

	// SeqNum overrides the persisted starting sequence number when non-zero.
	SeqNum uint64

	Modes Mode
}

func (c *Config) Validate() error {
	if c.Sender == "" {
		return fmt.Errorf("%w: sender required", ErrInvalidConfig)
	}
	if c.Target == "" {
		return fmt.Errorf("%w: target required", ErrInvalidConfig)
	}
	return nil
}

// Session is the protocol state machine. All methods are safe for concurrent
// use, though the lifecycle manager drives it from a single loop.
type Session struct {
	mu    sync.Mutex
	cfg   Config
	codec *fix.Codec
	log   log.Logger

	state         State
	seqNum        uint64
	authenticated bool
	peerLoggedOut bool
	lastInSeq     uint64
	outbound      [][]byte

	messagesIn    metric.Counter
	messagesOut   metric.Counter
	autoResponses metric.Counter
}

// New builds the state machine with the given starting sequence number
// (already resolved against the persisted record) and immediately queues the
// initial Logon.
func New(cfg Config, startSeq uint64, codec *fix.Codec, logger log.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if startSeq == 0 {
		startSeq = 1
	}

	s := &Session{
		cfg:           cfg,
		codec:         codec,
		log:           logger,
		state:         StateConnecting,
		seqNum:        startSeq,
		messagesIn:    metric.NewCounter("fix_session_messages_in"),
		messagesOut:   metric.NewCounter("fix_session_messages_out"),
		autoResponses: metric.NewCounter("fix_session_auto_responses"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(fix.MsgTypeLogon, ""); err != nil {
		return nil, err
	}
	return s, nil
}

// send builds one outbound message, advances the sequence counter by exactly
// one and appends the frame to the queue. Callers hold s.mu.
func (s *Session) send(typ fix.MsgType, testReqID string) error {
	msg, err := s.codec.Encode(typ, s.seqNum, s.cfg.Sender, s.cfg.Target, s.cfg.SenderSub, testReqID)
	if err != nil {
		return err
	}
	s.seqNum++
	s.outbound = append(s.outbound, msg.Raw)
	s.messagesOut.Inc()
	s.log.Debug("queued outbound",
		"type", msg.TypeName(), "seqNum", msg.SeqNum, "dump", "\n"+msg.Render())
	return nil
}

// Connected marks the transport as established.
func (s *Session) Connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.state = StateAwaitingLogonAck
	}
}

// Handle advances the state machine on one decoded inbound message. Reactions
// are queued before Handle returns, so responses keep the order of the reads
// that caused them.
func (s *Session) Handle(msg *fix.Message) {
	if msg == nil || !msg.Inbound {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messagesIn.Inc()
	s.trackInbound(msg)

	if s.state == StateExiting || s.state == StateClosed {
		s.log.Debug("inbound during shutdown", "type", msg.TypeName(), "seqNum", msg.SeqNum)
		return
	}

	if !s.authenticated {
		if msg.Type == fix.MsgTypeLogon && msg.Sender == s.cfg.Target && msg.Target == s.cfg.Sender {
			s.authenticated = true
			s.state = StateAuthenticated
			s.log.Info("session authenticated",
				"sender", msg.Sender, "target", msg.Target, "seqNum", msg.SeqNum)

			if s.cfg.Modes.Has(ModeGapfill) {
				if err := s.send(fix.MsgTypeResendRequest, ""); err != nil {
					s.log.Error("failed to queue resend request", "error", err)
				} else {
					s.autoResponses.Inc()
				}
			}
			if s.cfg.Modes.Has(ModeLogout) {
				if err := s.send(fix.MsgTypeLogout, ""); err != nil {
					s.log.Error("failed to queue logout", "error", err)
				} else {
					s.autoResponses.Inc()
				}
			}
			return
		}
		s.log.Debug("inbound before authentication",
			"type", msg.TypeName(), "sender", msg.Sender, "target", msg.Target)
		return
	}

	switch msg.Type {
	case fix.MsgTypeTestRequest:
		if !s.cfg.Modes.Has(ModeKeepalive) {
			s.log.Debug("test request ignored", "modes", s.cfg.Modes)
			return
		}
		if err := s.send(fix.MsgTypeHeartbeat, msg.TestReqID); err != nil {
			s.log.Error("failed to queue heartbeat", "error", err)
			return
		}
		s.autoResponses.Inc()
	case fix.MsgTypeLogout:
		s.peerLoggedOut = true
		text, _ := msg.Get(fix.TagText)
		s.log.Info("counterparty logout", "text", text, "seqNum", msg.SeqNum)
	default:
		s.log.Debug("no automatic response", "type", msg.TypeName(), "seqNum", msg.SeqNum)
	}
}

func (s *Session) trackInbound(msg *fix.Message) {
	if msg.SeqNum == 0 {
		return
	}
	if s.lastInSeq > 0 && msg.SeqNum != s.lastInSeq+1 {
		s.log.Warn("inbound sequence gap",
			"expected", s.lastInSeq+1, "got", msg.SeqNum)
	}
	s.lastInSeq = msg.SeqNum
}

// SendHeartbeat queues an unsolicited Heartbeat. Used by the keepalive timer;
// a no-op unless the session is authenticated.
func (s *Session) SendHeartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return nil
	}
	return s.send(fix.MsgTypeHeartbeat, "")
}

// Drain removes and returns all queued outbound frames in enqueue order.
func (s *Session) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outbound
	s.outbound = nil
	return out
}

// Exit moves the session into the exiting state; no further automatic
// responses are produced.
func (s *Session) Exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = StateExiting
	}
}

// Close marks the session terminated.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// PeerLoggedOut reports whether the counterparty sent a Logout.
func (s *Session) PeerLoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerLoggedOut
}

// SeqNum is the next outbound sequence number. This is the value persisted at
// termination.
func (s *Session) SeqNum() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seqNum
}

// QueueLen reports how many outbound frames await transmission.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbound)
}

// Sender and Target expose the configured identities for persistence.
func (s *Session) Sender() string { return s.cfg.Sender }

func (s *Session) Target() string { return s.cfg.Target }
