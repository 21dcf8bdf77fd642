// Package client drives one FIX session end to end: dial, logon handshake,
// steady-state event loop, and graceful termination with sequence-number
// persistence. A single loop goroutine owns the session; one reader goroutine
// feeds it raw chunks from the transport.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/fix/pkg/fix"
	"github.com/luxfi/fix/pkg/metrics"
	"github.com/luxfi/fix/pkg/seqstore"
	"github.com/luxfi/fix/pkg/session"
	"github.com/luxfi/fix/pkg/transport"
)

// Process exit codes. ExitError covers every fatal condition other than an
// outright refused connection.
const (
	ExitOK          = 0
	ExitConnRefused = 1
	ExitError       = 2
)

const (
	// shutdownTimeout bounds the wait for in-flight I/O at termination. The
	// wait is advisory: when it elapses, close and persist proceed anyway.
	shutdownTimeout = 10 * time.Second

	readBufferSize = 4096
)

// Config collects everything a session process needs.
type Config struct {
	Transport transport.Config
	Session   session.Config

	// Username is recorded for the session; a non-empty value makes the CLI
	// prompt for Password before the client is built.
	Username string
	Password string

	// NATSURL, when set, mirrors every inbound frame to a NATS subject.
	NATSURL string
}

// Client is the session lifecycle manager.
type Client struct {
	cfg     Config
	logger  log.Logger
	codec   *fix.Codec
	store   *seqstore.Store
	metrics *metrics.SessionMetrics

	sess *session.Session
	tr   transport.Transport
	nc   *nats.Conn

	subject string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	exiting atomic.Bool

	rbuf []byte
}

// New resolves the starting sequence number against the store, builds the
// session (which queues the initial Logon) and connects the optional mirror.
// The transport is not dialed until Run.
func New(cfg Config, store *seqstore.Store, m *metrics.SessionMetrics, logger log.Logger) (*Client, error) {
	codec := fix.NewCodec(logger)
	cfg.Session.Modes = cfg.Session.Modes.Normalize()

	startSeq := cfg.Session.SeqNum
	if startSeq == 0 {
		startSeq = store.Load(cfg.Session.Sender, cfg.Session.Target, time.Now())
		if startSeq == 1 {
			m.RecordSequenceReset()
		}
	} else {
		logger.Info("sequence number overridden", "seqNum", startSeq)
	}

	sess, err := session.New(cfg.Session, startSeq, codec, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		codec:   codec,
		store:   store,
		metrics: m,
		sess:    sess,
		subject: fmt.Sprintf("fix.session.%s.%s", cfg.Session.Sender, cfg.Session.Target),
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect mirror: %w", err)
		}
		c.nc = nc
		logger.Info("inbound mirror connected", "url", cfg.NATSURL, "subject", c.subject)
	}

	return c, nil
}

// Run drives the session until termination and returns the process exit
// code. The caller's context cancels the event loop (signal handling lives
// in the caller), and the caller keeps ownership of the store: it stays
// open after Run returns.
func (c *Client) Run(parent context.Context) int {
	ctx, cancel := context.WithCancel(parent)
	c.ctx, c.cancel = ctx, cancel
	defer cancel()
	if c.nc != nil {
		defer c.nc.Close()
	}

	tr, err := transport.Dial(ctx, c.cfg.Transport, c.logger)
	if err != nil {
		if transport.IsConnRefused(err) {
			// Nothing was ever established and nothing is persisted.
			c.logger.Error("connection refused", "error", err)
			return ExitConnRefused
		}
		c.logger.Error("transport failed",
			"error", err, "host", c.cfg.Transport.Host, "port", c.cfg.Transport.Port)
		c.persist()
		return ExitError
	}
	c.tr = tr
	c.sess.Connected()
	c.metrics.SetConnected(true)
	c.logger.Info("session started",
		"sender", c.sess.Sender(), "target", c.sess.Target(),
		"modes", c.cfg.Session.Modes, "remote", tr.RemoteAddr())

	// Push the queued Logon before anything else.
	if err := c.flush(); err != nil {
		c.logger.Error("failed to send logon", "error", err)
		return c.shutdown(ExitError)
	}

	readCh := make(chan []byte, 16)
	errCh := make(chan error, 1)
	c.wg.Add(1)
	go c.readLoop(readCh, errCh)

	ticker := time.NewTicker(fix.HeartBtIntSeconds * time.Second)
	defer ticker.Stop()

	status := ExitOK
	running := true
	for running {
		select {
		case <-ctx.Done():
			c.logger.Info("shutdown requested")
			running = false

		case chunk := <-readCh:
			if err := c.handleChunk(chunk); err != nil {
				c.logger.Error("failed to send response", "error", err)
				status = ExitError
				running = false
				break
			}
			if c.logoutComplete() {
				c.logger.Info("logout exchange complete")
				running = false
			}

		case err := <-errCh:
			status = c.classifyReadError(err)
			running = false

		case <-ticker.C:
			if !c.cfg.Session.Modes.Has(session.ModeKeepalive) {
				continue
			}
			if err := c.sess.SendHeartbeat(); err != nil {
				c.logger.Error("failed to queue heartbeat", "error", err)
				continue
			}
			if err := c.flush(); err != nil {
				c.logger.Error("failed to send heartbeat", "error", err)
				status = ExitError
				running = false
			}
		}
	}

	return c.shutdown(status)
}

// readLoop feeds raw chunks to the event loop. No new read is initiated once
// the exiting flag is set.
func (c *Client) readLoop(readCh chan<- []byte, errCh chan<- error) {
	defer c.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		if c.exiting.Load() {
			return
		}
		n, err := c.tr.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case readCh <- chunk:
			case <-c.ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case errCh <- err:
			case <-c.ctx.Done():
			}
			return
		}
	}
}

// handleChunk appends one read to the accumulator, extracts every complete
// frame, advances the state machine per frame in order, and writes whatever
// the session queued in response. Unconsumed trailing bytes stay buffered for
// the next read.
func (c *Client) handleChunk(chunk []byte) error {
	c.rbuf = append(c.rbuf, chunk...)

	msgs, consumed := c.codec.Split(c.rbuf)
	for _, msg := range msgs {
		c.metrics.RecordFrameIn(len(msg.Raw))
		c.logger.Debug("frame decoded", "dump", "\n"+msg.Render())

		before := c.sess.QueueLen()
		c.sess.Handle(msg)
		for i := c.sess.QueueLen() - before; i > 0; i-- {
			c.metrics.RecordAutoResponse()
		}

		if c.sess.Authenticated() {
			c.metrics.SetAuthenticated(true)
		}
		c.mirror(msg)
	}
	if consumed > 0 {
		c.rbuf = append(c.rbuf[:0], c.rbuf[consumed:]...)
	}

	return c.flush()
}

// flush writes every queued outbound frame in enqueue order.
func (c *Client) flush() error {
	for _, frame := range c.sess.Drain() {
		if _, err := c.tr.Write(frame); err != nil {
			return err
		}
		c.metrics.RecordFrameOut(len(frame))
	}
	c.metrics.SetQueueDepth(c.sess.QueueLen())
	return nil
}

func (c *Client) mirror(msg *fix.Message) {
	if c.nc == nil {
		return
	}
	if err := c.nc.Publish(c.subject, msg.Raw); err != nil {
		c.logger.Warn("mirror publish failed", "error", err)
	}
}

func (c *Client) logoutComplete() bool {
	return c.cfg.Session.Modes.Has(session.ModeLogout) && c.sess.PeerLoggedOut()
}

func (c *Client) classifyReadError(err error) int {
	if errors.Is(err, io.EOF) && c.sess.PeerLoggedOut() {
		c.logger.Info("counterparty closed after logout")
		return ExitOK
	}
	c.logger.Error("transport error",
		"error", err, "remote", c.tr.RemoteAddr(),
		"state", c.sess.State(), "buffered", len(c.rbuf))
	return ExitError
}

// shutdown drains outbound frames, closes the transport, waits a bounded
// time for the reader to finish, then persists the sequence number. The
// timeout never blocks termination.
func (c *Client) shutdown(status int) int {
	c.exiting.Store(true)
	c.sess.Exit()

	if err := c.flush(); err != nil {
		c.logger.Warn("final flush failed", "error", err)
	}

	c.cancel()
	c.tr.Close()
	c.metrics.SetConnected(false)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		c.logger.Warn("timed out waiting for in-flight I/O")
	}

	c.sess.Close()
	c.persist()
	c.logger.Info("session closed", "status", status, "nextSeqNum", c.sess.SeqNum())
	return status
}

// persist writes the sequence record; failures are surfaced in the log but
// never block termination.
func (c *Client) persist() {
	if err := c.store.Save(c.sess.Sender(), c.sess.Target(), c.sess.SeqNum(), time.Now()); err != nil {
		c.logger.Error("failed to persist session state", "error", err)
	}
}
