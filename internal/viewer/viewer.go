// Package viewer implements the Viewer Session: the per-connection state
// machine that sits between one websocket client and the session's
// shared Broadcast Hub, Input Merger, and Size Negotiator.
//
// A session moves through four states: Handshaking (the websocket is
// accepted but no frame has been exchanged yet), Active (decoding input
// and streaming output), Draining (the server has decided to close the
// connection and is giving the client a short window to receive
// whatever is already queued), and Closed.
package viewer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"ptyshare/internal/hub"
	"ptyshare/internal/merger"
	"ptyshare/internal/sizenego"
	"ptyshare/internal/wire"
)

// State is one of the four viewer lifecycle states.
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason classifies why a viewer session ended, for logging and for
// the Session Controller's own bookkeeping.
type CloseReason int

const (
	CloseClientDisconnect CloseReason = iota
	CloseProtocolError
	CloseSlowConsumer
	CloseServerShutdown
)

func (r CloseReason) String() string {
	switch r {
	case CloseClientDisconnect:
		return "client disconnect"
	case CloseProtocolError:
		return "protocol error"
	case CloseSlowConsumer:
		return "slow consumer"
	case CloseServerShutdown:
		return "server shutdown"
	default:
		return "unknown"
	}
}

// writeDeadline bounds a single outbound frame write. A viewer that
// cannot absorb one frame within this window is treated as a slow
// consumer and closed, independent of the hub's own backpressure bound.
const writeDeadline = 2 * time.Second

// drainDeadline bounds how long a Draining session waits for the client
// to read its last frames before the connection is forced closed.
const drainDeadline = 500 * time.Millisecond

// Conn is the subset of *websocket.Conn the viewer session needs. It is
// an interface so tests can drive the state machine without a real
// socket.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Merger is the subset of merger.Merger the viewer needs.
type Merger interface {
	Submit(ctx context.Context, data []byte, viewerReadOnly bool) error
}

// Negotiator is the subset of sizenego.Negotiator the viewer needs.
type Negotiator interface {
	ApplyClientResize(cols, rows int) (bool, error)
}

var (
	_ Merger     = (*merger.Merger)(nil)
	_ Negotiator = (*sizenego.Negotiator)(nil)
	_ Conn       = (*websocket.Conn)(nil)
)

// Logger is the narrow logging surface the viewer needs, satisfied by
// *slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

// Session is one client's connection into a shared PTY session.
type Session struct {
	ID       string
	conn     Conn
	sub      *hub.Subscription
	merger   Merger
	negotiator Negotiator
	log      Logger

	readOnly atomic.Bool
	state    atomic.Int32

	ctrl chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	reason    CloseReason
}

// New creates a viewer session. readOnly is this viewer's own write
// permission, independent of the session-wide read-only flag the Input
// Merger separately enforces.
func New(id string, conn Conn, sub *hub.Subscription, m Merger, neg Negotiator, log Logger, readOnly bool) *Session {
	s := &Session{
		ID:         id,
		conn:       conn,
		sub:        sub,
		merger:     m,
		negotiator: neg,
		log:        log,
		ctrl:       make(chan []byte, 8),
		closed:     make(chan struct{}),
	}
	s.readOnly.Store(readOnly)
	s.state.Store(int32(StateHandshaking))
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Send enqueues a pre-encoded control frame (the initial WinSize,
// ReadOnly, and Headless messages, or a later WinSize broadcast) for
// delivery to this viewer.
// It never blocks: if the control channel is full the frame is dropped,
// on the assumption a subsequent broadcast will supersede it.
func (s *Session) Send(frame []byte) {
	select {
	case s.ctrl <- frame:
	default:
	}
}

// Closed returns a channel closed once the session has fully shut down.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// Reason returns why the session closed. Only meaningful after Closed()
// has fired.
func (s *Session) Reason() CloseReason { return s.reason }

// Shutdown asks the session to close for reason r, entering Draining
// first so any already-queued output reaches the client.
func (s *Session) Shutdown(r CloseReason) {
	s.drain(r)
}

// Run drives the session until ctx is cancelled or the connection ends.
// It returns once both the inbound and outbound loops have exited.
func (s *Session) Run(ctx context.Context) {
	s.state.Store(int32(StateActive))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.inboundLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.outboundLoop(ctx)
	}()
	wg.Wait()

	s.finish()
}

func (s *Session) inboundLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.setReason(CloseClientDisconnect)
			return
		}
		if err := s.handleFrame(ctx, data); err != nil {
			var pe *wire.ProtocolError
			if errors.As(err, &pe) {
				s.setReason(CloseProtocolError)
				_ = s.conn.Close(websocket.StatusUnsupportedData, pe.Error())
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("viewer input error", "viewer", s.ID, "err", err)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	switch env.Type {
	case wire.TypeWrite:
		raw, err := wire.DecodeWrite(env)
		if err != nil {
			return err
		}
		if err := s.merger.Submit(ctx, raw, s.readOnly.Load()); err != nil {
			if errors.Is(err, merger.ErrReadOnly) {
				return nil
			}
			return err
		}
		return nil
	case wire.TypeWinSize:
		ws, err := wire.DecodeWinSize(env)
		if err != nil {
			return err
		}
		if s.readOnly.Load() {
			return nil
		}
		_, err = s.negotiator.ApplyClientResize(ws.Cols, ws.Rows)
		return err
	default:
		s.log.Warn("dropping unknown frame type", "viewer", s.ID, "type", env.Type)
		return nil
	}
}

func (s *Session) outboundLoop(ctx context.Context) {
	for {
		// Queued control frames go out ahead of hub output, so the initial
		// WinSize/ReadOnly/Headless messages precede any output frame.
		select {
		case frame := <-s.ctrl:
			if err := s.writeWithDeadline(ctx, frame); err != nil {
				s.setReason(CloseClientDisconnect)
				return
			}
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-s.sub.Evicted():
			s.setReason(CloseSlowConsumer)
			_ = s.conn.Close(websocket.StatusPolicyViolation, CloseSlowConsumer.String())
			return
		case frame, ok := <-s.sub.Frames():
			if !ok {
				return
			}
			n := len(frame)
			encoded, err := wire.EncodeWrite(frame)
			s.sub.Ack(n)
			if err != nil {
				s.log.Warn("encode output frame", "viewer", s.ID, "err", err)
				continue
			}
			if err := s.writeWithDeadline(ctx, encoded); err != nil {
				s.setReason(CloseSlowConsumer)
				return
			}
		case frame := <-s.ctrl:
			if err := s.writeWithDeadline(ctx, frame); err != nil {
				s.setReason(CloseClientDisconnect)
				return
			}
		}
	}
}

func (s *Session) writeWithDeadline(ctx context.Context, payload []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeDeadline)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageText, payload)
}

// drain transitions Active -> Draining -> Closed, giving the client up
// to drainDeadline to read whatever the outbound loop still has queued
// before the connection is forced shut.
func (s *Session) drain(r CloseReason) {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateDraining)) {
		return
	}
	s.setReason(r)
	time.AfterFunc(drainDeadline, func() {
		_ = s.conn.Close(websocket.StatusNormalClosure, r.String())
	})
}

func (s *Session) setReason(r CloseReason) {
	s.closeOnce.Do(func() {
		s.reason = r
	})
}

func (s *Session) finish() {
	s.state.Store(int32(StateClosed))
	close(s.closed)
}
