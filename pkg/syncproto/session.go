package syncproto

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/notesync/pkg/metrics"
	"github.com/astromechza/notesync/pkg/notes"
	"github.com/astromechza/notesync/pkg/registry"
)

type State int32

const (
	StateConnecting State = iota
	StateValidatingID
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateValidatingID:
		return "validating-id"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CloseReasonInvalidID is sent with a policy-violation close frame when the note id is rejected.
const CloseReasonInvalidID = "invalid note id"

type SessionOptions struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

// Session is one streaming connection attached to one note.
type Session struct {
	id     string
	noteID string
	conn   *websocket.Conn
	h      *Handler
	opts   SessionOptions
	logger *slog.Logger

	state     atomic.Int32
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (h *Handler) NewSession(conn *websocket.Conn, noteID string, opts SessionOptions) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:     id,
		noteID: noteID,
		conn:   conn,
		h:      h,
		opts:   opts,
		logger: h.logger.With("session", id, "note", noteID),
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (s *Session) SessionID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Send queues msg for the writer. A session that can not keep up is closed rather than allowed to fall behind.
func (s *Session) Send(msg []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("%w: session %s is closed", registry.ErrDelivery, s.id)
	default:
	}
	select {
	case s.send <- msg:
		return nil
	default:
		s.logger.Warn("closing subscriber with full send buffer", "buffer", cap(s.send))
		s.close()
		return fmt.Errorf("%w: session %s send buffer is full", registry.ErrDelivery, s.id)
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) closeWith(code int, reason string) {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.opts.WriteTimeout),
	)
	s.close()
}

// Serve runs the connection until the peer goes away, a write fails, or ctx is done. The subscription is always
// released before Serve returns.
func (s *Session) Serve(ctx context.Context) error {
	s.state.Store(int32(StateValidatingID))
	if err := notes.ValidateID(s.noteID); err != nil {
		metrics.Rejections.WithLabelValues("invalid_identifier").Inc()
		s.closeWith(websocket.ClosePolicyViolation, CloseReasonInvalidID)
		s.state.Store(int32(StateClosed))
		return err
	}

	defer func() {
		s.h.subs.Leave(s.noteID, s)
		s.close()
		s.state.Store(int32(StateClosed))
		s.logger.Info("subscriber left")
	}()
	if _, err := s.h.pushContent(s.noteID, s, true); err != nil {
		return fmt.Errorf("failed to send initial content: %w", err)
	}
	s.state.Store(int32(StateJoined))
	s.logger.Info("subscriber joined")

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx)
	}()

	s.readLoop()
	s.close()
	wg.Wait()
	return nil
}

func (s *Session) readLoop() {
	for {
		_, p, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("read failed", "err", err)
			}
			return
		}
		s.handleMessage(p)
	}
}

func (s *Session) handleMessage(p []byte) {
	in, err := DecodeInbound(p)
	if err != nil {
		metrics.Rejections.WithLabelValues("malformed_message").Inc()
		s.logger.Warn("ignoring malformed message", "err", err)
		return
	}

	switch in.Type {
	case TypeGetContent:
		if _, err := s.h.pushContent(s.noteID, s, false); err != nil {
			s.logger.Debug("failed to answer get_content", "err", err)
		}
	case TypeContentUpdate:
		content, err := DecodeContent(in.Content)
		if err != nil {
			metrics.Rejections.WithLabelValues("invalid_payload").Inc()
			s.logger.Warn("rejecting update", "err", err)
			s.sendError(err)
			return
		}
		if _, err := s.h.Update(s.noteID, content, s.id); err != nil {
			s.logger.Error("failed to apply update", "err", err)
			s.sendError(err)
			return
		}
		metrics.Updates.WithLabelValues("stream").Inc()
	}
}

func (s *Session) sendError(cause error) {
	msg, err := encode(ErrorMessage{Type: TypeError, Error: cause.Error()})
	if err != nil {
		return
	}
	if err := s.Send(msg); err != nil {
		s.logger.Debug("failed to queue error", "err", err)
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("write failed", "err", err)
				s.close()
				return
			}
		case <-t.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				s.logger.Debug("ping failed", "err", err)
				s.close()
				return
			}
		case <-ctx.Done():
			s.closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		case <-s.done:
			return
		}
	}
}
