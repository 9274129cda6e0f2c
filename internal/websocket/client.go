package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johndosdos/relay/internal/model"
)

const writeTimeout = 10 * time.Second

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrMalformedFrame   = errors.New("websocket: malformed frame")
	ErrIdentityMismatch = errors.New("websocket: frame user id does not match session")
	ErrRateLimited      = errors.New("websocket: message rate limit exceeded")
	ErrSessionClosed    = errors.New("websocket: session closed")
)

// Session is one live connection bound to a verified user.
type Session struct {
	ID         uuid.UUID
	UserID     int64
	Username   string
	conn       *websocket.Conn
	hub        *Hub
	MessageCh  chan model.OutboundFrame
	messageLim *rate.Limiter
	state      atomic.Int32
	done       chan struct{}
	closeOnce  sync.Once
}

// NewSession wraps an accepted connection. The session stays Connecting
// until a Hub admits it.
func NewSession(conn *websocket.Conn, userID int64, username string) *Session {
	return &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Username:  username,
		conn:      conn,
		MessageCh: make(chan model.OutboundFrame, 64),
		done:      make(chan struct{}),
	}
}

func (s *Session) SetMessageLimiter(requests int, window time.Duration) {
	s.messageLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session reaches the Closed state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

// WriteMessage delivers outbound frames to the connection until the session
// closes or ctx ends.
func (s *Session) WriteMessage(ctx context.Context) {
	for {
		select {
		case frame := <-s.MessageCh:
			p, err := json.Marshal(frame)
			if err != nil {
				slog.ErrorContext(ctx, "failed to encode outbound frame",
					"error", err,
					"session_id", s.ID.String())
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = s.conn.Write(writeCtx, websocket.MessageText, p)
			cancel()
			if err != nil {
				slog.WarnContext(ctx, "failed to write outbound frame",
					"error", err,
					"session_id", s.ID.String(),
					"user_id", s.UserID)
				continue
			}

		case <-s.done:
			s.conn.Close(websocket.StatusNormalClosure, "session closed")
			return

		case <-ctx.Done():
			s.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}

func (s *Session) deliver(ctx context.Context, frame model.OutboundFrame) error {
	select {
	case s.MessageCh <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
