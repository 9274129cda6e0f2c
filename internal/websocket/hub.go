package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/relay"
)

// ErrHubStopped is returned by Admit once Run has returned.
var ErrHubStopped = errors.New("websocket: hub stopped")

// MessageLog is the part of the store a session writes to.
type MessageLog interface {
	AppendMessage(ctx context.Context, userID int64, content string, origin model.Origin) (model.Message, error)
}

type sanitizer interface {
	Sanitize(s string) string
}

type Registration struct {
	Session *Session
	Done    chan struct{}
}

// Hub is the session registry. It owns the set of live sessions and the
// collaborators every session uses to process frames.
type Hub struct {
	log       MessageLog
	policy    relay.Policy
	sanitizer sanitizer

	msgRequests int
	msgWindow   time.Duration

	sessions   map[uuid.UUID]*Session
	Register   chan Registration
	Unregister chan *Session
	stopped    chan struct{}
	active     atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithPolicy replaces the default echo policy.
func WithPolicy(p relay.Policy) Option {
	return func(h *Hub) { h.policy = p }
}

// WithSanitizer cleans inbound content before it is stored or relayed.
func WithSanitizer(s sanitizer) Option {
	return func(h *Hub) { h.sanitizer = s }
}

// WithMessageLimit caps how many frames a single session may send per
// window. Zero requests disables the limit.
func WithMessageLimit(requests int, window time.Duration) Option {
	return func(h *Hub) {
		h.msgRequests = requests
		h.msgWindow = window
	}
}

// NewHub returns a new instance of Hub.
func NewHub(log MessageLog, opts ...Option) *Hub {
	h := &Hub{
		log:        log,
		policy:     relay.Echo,
		sessions:   make(map[uuid.UUID]*Session),
		Register:   make(chan Registration),
		Unregister: make(chan *Session),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run manages session admission and teardown until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case reg := <-h.Register:
			s := reg.Session
			h.sessions[s.ID] = s
			h.active.Store(int64(len(h.sessions)))
			s.state.Store(int32(StateOpen))
			close(reg.Done)

			slog.InfoContext(ctx, "session admitted",
				"session_id", s.ID.String(),
				"user_id", s.UserID,
				"active", len(h.sessions))

		case s := <-h.Unregister:
			if _, ok := h.sessions[s.ID]; ok {
				delete(h.sessions, s.ID)
				h.active.Store(int64(len(h.sessions)))

				slog.InfoContext(ctx, "session removed",
					"session_id", s.ID.String(),
					"user_id", s.UserID,
					"active", len(h.sessions))
			}
			s.shutdown()

		case <-ctx.Done():
			for id, s := range h.sessions {
				if s.conn != nil {
					s.conn.Close(websocket.StatusGoingAway, "server shutting down")
				}
				s.shutdown()
				delete(h.sessions, id)
			}
			h.active.Store(0)
			slog.Info("hub stopped", "reason", ctx.Err())
			return
		}
	}
}

// Admit registers s and moves it to the Open state. It only fails when the
// hub is no longer running or ctx ends first.
func (h *Hub) Admit(ctx context.Context, s *Session) (uuid.UUID, error) {
	s.hub = h
	if h.msgRequests > 0 {
		s.SetMessageLimiter(h.msgRequests, h.msgWindow)
	}

	reg := Registration{Session: s, Done: make(chan struct{})}
	select {
	case h.Register <- reg:
	case <-h.stopped:
		return uuid.Nil, ErrHubStopped
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}

	<-reg.Done
	return s.ID, nil
}

// Remove unregisters s and closes it. Calling it more than once, or after
// the hub stopped, is safe.
func (h *Hub) Remove(s *Session) {
	select {
	case h.Unregister <- s:
	case <-h.stopped:
		s.shutdown()
	}
}

// Len returns the number of admitted sessions.
func (h *Hub) Len() int {
	return int(h.active.Load())
}
