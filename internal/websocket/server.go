package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/johndosdos/relay/internal/model"
)

// persistTimeout bounds the two appends of a single frame. They run detached
// from the connection so a disconnect does not abort them halfway.
const persistTimeout = 10 * time.Second

// ReadMessage reads the incoming data from the websocket stream. Frames are
// handled one at a time, so a frame is fully persisted and delivered before
// the next one is read.
func (s *Session) ReadMessage(ctx context.Context) {
	defer func() {
		s.hub.Remove(s)
		s.conn.CloseNow()
	}()

	for {
		msgType, p, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				slog.WarnContext(ctx, "websocket read failed",
					"error", err,
					"session_id", s.ID.String())
			}
			return
		}

		if err := s.HandleFrame(ctx, msgType, p); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return
			}
			slog.WarnContext(ctx, "frame dropped",
				"error", err,
				"session_id", s.ID.String(),
				"user_id", s.UserID)
		}
	}
}

// HandleFrame processes one inbound frame: the client message is appended,
// the policy computes a response, the response is appended, and only then is
// it queued for delivery. A non-nil error means the frame was dropped; the
// session itself stays open unless the error is ErrSessionClosed.
func (s *Session) HandleFrame(ctx context.Context, msgType websocket.MessageType, p []byte) error {
	if s.State() != StateOpen {
		return ErrSessionClosed
	}

	// The app only supports text format.
	if msgType != websocket.MessageText {
		return fmt.Errorf("%w: non-text payload", ErrMalformedFrame)
	}

	var frame model.InboundFrame
	if err := json.Unmarshal(p, &frame); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if frame.Content == nil {
		return fmt.Errorf("%w: missing content", ErrMalformedFrame)
	}
	if frame.UserID != nil && *frame.UserID != s.UserID {
		return fmt.Errorf("%w: frame claims user %d", ErrIdentityMismatch, *frame.UserID)
	}

	if s.messageLim != nil && !s.messageLim.Allow() {
		return ErrRateLimited
	}

	h := s.hub
	content := *frame.Content
	if h.sanitizer != nil {
		content = h.sanitizer.Sanitize(content)
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if _, err := h.log.AppendMessage(persistCtx, s.UserID, content, model.OriginClient); err != nil {
		return fmt.Errorf("persist client message: %w", err)
	}

	response, ok := h.policy(ctx, s.UserID, content)
	if !ok {
		return nil
	}

	if _, err := h.log.AppendMessage(persistCtx, s.UserID, response, model.OriginServer); err != nil {
		return fmt.Errorf("persist server message: %w", err)
	}

	return s.deliver(ctx, model.OutboundFrame{
		Content:      response,
		UserID:       s.UserID,
		IsFromServer: true,
	})
}
