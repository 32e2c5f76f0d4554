// Package hub implements the room broadcast core: connection lifecycle,
// room membership, and the per-message classify-persist-fanout pipeline.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/messages"
	"github.com/parleyhq/parley/internal/obs"
	"go.uber.org/zap"
)

// DefaultRoom is joined automatically on connect and always exists.
const DefaultRoom = "general"

const defaultEventBuffer = 32

var (
	// ErrNotConnected indicates the session was already disconnected.
	ErrNotConnected = errors.New("hub: session not connected")

	errMissingTokens   = errors.New("hub: token validator is required")
	errMissingMessages = errors.New("hub: message service is required")
	errMissingSession  = errors.New("hub: session is required")
)

// TokenValidator validates a bearer token at the connection trust boundary.
type TokenValidator interface {
	Validate(token string) (auth.Claims, error)
}

// MessageCreator runs the classify-then-persist half of the send pipeline.
type MessageCreator interface {
	Create(ctx context.Context, senderID, content string) (messages.Message, error)
}

// Config describes the dependencies of the hub.
type Config struct {
	Tokens      TokenValidator
	Messages    MessageCreator
	Logger      *zap.Logger
	EventBuffer int
}

// Hub orchestrates connection sessions and room broadcasts. Sessions from
// independent connections invoke it concurrently; the registry and the
// session table are the only shared state and both are lock-guarded.
type Hub struct {
	registry   *Registry
	tokens     TokenValidator
	messages   MessageCreator
	logger     *zap.Logger
	bufferSize int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Session is one live authenticated connection. Events delivered to it are
// drained by the transport layer through Events.
type Session struct {
	id        string
	claims    auth.Claims
	events    chan Event
	closeOnce sync.Once
}

// ID returns the opaque connection id generated at handshake.
func (s *Session) ID() string { return s.id }

// Claims returns the identity attached at handshake, immutable thereafter.
func (s *Session) Claims() auth.Claims { return s.claims }

// Events exposes the outbound notification stream. The channel is closed on
// disconnect.
func (s *Session) Events() <-chan Event { return s.events }

// New constructs a Hub.
func New(cfg Config) (*Hub, error) {
	if cfg.Tokens == nil {
		return nil, errMissingTokens
	}
	if cfg.Messages == nil {
		return nil, errMissingMessages
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bufferSize := cfg.EventBuffer
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}
	return &Hub{
		registry:   NewRegistry(),
		tokens:     cfg.Tokens,
		messages:   cfg.Messages,
		logger:     logger,
		bufferSize: bufferSize,
		sessions:   make(map[string]*Session),
	}, nil
}

// Registry exposes the connection registry, mainly for tests and diagnostics.
func (h *Hub) Registry() *Registry { return h.registry }

// Connect validates the bearer token, registers the connection, auto-joins
// the default room, and announces the arrival to that room including the new
// member itself. An invalid token refuses the connection with no state left
// behind.
func (h *Hub) Connect(ctx context.Context, token string) (*Session, error) {
	claims, err := h.tokens.Validate(token)
	if err != nil {
		obs.HubErrors.WithLabelValues("authentication").Inc()
		h.logger.Warn("connection refused", zap.Error(err))
		return nil, err
	}

	session := &Session{
		id:     uuid.NewString(),
		claims: claims,
		events: make(chan Event, h.bufferSize),
	}

	h.registry.Register(session.id)
	if err := h.registry.AttachIdentity(session.id, claims); err != nil {
		h.registry.Unregister(session.id)
		return nil, err
	}

	h.mu.Lock()
	h.sessions[session.id] = session
	h.mu.Unlock()

	if err := h.registry.JoinRoom(session.id, DefaultRoom); err != nil {
		h.dropSession(session)
		return nil, err
	}

	obs.ConnectionsActive.Inc()
	h.logger.Info("client connected",
		zap.String("connection_id", session.id),
		zap.String("user_id", claims.UserID))

	h.broadcast(DefaultRoom, Event{
		Type: EventUserConnected,
		Text: fmt.Sprintf("%s connected", claims.Name),
	})
	return session, nil
}

// SendMessage runs the per-message pipeline: classify, persist, then fan out
// to every connection currently in the room. Persistence completes before any
// broadcast; on failure the caller alone sees an Error event and the fault is
// returned so the invocation itself observes it.
func (h *Hub) SendMessage(ctx context.Context, session *Session, content, room string) error {
	if session == nil {
		return errMissingSession
	}
	if room == "" {
		room = DefaultRoom
	}

	claims, ok := h.registry.Identity(session.id)
	if !ok {
		return ErrNotConnected
	}

	message, err := h.messages.Create(ctx, claims.UserID, content)
	if err != nil {
		if errors.Is(err, messages.ErrInvalidContent) {
			obs.HubErrors.WithLabelValues("validation").Inc()
			h.deliver(session.id, Event{Type: EventError, Text: "invalid message content"})
			return err
		}
		obs.HubErrors.WithLabelValues("persistence").Inc()
		h.logger.Error("message persistence failed",
			zap.String("connection_id", session.id),
			zap.Error(err))
		h.deliver(session.id, Event{Type: EventError, Text: "failed to send message"})
		return err
	}

	obs.MessagesTotal.Inc()
	h.broadcast(room, Event{
		Type: EventReceiveMessage,
		Message: &MessagePayload{
			User:           claims.Name,
			Message:        message.Content,
			Timestamp:      message.Timestamp,
			SentimentScore: message.SentimentScore,
			SentimentLabel: message.SentimentLabel,
			MessageID:      message.ID,
			SenderID:       message.SenderID,
		},
	})
	return nil
}

// JoinRoom adds the session to the room and announces it to the room's
// current members, the joiner included. Rooms are created lazily on first
// join.
func (h *Hub) JoinRoom(session *Session, room string) error {
	if session == nil {
		return errMissingSession
	}
	if err := h.registry.JoinRoom(session.id, room); err != nil {
		return err
	}
	h.broadcast(room, Event{
		Type: EventUserJoined,
		Text: fmt.Sprintf("%s joined %s", session.claims.Name, room),
	})
	return nil
}

// LeaveRoom removes the session from the room and announces the departure to
// the remaining members.
func (h *Hub) LeaveRoom(session *Session, room string) error {
	if session == nil {
		return errMissingSession
	}
	if err := h.registry.LeaveRoom(session.id, room); err != nil {
		return err
	}
	h.broadcast(room, Event{
		Type: EventUserLeft,
		Text: fmt.Sprintf("%s left %s", session.claims.Name, room),
	})
	return nil
}

// Disconnect tears down the session: it is removed from every room, receives
// no further events, and the default room is notified. Safe to call more
// than once.
func (h *Hub) Disconnect(session *Session) {
	if session == nil {
		return
	}

	h.mu.Lock()
	_, present := h.sessions[session.id]
	delete(h.sessions, session.id)
	h.mu.Unlock()

	if !present {
		return
	}

	h.registry.Unregister(session.id)
	session.closeOnce.Do(func() { close(session.events) })

	obs.ConnectionsActive.Dec()
	h.logger.Info("client disconnected", zap.String("connection_id", session.id))

	h.broadcast(DefaultRoom, Event{
		Type: EventUserDisconnected,
		Text: fmt.Sprintf("%s disconnected", session.claims.Name),
	})
}

// Shutdown disconnects every live session.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	open := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		open = append(open, session)
	}
	h.mu.RUnlock()

	for _, session := range open {
		h.Disconnect(session)
	}
}

// dropSession removes a half-initialized session without announcements.
func (h *Hub) dropSession(session *Session) {
	h.mu.Lock()
	delete(h.sessions, session.id)
	h.mu.Unlock()
	h.registry.Unregister(session.id)
	session.closeOnce.Do(func() { close(session.events) })
}

// broadcast fans an event out to a snapshot of the room's current members.
// Membership changes after the snapshot do not affect this delivery; a
// connection unregistered before delivery is skipped.
func (h *Hub) broadcast(room string, event Event) {
	for _, connectionID := range h.registry.MembersOf(room) {
		h.deliver(connectionID, event)
	}
}

// deliver sends the event to one connection without blocking the pipeline; a
// slow client loses the event rather than stalling the sender.
func (h *Hub) deliver(connectionID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	session, ok := h.sessions[connectionID]
	if !ok {
		return
	}
	select {
	case session.events <- event:
	default:
		obs.EventsDropped.Inc()
		h.logger.Warn("event dropped for slow client",
			zap.String("connection_id", connectionID),
			zap.String("event_type", string(event.Type)))
	}
}
