package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/messages"
	"github.com/parleyhq/parley/internal/sentiment"
)

type stubValidator struct {
	identities map[string]auth.Claims
}

func (v *stubValidator) Validate(token string) (auth.Claims, error) {
	claims, ok := v.identities[token]
	if !ok {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return claims, nil
}

type memoryMessageStore struct {
	mu      sync.Mutex
	stored  []messages.Message
	failure error
}

func (s *memoryMessageStore) Create(_ context.Context, senderID, content string) (messages.Message, error) {
	if content == "" || len(content) > messages.MaxContentLength {
		return messages.Message{}, fmt.Errorf("%w: rejected", messages.ErrInvalidContent)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return messages.Message{}, s.failure
	}
	result := sentiment.Analyze(content)
	message := messages.Message{
		ID:             uuid.NewString(),
		SenderID:       senderID,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		SentimentScore: result.Score,
		SentimentLabel: string(result.Label),
	}
	s.stored = append(s.stored, message)
	return message, nil
}

func (s *memoryMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

func (s *memoryMessageStore) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func newTestHub(t *testing.T) (*Hub, *memoryMessageStore) {
	t.Helper()
	validator := &stubValidator{identities: map[string]auth.Claims{
		"token-a": {UserID: "user-a", Name: "ada", Email: "ada@example.com"},
		"token-b": {UserID: "user-b", Name: "bob", Email: "bob@example.com"},
		"token-c": {UserID: "user-c", Name: "cleo", Email: "cleo@example.com"},
	}}
	store := &memoryMessageStore{}
	h, err := New(Config{Tokens: validator, Messages: store})
	if err != nil {
		t.Fatalf("unexpected hub constructor error: %v", err)
	}
	return h, store
}

func mustConnect(t *testing.T, h *Hub, token string) *Session {
	t.Helper()
	session, err := h.Connect(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected connect error for %s: %v", token, err)
	}
	return session
}

func waitForEvent(t *testing.T, session *Session, eventType EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-session.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", eventType)
			}
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func assertNoEvent(t *testing.T, session *Session, eventType EventType) {
	t.Helper()
	for {
		select {
		case event, ok := <-session.Events():
			if !ok {
				return
			}
			if event.Type == eventType {
				t.Fatalf("unexpected %s event: %+v", eventType, event)
			}
		case <-time.After(150 * time.Millisecond):
			return
		}
	}
}

func TestConnectRefusesInvalidToken(t *testing.T) {
	h, _ := newTestHub(t)

	if _, err := h.Connect(context.Background(), "forged"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected token validation error, got %v", err)
	}
	if members := h.Registry().MembersOf(DefaultRoom); len(members) != 0 {
		t.Fatalf("expected refused connection to leave no registry state, got %v", members)
	}
}

func TestConnectAutoJoinsDefaultRoomAndAnnounces(t *testing.T) {
	h, _ := newTestHub(t)

	session := mustConnect(t, h, "token-a")
	event := waitForEvent(t, session, EventUserConnected)
	if !strings.Contains(event.Text, "ada") {
		t.Fatalf("expected announcement to name the user, got %q", event.Text)
	}

	members := h.Registry().MembersOf(DefaultRoom)
	if len(members) != 1 || members[0] != session.ID() {
		t.Fatalf("expected session auto-joined to %s, got %v", DefaultRoom, members)
	}
}

func TestSendMessageBroadcastsToRoomMembers(t *testing.T) {
	h, store := newTestHub(t)
	sessionA := mustConnect(t, h, "token-a")
	sessionB := mustConnect(t, h, "token-b")

	if err := h.SendMessage(context.Background(), sessionA, "This is wonderful!", DefaultRoom); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	for _, session := range []*Session{sessionA, sessionB} {
		event := waitForEvent(t, session, EventReceiveMessage)
		payload := event.Message
		if payload == nil {
			t.Fatal("expected message payload on ReceiveMessage")
		}
		if payload.User != "ada" || payload.SenderID != "user-a" {
			t.Fatalf("unexpected sender fields %+v", payload)
		}
		if payload.SentimentLabel != "Positive" {
			t.Fatalf("expected Positive label, got %s", payload.SentimentLabel)
		}
		if payload.MessageID == "" {
			t.Fatal("expected persisted message id on payload")
		}
	}

	if store.count() != 1 {
		t.Fatalf("expected one persisted message, got %d", store.count())
	}
}

func TestSendMessageEmptyRoomAddressesDefault(t *testing.T) {
	h, _ := newTestHub(t)
	sessionA := mustConnect(t, h, "token-a")
	sessionB := mustConnect(t, h, "token-b")

	if err := h.SendMessage(context.Background(), sessionA, "hello all", ""); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	for _, session := range []*Session{sessionA, sessionB} {
		event := waitForEvent(t, session, EventReceiveMessage)
		if event.Message.Message != "hello all" {
			t.Fatalf("unexpected content %q", event.Message.Message)
		}
	}
}

func TestSendMessageRespectsRoomIsolation(t *testing.T) {
	h, _ := newTestHub(t)
	sessionA := mustConnect(t, h, "token-a")
	sessionB := mustConnect(t, h, "token-b")

	if err := h.JoinRoom(sessionA, "dev"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := h.SendMessage(context.Background(), sessionA, "dev only chatter", "dev"); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	event := waitForEvent(t, sessionA, EventReceiveMessage)
	if event.Message.Message != "dev only chatter" {
		t.Fatalf("unexpected content %q", event.Message.Message)
	}
	assertNoEvent(t, sessionB, EventReceiveMessage)
}

func TestSendMessageRejectsInvalidContent(t *testing.T) {
	h, store := newTestHub(t)
	sessionA := mustConnect(t, h, "token-a")
	sessionB := mustConnect(t, h, "token-b")
	drainEvents(sessionA)
	drainEvents(sessionB)

	err := h.SendMessage(context.Background(), sessionA, "", DefaultRoom)
	if !errors.Is(err, messages.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent, got %v", err)
	}

	event := waitForEvent(t, sessionA, EventError)
	if event.Text == "" {
		t.Fatal("expected error text for caller")
	}
	assertNoEvent(t, sessionB, EventError)
	assertNoEvent(t, sessionB, EventReceiveMessage)
	if store.count() != 0 {
		t.Fatalf("expected no persisted messages, got %d", store.count())
	}
}

func TestSendMessagePropagatesPersistenceFailure(t *testing.T) {
	h, store := newTestHub(t)
	sessionA := mustConnect(t, h, "token-a")
	sessionB := mustConnect(t, h, "token-b")
	drainEvents(sessionA)
	drainEvents(sessionB)

	storageFault := errors.New("disk on fire")
	store.setFailure(storageFault)

	err := h.SendMessage(context.Background(), sessionA, "hello", DefaultRoom)
	if !errors.Is(err, storageFault) {
		t.Fatalf("expected persistence fault to propagate, got %v", err)
	}

	event := waitForEvent(t, sessionA, EventError)
	if event.Text == "" {
		t.Fatal("expected error text for caller")
	}
	assertNoEvent(t, sessionB, EventReceiveMessage)
	assertNoEvent(t, sessionB, EventError)
}

func TestJoinAndLeaveRoomAnnouncements(t *testing.T) {
	h, _ := newTestHub(t)
	sessionA := mustConnect(t, h, "token-a")
	sessionB := mustConnect(t, h, "token-b")

	if err := h.JoinRoom(sessionA, "dev"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if err := h.JoinRoom(sessionB, "dev"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	joined := waitForEvent(t, sessionA, EventUserJoined)
	if !strings.Contains(joined.Text, "bob") || !strings.Contains(joined.Text, "dev") {
		t.Fatalf("expected join announcement naming bob and dev, got %q", joined.Text)
	}

	if err := h.LeaveRoom(sessionB, "dev"); err != nil {
		t.Fatalf("unexpected leave error: %v", err)
	}
	left := waitForEvent(t, sessionA, EventUserLeft)
	if !strings.Contains(left.Text, "bob") {
		t.Fatalf("expected leave announcement naming bob, got %q", left.Text)
	}

	if members := h.Registry().MembersOf("dev"); len(members) != 1 {
		t.Fatalf("expected only one member left in dev, got %v", members)
	}
}

func TestDisconnectCleansUpAndAnnounces(t *testing.T) {
	h, _ := newTestHub(t)
	sessionA := mustConnect(t, h, "token-a")
	sessionB := mustConnect(t, h, "token-b")

	if err := h.JoinRoom(sessionB, "dev"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	h.Disconnect(sessionB)

	event := waitForEvent(t, sessionA, EventUserDisconnected)
	if !strings.Contains(event.Text, "bob") {
		t.Fatalf("expected disconnect announcement naming bob, got %q", event.Text)
	}
	for _, room := range []string{DefaultRoom, "dev"} {
		for _, member := range h.Registry().MembersOf(room) {
			if member == sessionB.ID() {
				t.Fatalf("expected %s to be removed from %s", sessionB.ID(), room)
			}
		}
	}

	// The closed event stream delivers nothing further.
	if err := h.SendMessage(context.Background(), sessionA, "anyone there?", DefaultRoom); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	waitForEvent(t, sessionA, EventReceiveMessage)
	for event := range sessionB.Events() {
		if event.Type == EventReceiveMessage {
			t.Fatalf("disconnected session received broadcast: %+v", event)
		}
	}

	// Repeated disconnect is a no-op.
	h.Disconnect(sessionB)
}

func TestSendMessageAfterDisconnectFails(t *testing.T) {
	h, _ := newTestHub(t)
	session := mustConnect(t, h, "token-a")
	h.Disconnect(session)

	err := h.SendMessage(context.Background(), session, "too late", DefaultRoom)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConcurrentSendersLoseNoMessages(t *testing.T) {
	h, _ := newTestHub(t)
	sessionA := mustConnect(t, h, "token-a")
	sessionB := mustConnect(t, h, "token-b")
	observer := mustConnect(t, h, "token-c")
	drainEvents(observer)

	const perSender = 10
	var wg sync.WaitGroup
	for _, sender := range []*Session{sessionA, sessionB} {
		wg.Add(1)
		go func(sender *Session) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if err := h.SendMessage(context.Background(), sender, fmt.Sprintf("note %d", i), DefaultRoom); err != nil {
					t.Errorf("unexpected send error: %v", err)
					return
				}
			}
		}(sender)
	}
	wg.Wait()

	received := 0
	deadline := time.After(2 * time.Second)
	for received < 2*perSender {
		select {
		case event, ok := <-observer.Events():
			if !ok {
				t.Fatal("observer stream closed early")
			}
			if event.Type == EventReceiveMessage {
				received++
			}
		case <-deadline:
			t.Fatalf("expected %d broadcasts, observed %d", 2*perSender, received)
		}
	}
}

func drainEvents(session *Session) {
	for {
		select {
		case <-session.Events():
		default:
			return
		}
	}
}
