package api

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dkraev/chatsync/internal/bus"
	"github.com/dkraev/chatsync/internal/database"
	"github.com/dkraev/chatsync/internal/models"
	"github.com/dkraev/chatsync/internal/notify"
	"github.com/dkraev/chatsync/internal/reactions"
	"github.com/dkraev/chatsync/internal/store"
	"github.com/dkraev/chatsync/internal/voice"
)

const testUserID = "user-1"

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newTestContext(method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newTestCore wires a real store and notification router against in-memory
// fakes, plus the handlers under test.
func newTestCore(t *testing.T) (*SyncHandler, *NotificationHandler, *store.Store, *fakeFeed, *mockMessageRepo) {
	t.Helper()
	feed := &fakeFeed{}
	msgs := &mockMessageRepo{}
	s := store.New(testUserID, msgs, &mockReactionRepo{}, feed, reactions.NewAggregator())
	t.Cleanup(s.Close)

	r := notify.NewRouter(testUserID, feed, &mockMembershipRepo{}, nil)
	t.Cleanup(r.Close)
	if err := r.Start(); err != nil {
		t.Fatalf("router start: %v", err)
	}

	return NewSyncHandler(s, r), NewNotificationHandler(r), s, feed, msgs
}

// ---------------------------------------------------------------------------
// Mock repositories
// ---------------------------------------------------------------------------

type mockMessageRepo struct {
	mu              sync.Mutex
	FetchMessagesFn func(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	FetchMessageFn  func(ctx context.Context, roomID, id string) (*models.Message, error)
	InsertMessageFn func(ctx context.Context, msg *models.Message) (string, error)
	UpdateMessageFn func(ctx context.Context, roomID, id string, patch database.MessagePatch) error
}

func (m *mockMessageRepo) FetchMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	m.mu.Lock()
	fn := m.FetchMessagesFn
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, roomID, limit)
}

func (m *mockMessageRepo) FetchMessage(ctx context.Context, roomID, id string) (*models.Message, error) {
	m.mu.Lock()
	fn := m.FetchMessageFn
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, roomID, id)
}

func (m *mockMessageRepo) InsertMessage(ctx context.Context, msg *models.Message) (string, error) {
	m.mu.Lock()
	fn := m.InsertMessageFn
	m.mu.Unlock()
	if fn == nil {
		return "srv-1", nil
	}
	return fn(ctx, msg)
}

func (m *mockMessageRepo) UpdateMessage(ctx context.Context, roomID, id string, patch database.MessagePatch) error {
	m.mu.Lock()
	fn := m.UpdateMessageFn
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, roomID, id, patch)
}

type mockReactionRepo struct{}

func (m *mockReactionRepo) AddReaction(context.Context, string, string, string) error {
	return nil
}

func (m *mockReactionRepo) RemoveReaction(context.Context, string, string, string) error {
	return nil
}

type mockMembershipRepo struct{}

func (m *mockMembershipRepo) FetchMembership(context.Context, string, string) (bool, error) {
	return true, nil
}

// ---------------------------------------------------------------------------
// Fake event feed
// ---------------------------------------------------------------------------

type fakeSub struct {
	done     chan struct{}
	err      error
	mu       sync.Mutex
	scope    bus.Scope
	handler  bus.Handler
	released bool
}

func (s *fakeSub) Done() <-chan struct{} { return s.done }

func (s *fakeSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSub) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.err = err
	close(s.done)
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (f *fakeFeed) Subscribe(scope bus.Scope, handler bus.Handler) (bus.Subscription, error) {
	sub := &fakeSub{done: make(chan struct{}), scope: scope, handler: handler}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

func (f *fakeFeed) Unsubscribe(sub bus.Subscription) {
	if s, ok := sub.(*fakeSub); ok {
		s.fail(nil)
	}
}

func (f *fakeFeed) emit(ev bus.Event) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()
	for _, s := range subs {
		s.mu.Lock()
		live := !s.released
		match := s.scope.RoomID == "" || s.scope.RoomID == ev.RoomID()
		s.mu.Unlock()
		if live && match {
			s.handler(ev)
		}
	}
}

// ---------------------------------------------------------------------------
// Voice helper
// ---------------------------------------------------------------------------

func newTestVoiceHandler() *VoiceHandler {
	return NewVoiceHandler(voice.NewManager(testUserID, "alice", "key", "secret", nil))
}
