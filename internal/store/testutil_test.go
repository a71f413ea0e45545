package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkraev/chatsync/internal/bus"
	"github.com/dkraev/chatsync/internal/database"
	"github.com/dkraev/chatsync/internal/models"
	"github.com/dkraev/chatsync/internal/reactions"
)

const testUser = "user-1"

// ---------------------------------------------------------------------------
// Mock repositories
// ---------------------------------------------------------------------------

type mockMessageRepo struct {
	mu             sync.Mutex
	fetchCalls     int
	FetchMessagesFn func(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	FetchMessageFn  func(ctx context.Context, roomID, id string) (*models.Message, error)
	InsertMessageFn func(ctx context.Context, msg *models.Message) (string, error)
	UpdateMessageFn func(ctx context.Context, roomID, id string, patch database.MessagePatch) error
}

func (m *mockMessageRepo) FetchMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	m.mu.Lock()
	m.fetchCalls++
	m.mu.Unlock()
	if m.FetchMessagesFn != nil {
		return m.FetchMessagesFn(ctx, roomID, limit)
	}
	return nil, nil
}

func (m *mockMessageRepo) FetchMessage(ctx context.Context, roomID, id string) (*models.Message, error) {
	if m.FetchMessageFn != nil {
		return m.FetchMessageFn(ctx, roomID, id)
	}
	return nil, nil
}

func (m *mockMessageRepo) InsertMessage(ctx context.Context, msg *models.Message) (string, error) {
	if m.InsertMessageFn != nil {
		return m.InsertMessageFn(ctx, msg)
	}
	return "srv-" + msg.Body, nil
}

func (m *mockMessageRepo) UpdateMessage(ctx context.Context, roomID, id string, patch database.MessagePatch) error {
	if m.UpdateMessageFn != nil {
		return m.UpdateMessageFn(ctx, roomID, id, patch)
	}
	return nil
}

func (m *mockMessageRepo) fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

type reactionWrite struct {
	MessageID string
	Emoji     string
	On        bool
}

type mockReactionRepo struct {
	mu     sync.Mutex
	writes []reactionWrite
}

func (m *mockReactionRepo) AddReaction(_ context.Context, messageID, _, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, reactionWrite{MessageID: messageID, Emoji: emoji, On: true})
	return nil
}

func (m *mockReactionRepo) RemoveReaction(_ context.Context, messageID, _, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, reactionWrite{MessageID: messageID, Emoji: emoji, On: false})
	return nil
}

func (m *mockReactionRepo) recorded() []reactionWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]reactionWrite, len(m.writes))
	copy(out, m.writes)
	return out
}

// ---------------------------------------------------------------------------
// Fake feed
// ---------------------------------------------------------------------------

type fakeSub struct {
	scope   bus.Scope
	handler bus.Handler

	once sync.Once
	done chan struct{}
	err  error
}

func (s *fakeSub) Done() <-chan struct{} { return s.done }

func (s *fakeSub) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *fakeSub) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

type fakeFeed struct {
	mu   sync.Mutex
	subs map[*fakeSub]bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[*fakeSub]bool)}
}

func (f *fakeFeed) Subscribe(scope bus.Scope, h bus.Handler) (bus.Subscription, error) {
	sub := &fakeSub{scope: scope, handler: h, done: make(chan struct{})}
	f.mu.Lock()
	f.subs[sub] = true
	f.mu.Unlock()
	return sub, nil
}

func (f *fakeFeed) Unsubscribe(sub bus.Subscription) {
	fs, ok := sub.(*fakeSub)
	if !ok {
		return
	}
	f.mu.Lock()
	delete(f.subs, fs)
	f.mu.Unlock()
	fs.fail(nil)
}

// emit delivers an event to every live subscription whose scope matches.
func (f *fakeFeed) emit(ev bus.Event) {
	f.mu.Lock()
	var matched []bus.Handler
	for sub := range f.subs {
		if sub.scope.RoomID == "" || sub.scope.RoomID == ev.RoomID() {
			matched = append(matched, sub.handler)
		}
	}
	f.mu.Unlock()
	for _, h := range matched {
		h(ev)
	}
}

// drop fails every live subscription, as a connection loss would.
func (f *fakeFeed) drop() {
	f.mu.Lock()
	var dropped []*fakeSub
	for sub := range f.subs {
		dropped = append(dropped, sub)
		delete(f.subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range dropped {
		sub.fail(bus.ErrSubscriptionDropped)
	}
}

func (f *fakeFeed) liveSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestStore(t *testing.T, repo *mockMessageRepo, feed *fakeFeed) (*Store, *mockReactionRepo) {
	t.Helper()
	writes := &mockReactionRepo{}
	s := New(testUser, repo, writes, feed, reactions.NewAggregator())
	t.Cleanup(s.Close)
	return s, writes
}

func openRoom(t *testing.T, s *Store, roomID string) {
	t.Helper()
	if err := s.Open(context.Background(), roomID); err != nil {
		t.Fatalf("Open(%s): %v", roomID, err)
	}
}

func histMsg(id, roomID string, at int64) models.Message {
	return models.Message{
		ID:        id,
		RoomID:    roomID,
		AuthorID:  "someone-else",
		Body:      "body of " + id,
		CreatedAt: time.Unix(at, 0).UTC(),
	}
}

func insertEvent(msg models.Message) bus.Event {
	return bus.Event{Name: bus.EventMessageCreate, Message: &msg}
}

// waitFor polls cond until it holds or the deadline passes.
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

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func sameIDs(a []string, b ...string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func recvErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send result")
		return nil
	}
}
