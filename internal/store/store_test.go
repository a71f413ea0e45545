package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dkraev/chatsync/internal/bus"
	"github.com/dkraev/chatsync/internal/database"
	"github.com/dkraev/chatsync/internal/models"
)

// ---------------------------------------------------------------------------
// Send / reconcile lifecycle
// ---------------------------------------------------------------------------

func TestSendAckBeforeBusEvent(t *testing.T) {
	repo := &mockMessageRepo{
		InsertMessageFn: func(_ context.Context, _ *models.Message) (string, error) {
			return "srv-9", nil
		},
	}
	feed := newFakeFeed()
	s, _ := newTestStore(t, repo, feed)
	openRoom(t, s, "room-1")

	msg, result, err := s.Send("hello", nil, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(msg.ID, models.TempIDPrefix) || !msg.Pending {
		t.Fatalf("optimistic entry must carry a temp id and Pending, got %+v", msg)
	}
	if err := recvErr(t, result); err != nil {
		t.Fatalf("send result: %v", err)
	}

	// Ack resolved first; the duplicate bus event for srv-9 arrives after.
	feed.emit(insertEvent(models.Message{
		ID: "srv-9", RoomID: "room-1", AuthorID: testUser, Body: "hello",
		CreatedAt: time.Now().UTC(),
	}))

	waitFor(t, "confirmed single entry", func() bool {
		snap := s.Snapshot()
		return len(snap) == 1 && snap[0].ID == "srv-9" && !snap[0].Pending
	})
}

func TestBusEventBeforeSendAck(t *testing.T) {
	release := make(chan struct{})
	repo := &mockMessageRepo{
		InsertMessageFn: func(_ context.Context, _ *models.Message) (string, error) {
			<-release
			return "srv-9", nil
		},
	}
	feed := newFakeFeed()
	s, _ := newTestStore(t, repo, feed)
	openRoom(t, s, "room-1")

	_, result, err := s.Send("hello", nil, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The feed delivers the authoritative row while the write is still in
	// flight: the optimistic entry adopts srv-9, no second entry appears.
	feed.emit(insertEvent(models.Message{
		ID: "srv-9", RoomID: "room-1", AuthorID: testUser, Body: "hello",
		CreatedAt: time.Now().UTC(),
	}))
	waitFor(t, "adopted authoritative id", func() bool {
		snap := s.Snapshot()
		return len(snap) == 1 && snap[0].ID == "srv-9" && !snap[0].Pending
	})

	close(release)
	if err := recvErr(t, result); err != nil {
		t.Fatalf("send result: %v", err)
	}
	if snap := s.Snapshot(); len(snap) != 1 || snap[0].ID != "srv-9" {
		t.Fatalf("exactly one srv-9 entry expected after ack, got %v", ids(snap))
	}
}

func TestSendFailureRollsBackOnlyOptimisticEntry(t *testing.T) {
	repo := &mockMessageRepo{
		FetchMessagesFn: func(context.Context, string, int) ([]models.Message, error) {
			return []models.Message{histMsg("m1", "room-1", 10)}, nil
		},
		InsertMessageFn: func(context.Context, *models.Message) (string, error) {
			return "", errors.New("backend says no")
		},
	}
	s, _ := newTestStore(t, repo, newFakeFeed())
	openRoom(t, s, "room-1")

	_, result, err := s.Send("doomed", nil, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := recvErr(t, result); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}

	waitFor(t, "rollback", func() bool {
		return sameIDs(ids(s.Snapshot()), "m1")
	})
}

func TestSendWithoutOpenRoom(t *testing.T) {
	s, _ := newTestStore(t, &mockMessageRepo{}, newFakeFeed())
	if _, _, err := s.Send("hello", nil, ""); !errors.Is(err, ErrNoRoom) {
		t.Fatalf("expected ErrNoRoom, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Ordering and deduplication
// ---------------------------------------------------------------------------

func TestRemoteInsertKeepsTimestampOrder(t *testing.T) {
	repo := &mockMessageRepo{
		FetchMessagesFn: func(context.Context, string, int) ([]models.Message, error) {
			return []models.Message{histMsg("m1", "room-1", 10), histMsg("m2", "room-1", 20)}, nil
		},
	}
	feed := newFakeFeed()
	s, _ := newTestStore(t, repo, feed)
	openRoom(t, s, "room-1")

	// m3 was created between m1 and m2 but arrives last.
	feed.emit(insertEvent(histMsg("m3", "room-1", 15)))

	waitFor(t, "in-order insert", func() bool {
		return sameIDs(ids(s.Snapshot()), "m1", "m3", "m2")
	})
}

func TestDuplicateRemoteInsertIsNoOp(t *testing.T) {
	feed := newFakeFeed()
	s, _ := newTestStore(t, &mockMessageRepo{}, feed)
	openRoom(t, s, "room-1")

	ev := insertEvent(histMsg("m1", "room-1", 10))
	feed.emit(ev)
	feed.emit(ev)

	waitFor(t, "single entry", func() bool {
		return sameIDs(ids(s.Snapshot()), "m1")
	})
	// Give a straggling duplicate a chance to corrupt the list.
	time.Sleep(20 * time.Millisecond)
	if snap := s.Snapshot(); !sameIDs(ids(snap), "m1") {
		t.Fatalf("duplicate insert must be a no-op, got %v", ids(snap))
	}
}

func TestRemoteDeleteRemovesEntry(t *testing.T) {
	repo := &mockMessageRepo{
		FetchMessagesFn: func(context.Context, string, int) ([]models.Message, error) {
			return []models.Message{histMsg("m1", "room-1", 10), histMsg("m2", "room-1", 20)}, nil
		},
	}
	feed := newFakeFeed()
	s, _ := newTestStore(t, repo, feed)
	openRoom(t, s, "room-1")

	feed.emit(bus.Event{Name: bus.EventMessageDelete, Delete: &bus.MessageDelete{ID: "m1", RoomID: "room-1"}})

	waitFor(t, "deletion", func() bool {
		return sameIDs(ids(s.Snapshot()), "m2")
	})
}

// ---------------------------------------------------------------------------
// Room switching
// ---------------------------------------------------------------------------

func TestOpenSupersedesSlowFetch(t *testing.T) {
	releaseA := make(chan struct{})
	repo := &mockMessageRepo{
		FetchMessagesFn: func(_ context.Context, roomID string, _ int) ([]models.Message, error) {
			if roomID == "room-a" {
				<-releaseA
				return []models.Message{histMsg("a1", "room-a", 10)}, nil
			}
			return []models.Message{histMsg("b1", "room-b", 10)}, nil
		},
	}
	s, _ := newTestStore(t, repo, newFakeFeed())

	openA := make(chan error, 1)
	go func() { openA <- s.Open(context.Background(), "room-a") }()

	// Switch to room B while A's fetch is still pending.
	waitFor(t, "room-a fetch in flight", func() bool { return s.Room() == "room-a" })
	openRoom(t, s, "room-b")

	close(releaseA)
	if err := <-openA; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded for room-a open, got %v", err)
	}

	if snap := s.Snapshot(); !sameIDs(ids(snap), "b1") {
		t.Fatalf("room-b state must contain nothing from room-a, got %v", ids(snap))
	}
}

func TestOpenFetchFailureLeavesRoomEmptyAndFlagged(t *testing.T) {
	repo := &mockMessageRepo{
		FetchMessagesFn: func(context.Context, string, int) ([]models.Message, error) {
			return nil, errors.New("network down")
		},
	}
	s, _ := newTestStore(t, repo, newFakeFeed())

	err := s.Open(context.Background(), "room-1")
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if !s.LoadFailed() {
		t.Fatal("LoadFailed flag must be set")
	}
	if snap := s.Snapshot(); len(snap) != 0 {
		t.Fatalf("room must stay empty after failed load, got %v", ids(snap))
	}
}

func TestOpenReplacesSubscription(t *testing.T) {
	feed := newFakeFeed()
	s, _ := newTestStore(t, &mockMessageRepo{}, feed)

	openRoom(t, s, "room-a")
	openRoom(t, s, "room-b")

	waitFor(t, "single live subscription", func() bool { return feed.liveSubs() == 1 })

	// An event for the old room must not leak into the new one.
	feed.emit(insertEvent(histMsg("a9", "room-a", 10)))
	feed.emit(insertEvent(histMsg("b9", "room-b", 10)))
	waitFor(t, "room-b event", func() bool {
		return sameIDs(ids(s.Snapshot()), "b9")
	})
}

// ---------------------------------------------------------------------------
// Degraded mode
// ---------------------------------------------------------------------------

func TestFeedDropMarksDegradedAndResubscribeRecovers(t *testing.T) {
	repo := &mockMessageRepo{}
	feed := newFakeFeed()
	s, _ := newTestStore(t, repo, feed)
	openRoom(t, s, "room-1")

	feed.drop()
	waitFor(t, "degraded flag", func() bool { return s.Degraded() })

	if err := s.Resubscribe(); err != nil {
		t.Fatalf("Resubscribe: %v", err)
	}
	waitFor(t, "recovery", func() bool { return !s.Degraded() })

	if got := repo.fetches(); got != 1 {
		t.Fatalf("resubscribe must not refetch history, fetch count = %d", got)
	}

	feed.emit(insertEvent(histMsg("m1", "room-1", 10)))
	waitFor(t, "events after recovery", func() bool {
		return sameIDs(ids(s.Snapshot()), "m1")
	})
}

// ---------------------------------------------------------------------------
// Reactions and pins
// ---------------------------------------------------------------------------

func TestToggleReactionMirrorsWrite(t *testing.T) {
	repo := &mockMessageRepo{
		FetchMessagesFn: func(context.Context, string, int) ([]models.Message, error) {
			return []models.Message{histMsg("m1", "room-1", 10)}, nil
		},
	}
	s, writes := newTestStore(t, repo, newFakeFeed())
	openRoom(t, s, "room-1")

	if err := s.ToggleReaction("m1", "👍"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	waitFor(t, "add write", func() bool {
		w := writes.recorded()
		return len(w) == 1 && w[0].On && w[0].Emoji == "👍"
	})

	snap := s.Snapshot()
	if snap[0].Reactions["👍"] == nil || snap[0].Reactions["👍"].Count != 1 {
		t.Fatalf("local summary missing optimistic toggle: %+v", snap[0].Reactions)
	}

	if err := s.ToggleReaction("m1", "👍"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	waitFor(t, "remove write", func() bool {
		w := writes.recorded()
		return len(w) == 2 && !w[1].On
	})
}

func TestRemoteReactionUpdateReplacesWholesale(t *testing.T) {
	repo := &mockMessageRepo{
		FetchMessagesFn: func(context.Context, string, int) ([]models.Message, error) {
			return []models.Message{histMsg("m1", "room-1", 10)}, nil
		},
	}
	feed := newFakeFeed()
	s, _ := newTestStore(t, repo, feed)
	openRoom(t, s, "room-1")

	if err := s.ToggleReaction("m1", "👍"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}

	feed.emit(bus.Event{Name: bus.EventMessageUpdate, Update: &bus.MessageUpdate{
		ID: "m1", RoomID: "room-1",
		Reactions: models.ReactionSummary{
			"🔥": &models.ReactionEntry{Users: []string{"u5"}, Count: 1},
		},
	}})

	waitFor(t, "wholesale replacement", func() bool {
		r := s.Snapshot()[0].Reactions
		return len(r) == 1 && r["🔥"] != nil && r["👍"] == nil
	})
}

func TestTogglePinOptimisticAndRemote(t *testing.T) {
	var patched []bool
	done := make(chan struct{}, 4)
	repo := &mockMessageRepo{
		FetchMessagesFn: func(context.Context, string, int) ([]models.Message, error) {
			return []models.Message{histMsg("m1", "room-1", 10)}, nil
		},
		UpdateMessageFn: func(_ context.Context, _, _ string, patch database.MessagePatch) error {
			patched = append(patched, *patch.Pinned)
			done <- struct{}{}
			return nil
		},
	}
	feed := newFakeFeed()
	s, _ := newTestStore(t, repo, feed)
	openRoom(t, s, "room-1")

	if err := s.TogglePin("m1"); err != nil {
		t.Fatalf("TogglePin: %v", err)
	}
	if snap := s.Snapshot(); !snap[0].Pinned {
		t.Fatal("pin must apply optimistically")
	}
	<-done
	if len(patched) != 1 || !patched[0] {
		t.Fatalf("expected pinned=true patch, got %v", patched)
	}

	// Another client unpins; the update event wins.
	unpinned := false
	feed.emit(bus.Event{Name: bus.EventMessageUpdate, Update: &bus.MessageUpdate{
		ID: "m1", RoomID: "room-1", Pinned: &unpinned,
	}})
	waitFor(t, "remote unpin", func() bool { return !s.Snapshot()[0].Pinned })
}

// ---------------------------------------------------------------------------
// Reply previews
// ---------------------------------------------------------------------------

func TestReplyPreviewAttachesAsynchronously(t *testing.T) {
	target := histMsg("m1", "room-1", 10)
	target.Body = strings.Repeat("long ", 40)
	reply := histMsg("m2", "room-1", 20)
	reply.ReplyTo = "m1"

	repo := &mockMessageRepo{
		FetchMessagesFn: func(context.Context, string, int) ([]models.Message, error) {
			return []models.Message{target, reply}, nil
		},
		FetchMessageFn: func(_ context.Context, _, id string) (*models.Message, error) {
			if id == "m1" {
				return &target, nil
			}
			return nil, nil
		},
	}
	s, _ := newTestStore(t, repo, newFakeFeed())
	openRoom(t, s, "room-1")

	waitFor(t, "reply preview", func() bool {
		snap := s.Snapshot()
		return len(snap) == 2 && snap[1].ReplyPreview != nil
	})

	preview := s.Snapshot()[1].ReplyPreview
	if preview.MessageID != "m1" || preview.AuthorID != target.AuthorID {
		t.Fatalf("wrong preview target: %+v", preview)
	}
	if len([]rune(preview.Body)) >= len([]rune(target.Body)) {
		t.Fatalf("preview body must be truncated, got %d runes", len([]rune(preview.Body)))
	}
}
