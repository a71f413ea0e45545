// Package store owns the in-memory ordered message list of the
// currently-open room. A single goroutine serializes every mutation: UI
// commands, feed events and async completions (history pages, write acks,
// reply previews) all re-enter through the same loop, so the ordered list
// is never touched concurrently. Completions are gated by an epoch counter
// bumped on every Open — a slow fetch for a room the user already left
// resolves, gets compared against the current epoch, and is dropped.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkraev/chatsync/internal/bus"
	"github.com/dkraev/chatsync/internal/database"
	"github.com/dkraev/chatsync/internal/models"
	"github.com/dkraev/chatsync/internal/reactions"
)

const (
	historyPageSize  = 50
	eventBufferSize  = 256
	remoteCallTimeout = 10 * time.Second
)

// Store is the message store for one user session. It manages whichever
// room is currently open; opening a new room discards the old one's state.
type Store struct {
	user     string
	messages database.MessageRepository
	writes   database.ReactionRepository
	feed     bus.Feed
	agg      *reactions.Aggregator

	cmds   chan func()
	events chan bus.Event

	closeOnce sync.Once
	done      chan struct{}

	// Everything below is owned by the run loop.
	roomID     string
	epoch      uint64
	list       []*models.Message
	index      map[string]*models.Message
	sub        bus.Subscription
	degraded   bool
	loadFailed bool
}

// New creates a Store and starts its reconciliation loop.
func New(user string, msgs database.MessageRepository, writes database.ReactionRepository, feed bus.Feed, agg *reactions.Aggregator) *Store {
	s := &Store{
		user:     user,
		messages: msgs,
		writes:   writes,
		feed:     feed,
		agg:      agg,
		cmds:     make(chan func()),
		events:   make(chan bus.Event, eventBufferSize),
		done:     make(chan struct{}),
		index:    make(map[string]*models.Message),
	}
	go s.run()
	return s
}

// Close stops the loop and releases the room subscription.
func (s *Store) Close() {
	_ = s.call(func() {
		if s.sub != nil {
			s.feed.Unsubscribe(s.sub)
			s.sub = nil
		}
	})
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store) run() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-s.done:
			return
		}
	}
}

// call runs fn inside the loop and waits for it to finish.
func (s *Store) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// post runs fn inside the loop without waiting (used by async completions).
func (s *Store) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

// ---------------------------------------------------------------------------
// Opening rooms
// ---------------------------------------------------------------------------

// Open switches to roomID: the current list is discarded, the most recent
// page of history is loaded, and the feed is subscribed to the room. It
// returns once the initial page is installed. ErrSuperseded means another
// Open won the race; ErrFetchFailed leaves the room empty with the
// LoadFailed flag set, recoverable by calling Open again.
func (s *Store) Open(ctx context.Context, roomID string) error {
	var epoch uint64
	if err := s.call(func() {
		s.epoch++
		epoch = s.epoch
		s.roomID = roomID
		s.list = nil
		s.index = make(map[string]*models.Message)
		s.loadFailed = false
		s.degraded = false
		if s.sub != nil {
			s.feed.Unsubscribe(s.sub)
			s.sub = nil
		}
		s.agg.Reset(nil)
	}); err != nil {
		return err
	}

	// The subscription is independent of the history fetch: events that
	// race the page land in the loop first and the page merges around them.
	s.subscribeRoom(roomID, epoch)

	page, err := s.messages.FetchMessages(ctx, roomID, historyPageSize)
	if err != nil {
		ferr := s.call(func() {
			if s.epoch == epoch {
				s.loadFailed = true
			}
		})
		if ferr != nil {
			return ferr
		}
		slog.Error("history fetch failed", "roomID", roomID, "error", err)
		return fmt.Errorf("loading history for %s: %w", roomID, ErrFetchFailed)
	}

	superseded := false
	if err := s.call(func() {
		if s.epoch != epoch {
			superseded = true
			return
		}
		s.installHistory(page, epoch)
	}); err != nil {
		return err
	}
	if superseded {
		return ErrSuperseded
	}
	return nil
}

// Resubscribe re-issues the subscribe step for the open room after the
// feed dropped, without refetching history.
func (s *Store) Resubscribe() error {
	var (
		roomID string
		epoch  uint64
	)
	if err := s.call(func() {
		roomID = s.roomID
		epoch = s.epoch
	}); err != nil {
		return err
	}
	if roomID == "" {
		return ErrNoRoom
	}
	s.subscribeRoom(roomID, epoch)
	return nil
}

// subscribeRoom wires the feed into the loop for one room/epoch. Failures
// and later drops mark the store degraded instead of erroring out.
func (s *Store) subscribeRoom(roomID string, epoch uint64) {
	sub, err := s.feed.Subscribe(bus.Scope{Table: "messages", RoomID: roomID}, func(ev bus.Event) {
		select {
		case s.events <- ev:
		case <-s.done:
		default:
			slog.Warn("event buffer full, dropping event", "roomID", roomID)
		}
	})
	if err != nil {
		slog.Warn("room subscribe failed", "roomID", roomID, "error", err)
		s.post(func() {
			if s.epoch == epoch {
				s.degraded = true
			}
		})
		return
	}

	s.post(func() {
		if s.epoch != epoch {
			s.feed.Unsubscribe(sub)
			return
		}
		if s.sub != nil {
			s.feed.Unsubscribe(s.sub)
		}
		s.sub = sub
		s.degraded = false
	})

	go func() {
		<-sub.Done()
		if sub.Err() == nil {
			return
		}
		s.post(func() {
			if s.epoch == epoch && s.sub == sub {
				s.sub = nil
				s.degraded = true
			}
		})
	}()
}

// installHistory merges the fetched page under any events that arrived
// while the fetch was in flight.
func (s *Store) installHistory(page []models.Message, epoch uint64) {
	for i := range page {
		msg := page[i]
		if s.index[msg.ID] != nil {
			continue
		}
		if len(msg.Reactions) > 0 && s.agg.Summary(msg.ID) == nil {
			s.agg.Replace(msg.ID, msg.Reactions)
		}
		msg.Reactions = nil
		s.insertInOrder(&msg)
		if msg.ReplyTo != "" {
			s.fetchReplyPreview(msg.ID, msg.ReplyTo, epoch)
		}
	}
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

// Send appends an optimistic message to the tail of the open room and
// issues the backend write in the background. The returned message is the
// optimistic entry (temporary id, Pending set); the channel resolves with
// nil once the write is confirmed, or with ErrSendFailed after the entry
// has been rolled back.
func (s *Store) Send(body string, attachments []models.Attachment, replyTo string) (*models.Message, <-chan error, error) {
	result := make(chan error, 1)
	var (
		optimistic models.Message
		opErr      error
	)

	err := s.call(func() {
		if s.roomID == "" {
			opErr = ErrNoRoom
			return
		}
		msg := &models.Message{
			ID:          models.TempIDPrefix + uuid.NewString(),
			RoomID:      s.roomID,
			AuthorID:    s.user,
			Body:        body,
			Attachments: attachments,
			CreatedAt:   time.Now().UTC(),
			ReplyTo:     replyTo,
			Pending:     true,
		}
		s.list = append(s.list, msg)
		s.index[msg.ID] = msg
		optimistic = *msg

		if replyTo != "" {
			s.fetchReplyPreview(msg.ID, replyTo, s.epoch)
		}

		write := *msg
		go s.performSend(write, msg.ID, s.epoch, result)
	})
	if err != nil {
		return nil, nil, err
	}
	if opErr != nil {
		return nil, nil, opErr
	}
	return &optimistic, result, nil
}

func (s *Store) performSend(write models.Message, tempID string, epoch uint64, result chan<- error) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()

	serverID, err := s.messages.InsertMessage(ctx, &write)
	if err != nil {
		slog.Error("send failed", "roomID", write.RoomID, "error", err)
		s.post(func() {
			if entry := s.index[tempID]; entry != nil {
				s.remove(entry)
			}
			result <- fmt.Errorf("sending message: %w", ErrSendFailed)
		})
		return
	}

	s.post(func() {
		if s.epoch != epoch {
			// Room switched mid-send; the optimistic entry is already gone
			// but the write itself succeeded.
			result <- nil
			return
		}
		entry := s.index[tempID]
		switch {
		case entry == nil && s.index[serverID] != nil:
			// The feed won the race and the optimistic entry already
			// adopted the authoritative id. Nothing to do.
		case entry == nil:
			// Rolled back or otherwise gone; never resurrect.
		case s.index[serverID] != nil:
			// Authoritative row arrived as a separate entry; the temp
			// entry is the duplicate.
			s.remove(entry)
		default:
			// Common case: swap the identifier in place, no reordering.
			delete(s.index, tempID)
			entry.ID = serverID
			entry.Pending = false
			s.index[serverID] = entry
		}
		result <- nil
	})
}

// ---------------------------------------------------------------------------
// Local mutations
// ---------------------------------------------------------------------------

// ToggleReaction flips the local user's reaction on a message and mirrors
// the change to the backend. The backend recomputes the full summary and
// pushes it back over the feed, which replaces the local one wholesale.
func (s *Store) ToggleReaction(messageID, emoji string) error {
	var opErr error
	err := s.call(func() {
		entry := s.index[messageID]
		if entry == nil {
			opErr = ErrNotFound
			return
		}
		on := s.agg.Toggle(messageID, emoji, s.user)
		if !entry.Confirmed() {
			// Unconfirmed optimistic entry: local toggle only, the server
			// row does not exist yet.
			return
		}
		go s.performReactionWrite(messageID, emoji, on)
	})
	if err != nil {
		return err
	}
	return opErr
}

func (s *Store) performReactionWrite(messageID, emoji string, on bool) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()

	var err error
	if on {
		err = s.writes.AddReaction(ctx, messageID, s.user, emoji)
	} else {
		err = s.writes.RemoveReaction(ctx, messageID, s.user, emoji)
	}
	if err != nil {
		// The next authoritative summary push corrects the local state.
		slog.Warn("reaction write failed", "messageID", messageID, "emoji", emoji, "error", err)
	}
}

// TogglePin optimistically flips a message's pinned flag and patches the
// backend row. A failed patch reverts the flag.
func (s *Store) TogglePin(messageID string) error {
	var opErr error
	err := s.call(func() {
		entry := s.index[messageID]
		if entry == nil {
			opErr = ErrNotFound
			return
		}
		if !entry.Confirmed() {
			opErr = fmt.Errorf("pinning unconfirmed message: %w", ErrNotFound)
			return
		}
		entry.Pinned = !entry.Pinned
		go s.performPinWrite(entry.RoomID, messageID, entry.Pinned, s.epoch)
	})
	if err != nil {
		return err
	}
	return opErr
}

func (s *Store) performPinWrite(roomID, messageID string, pinned bool, epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()

	err := s.messages.UpdateMessage(ctx, roomID, messageID, database.MessagePatch{Pinned: &pinned})
	if err == nil {
		return
	}
	slog.Warn("pin write failed", "messageID", messageID, "error", err)
	s.post(func() {
		if s.epoch != epoch {
			return
		}
		if entry := s.index[messageID]; entry != nil && entry.Pinned == pinned {
			entry.Pinned = !pinned
		}
	})
}

// ---------------------------------------------------------------------------
// Feed reconciliation
// ---------------------------------------------------------------------------

func (s *Store) handleEvent(ev bus.Event) {
	if ev.RoomID() != s.roomID {
		// Stale subscription event from a previous room.
		return
	}

	switch ev.Name {
	case bus.EventMessageCreate:
		if ev.Message != nil {
			s.reconcileInsert(ev.Message)
		}
	case bus.EventMessageUpdate:
		if ev.Update != nil {
			s.reconcileUpdate(ev.Update)
		}
	case bus.EventMessageDelete:
		if ev.Delete == nil {
			return
		}
		if entry := s.index[ev.Delete.ID]; entry != nil {
			s.remove(entry)
		}
	}
}

// reconcileInsert applies a remote insert. Duplicates of an already-known
// authoritative id are no-ops; the user's own inserts may adopt a pending
// optimistic entry so the temporary and authoritative id never coexist.
// Everything else is inserted in timestamp order, never appended on
// arrival.
func (s *Store) reconcileInsert(msg *models.Message) {
	if s.index[msg.ID] != nil {
		return
	}

	if msg.AuthorID == s.user {
		if pending := s.findPendingMatch(msg); pending != nil {
			delete(s.index, pending.ID)
			s.removeFromList(pending)
			pending.ID = msg.ID
			pending.CreatedAt = msg.CreatedAt
			pending.Pinned = msg.Pinned
			pending.Pending = false
			s.index[msg.ID] = pending
			s.insertInOrder(pending)
			if len(msg.Reactions) > 0 {
				s.agg.Replace(msg.ID, msg.Reactions)
			}
			return
		}
	}

	clone := *msg
	if len(clone.Reactions) > 0 {
		s.agg.Replace(clone.ID, clone.Reactions)
	}
	clone.Reactions = nil
	s.insertInOrder(&clone)
	if clone.ReplyTo != "" {
		s.fetchReplyPreview(clone.ID, clone.ReplyTo, s.epoch)
	}
}

func (s *Store) reconcileUpdate(upd *bus.MessageUpdate) {
	entry := s.index[upd.ID]
	if entry == nil {
		return
	}
	if upd.Pinned != nil {
		entry.Pinned = *upd.Pinned
	}
	if upd.Reactions != nil {
		s.agg.Replace(upd.ID, upd.Reactions)
	}
}

// findPendingMatch locates the oldest unconfirmed own send matching the
// authoritative row.
func (s *Store) findPendingMatch(msg *models.Message) *models.Message {
	for _, entry := range s.list {
		if entry.Pending && entry.AuthorID == s.user && entry.Body == msg.Body && entry.ReplyTo == msg.ReplyTo {
			return entry
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Reply previews
// ---------------------------------------------------------------------------

// fetchReplyPreview loads a minimal view of a reply target without
// blocking display. The result re-enters the loop gated by epoch.
func (s *Store) fetchReplyPreview(messageID, targetID string, epoch uint64) {
	roomID := s.roomID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
		defer cancel()

		target, err := s.messages.FetchMessage(ctx, roomID, targetID)
		if err != nil || target == nil {
			if err != nil {
				slog.Warn("reply preview fetch failed", "targetID", targetID, "error", err)
			}
			return
		}
		s.post(func() {
			if s.epoch != epoch {
				return
			}
			if entry := s.index[messageID]; entry != nil {
				entry.ReplyPreview = &models.ReplyPreview{
					MessageID: target.ID,
					AuthorID:  target.AuthorID,
					Body:      models.TruncatePreview(target.Body),
				}
			}
		})
	}()
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// Snapshot returns a copy of the room's messages in display order, with
// current reaction summaries attached.
func (s *Store) Snapshot() []models.Message {
	var out []models.Message
	_ = s.call(func() {
		out = make([]models.Message, 0, len(s.list))
		for _, entry := range s.list {
			msg := *entry
			msg.Reactions = s.agg.Summary(entry.ID)
			out = append(out, msg)
		}
	})
	return out
}

// Room returns the currently-open room id, or empty.
func (s *Store) Room() string {
	var roomID string
	_ = s.call(func() { roomID = s.roomID })
	return roomID
}

// Degraded reports whether the room's feed subscription is down and the
// local view may be stale.
func (s *Store) Degraded() bool {
	var d bool
	_ = s.call(func() { d = s.degraded })
	return d
}

// LoadFailed reports whether the last history load for the open room
// failed, leaving it empty.
func (s *Store) LoadFailed() bool {
	var f bool
	_ = s.call(func() { f = s.loadFailed })
	return f
}

// ---------------------------------------------------------------------------
// Ordered-list plumbing (loop-owned)
// ---------------------------------------------------------------------------

func (s *Store) insertInOrder(msg *models.Message) {
	s.index[msg.ID] = msg
	i := len(s.list)
	for i > 0 && msg.Before(s.list[i-1]) {
		i--
	}
	s.list = append(s.list, nil)
	copy(s.list[i+1:], s.list[i:])
	s.list[i] = msg
}

func (s *Store) remove(entry *models.Message) {
	delete(s.index, entry.ID)
	s.removeFromList(entry)
	s.agg.Forget(entry.ID)
}

func (s *Store) removeFromList(entry *models.Message) {
	for i, m := range s.list {
		if m == entry {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return
		}
	}
}
