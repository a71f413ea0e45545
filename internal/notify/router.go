// Package notify consumes the global per-user event feed and turns
// non-suppressed message events into notification records, per-room unread
// counters and best-effort platform notifications. The router owns the
// counter map and the record list exclusively; nothing else mutates them.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dkraev/chatsync/internal/bus"
	"github.com/dkraev/chatsync/internal/database"
	"github.com/dkraev/chatsync/internal/models"
)

const (
	recordCap        = 50
	eventBufferSize  = 256
	membershipTimeout = 5 * time.Second
	resubscribeEvery = 500 * time.Millisecond
)

// Router is the single global consumer of the per-user feed.
type Router struct {
	user       string
	feed       bus.Feed
	membership database.MembershipRepository
	notifier   Notifier

	cmds   chan func()
	events chan bus.Event

	closeOnce sync.Once
	done      chan struct{}

	// Owned by the run loop.
	openRoom string
	counters map[string]int
	records  []models.NotificationRecord // newest first
	sub      bus.Subscription
	degraded bool
}

// NewRouter creates a Router and starts its consumer loop. Start must be
// called to attach it to the feed.
func NewRouter(user string, feed bus.Feed, membership database.MembershipRepository, notifier Notifier) *Router {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	r := &Router{
		user:       user,
		feed:       feed,
		membership: membership,
		notifier:   notifier,
		cmds:       make(chan func()),
		events:     make(chan bus.Event, eventBufferSize),
		done:       make(chan struct{}),
		counters:   make(map[string]int),
	}
	go r.run()
	return r
}

// Start subscribes the router to the global feed. Dropped subscriptions
// re-subscribe automatically; the degraded flag is up while detached.
func (r *Router) Start() error {
	return r.subscribe()
}

// Close stops the router permanently.
func (r *Router) Close() {
	_ = r.call(func() {
		if r.sub != nil {
			r.feed.Unsubscribe(r.sub)
			r.sub = nil
		}
	})
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Router) run() {
	for {
		select {
		case fn := <-r.cmds:
			fn()
		case ev := <-r.events:
			r.handleEvent(ev)
		case <-r.done:
			return
		}
	}
}

func (r *Router) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case r.cmds <- func() { fn(); close(ran) }:
	case <-r.done:
		return context.Canceled
	}
	select {
	case <-ran:
		return nil
	case <-r.done:
		return context.Canceled
	}
}

func (r *Router) post(fn func()) {
	select {
	case r.cmds <- fn:
	case <-r.done:
	}
}

// subscribe attaches to the per-user global scope and arranges automatic
// re-subscription after drops.
func (r *Router) subscribe() error {
	sub, err := r.feed.Subscribe(bus.Scope{Table: "messages"}, func(ev bus.Event) {
		select {
		case r.events <- ev:
		case <-r.done:
		default:
			slog.Warn("notification event buffer full, dropping event")
		}
	})
	if err != nil {
		return err
	}

	r.post(func() {
		if r.sub != nil {
			r.feed.Unsubscribe(r.sub)
		}
		r.sub = sub
		r.degraded = false
	})

	go func() {
		<-sub.Done()
		if sub.Err() == nil {
			return
		}
		r.post(func() {
			if r.sub == sub {
				r.sub = nil
				r.degraded = true
			}
		})
		r.retrySubscribe()
	}()
	return nil
}

func (r *Router) retrySubscribe() {
	for {
		select {
		case <-r.done:
			return
		case <-time.After(resubscribeEvery):
		}
		if err := r.subscribe(); err == nil {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Event processing
// ---------------------------------------------------------------------------

// handleEvent decides whether an incoming message surfaces. Suppression is
// evaluated here, at processing time: an event for a room the user left a
// moment ago still counts, because it arrived while the room was closed.
func (r *Router) handleEvent(ev bus.Event) {
	if ev.Name != bus.EventMessageCreate {
		// Pin and reaction updates never generate notifications.
		return
	}
	msg := ev.Message
	if msg == nil {
		return
	}

	if msg.AuthorID == r.user {
		return
	}
	if msg.RoomID == r.openRoom {
		// The message store renders the open room live.
		return
	}

	// Membership may have been revoked between subscribing and this event
	// arriving; a failed probe is a silent suppress, not an error.
	ctx, cancel := context.WithTimeout(context.Background(), membershipTimeout)
	member, err := r.membership.FetchMembership(ctx, msg.RoomID, r.user)
	cancel()
	if err != nil {
		slog.Debug("membership probe failed, suppressing", "roomID", msg.RoomID, "error", err)
		return
	}
	if !member {
		return
	}

	record := models.NotificationRecord{
		RoomID:    msg.RoomID,
		AuthorID:  msg.AuthorID,
		Preview:   models.TruncatePreview(msg.Body),
		CreatedAt: msg.CreatedAt,
	}
	r.records = append([]models.NotificationRecord{record}, r.records...)
	if len(r.records) > recordCap {
		r.records = r.records[:recordCap]
	}
	r.counters[msg.RoomID]++

	// Best effort: never blocks the loop, never retried.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), membershipTimeout)
		defer cancel()
		if err := r.notifier.Notify(ctx, record.AuthorID, record.Preview, record.RoomID); err != nil {
			slog.Debug("platform notification failed", "roomID", record.RoomID, "error", err)
		}
	}()
}

// ---------------------------------------------------------------------------
// Commands and views
// ---------------------------------------------------------------------------

// MarkRoomOpen records roomID as the currently-open room and resets its
// unread counter to zero. Existing notification records keep their read
// flags; counters and read flags are deliberately decoupled.
func (r *Router) MarkRoomOpen(roomID string) {
	_ = r.call(func() {
		r.openRoom = roomID
		delete(r.counters, roomID)
	})
}

// MarkAllRead flags every notification record as read. Unread counters are
// untouched: they track per-room attention, not notification history.
func (r *Router) MarkAllRead() {
	_ = r.call(func() {
		for i := range r.records {
			r.records[i].Read = true
		}
	})
}

// Records returns the notification feed, newest first.
func (r *Router) Records() []models.NotificationRecord {
	var out []models.NotificationRecord
	_ = r.call(func() {
		out = make([]models.NotificationRecord, len(r.records))
		copy(out, r.records)
	})
	return out
}

// Unread returns a copy of the per-room unread counters.
func (r *Router) Unread() map[string]int {
	out := make(map[string]int)
	_ = r.call(func() {
		for room, n := range r.counters {
			out[room] = n
		}
	})
	return out
}

// UnreadFor returns one room's unread counter.
func (r *Router) UnreadFor(roomID string) int {
	var n int
	_ = r.call(func() { n = r.counters[roomID] })
	return n
}

// Degraded reports whether the global subscription is currently down.
func (r *Router) Degraded() bool {
	var d bool
	_ = r.call(func() { d = r.degraded })
	return d
}
