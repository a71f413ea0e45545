package bus

import (
	"errors"
	"sync"
)

// ErrSubscriptionDropped signals that the feed connection behind a
// subscription was lost. Consumers holding local state should treat it as
// potentially stale and re-issue their subscribe step.
var ErrSubscriptionDropped = errors.New("bus: subscription dropped")

// Scope selects which rows a subscription observes. An empty RoomID means
// the per-user global feed (every room the user has access to).
type Scope struct {
	Table  string
	RoomID string
}

// Handler receives events for a subscription. Handlers are invoked from
// the feed's read loop and must not block; consumers queue into their own
// serialization loop.
type Handler func(Event)

// Subscription is a live handle onto the feed. Done is closed when the
// subscription ends; Err is ErrSubscriptionDropped after a connection
// loss, nil after a clean Unsubscribe.
type Subscription interface {
	Done() <-chan struct{}
	Err() error
}

// Feed is the consumed event-bus collaborator interface.
type Feed interface {
	Subscribe(scope Scope, h Handler) (Subscription, error)
	Unsubscribe(sub Subscription)
}

// clientSub is Client's Subscription implementation.
type clientSub struct {
	id      int64
	scope   Scope
	handler Handler

	once sync.Once
	done chan struct{}
	err  error
}

func newClientSub(id int64, scope Scope, h Handler) *clientSub {
	return &clientSub{
		id:      id,
		scope:   scope,
		handler: h,
		done:    make(chan struct{}),
	}
}

func (s *clientSub) Done() <-chan struct{} {
	return s.done
}

func (s *clientSub) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *clientSub) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// matches reports whether an event falls inside the subscription's scope.
func (s *clientSub) matches(ev Event) bool {
	if s.scope.RoomID == "" {
		return true
	}
	return s.scope.RoomID == ev.RoomID()
}
