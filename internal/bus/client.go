package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	heartbeatTimeout = 10 * time.Second
	maxMessageSize   = 1 << 20
	sendBufferSize   = 256

	defaultHeartbeatInterval = 41250 * time.Millisecond

	redialMin = time.Second
	redialMax = 30 * time.Second
)

// Client maintains a websocket connection to the backend feed endpoint and
// fans dispatched events out to scoped subscriptions. On connection loss
// every live subscription fails with ErrSubscriptionDropped and the client
// dials again with capped backoff; re-subscribing is the consumer's call.
type Client struct {
	url   string
	token string

	mu        sync.Mutex
	subs      map[int64]*clientSub
	nextID    int64
	send      chan []byte // nil while disconnected
	connected bool

	lastAck atomic.Int64 // unix millis of last heartbeat ack

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient creates a feed client for the given websocket URL and user
// token. Run must be called before events flow.
func NewClient(url, token string) *Client {
	return &Client{
		url:    url,
		token:  token,
		subs:   make(map[int64]*clientSub),
		closed: make(chan struct{}),
	}
}

// Subscribe registers a handler for events in scope. If the client is
// currently disconnected the subscription is held and activated on the
// next successful dial.
func (c *Client) Subscribe(scope Scope, h Handler) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return nil, ErrSubscriptionDropped
	default:
	}

	c.nextID++
	sub := newClientSub(c.nextID, scope, h)
	c.subs[sub.id] = sub

	if c.connected {
		c.enqueueLocked(subscribeFrame(sub))
	}
	return sub, nil
}

// Unsubscribe removes a subscription and closes its Done channel.
func (c *Client) Unsubscribe(sub Subscription) {
	cs, ok := sub.(*clientSub)
	if !ok || cs == nil {
		return
	}
	c.mu.Lock()
	if _, live := c.subs[cs.id]; live {
		delete(c.subs, cs.id)
		if c.connected {
			c.enqueueLocked(mustMarshalPayload(Payload{
				Op:   OpUnsubscribe,
				Data: mustMarshal(SubscribeData{ID: cs.id}),
			}))
		}
	}
	c.mu.Unlock()
	cs.fail(nil)
}

// Connected reports whether the feed connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close shuts the client down permanently.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Run dials the feed and services it until ctx is cancelled or Close is
// called. It blocks; run it on its own goroutine.
func (c *Client) Run(ctx context.Context) {
	backoff := redialMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		start := time.Now()
		err := c.runConn(ctx)
		if err != nil {
			slog.Warn("feed connection lost", "error", err)
		}
		c.dropSubscriptions()

		// A connection that lived a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			backoff = redialMin
		}

		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > redialMax {
			backoff = redialMax
		}
	}
}

// runConn dials once and services the connection until it fails.
func (c *Client) runConn(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	send := make(chan []byte, sendBufferSize)
	c.mu.Lock()
	c.send = send
	c.connected = true
	// Activate subscriptions registered while disconnected.
	pending := make([][]byte, 0, len(c.subs))
	for _, sub := range c.subs {
		pending = append(pending, subscribeFrame(sub))
	}
	c.mu.Unlock()

	c.lastAck.Store(time.Now().UnixMilli())

	writerDone := make(chan struct{})
	interval := make(chan time.Duration, 1)
	go c.writePump(conn, send, interval, writerDone)

	enqueue := func(frame []byte) {
		select {
		case send <- frame:
		default:
			slog.Warn("feed send buffer full, dropping frame")
		}
	}

	enqueue(mustMarshalPayload(Payload{
		Op:   OpIdentify,
		Data: mustMarshal(IdentifyData{Token: c.token}),
	}))
	for _, frame := range pending {
		enqueue(frame)
	}

	readErr := c.readLoop(conn, enqueue, interval)

	c.mu.Lock()
	c.send = nil
	c.connected = false
	c.mu.Unlock()

	close(send)
	<-writerDone
	return readErr
}

func (c *Client) readLoop(conn *websocket.Conn, enqueue func([]byte), interval chan<- time.Duration) error {
	conn.SetReadLimit(maxMessageSize)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var payload Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			slog.Error("invalid feed payload", "error", err)
			continue
		}

		switch payload.Op {
		case OpHello:
			var hello HelloData
			hb := defaultHeartbeatInterval
			if err := json.Unmarshal(payload.Data, &hello); err == nil && hello.HeartbeatInterval > 0 {
				hb = time.Duration(hello.HeartbeatInterval) * time.Millisecond
			}
			select {
			case interval <- hb:
			default:
			}

		case OpHeartbeat:
			enqueue(mustMarshalPayload(Payload{Op: OpHeartbeatAck}))

		case OpHeartbeatAck:
			c.lastAck.Store(time.Now().UnixMilli())

		case OpDispatch:
			if payload.Event == nil {
				continue
			}
			ev, ok := decodeEvent(*payload.Event, payload.Data)
			if !ok {
				continue
			}
			c.dispatch(ev)
		}
	}
}

// writePump owns all writes: queued frames plus timed heartbeats. The
// heartbeat ticker starts once the server's hello announces an interval.
func (c *Client) writePump(conn *websocket.Conn, send <-chan []byte, interval <-chan time.Duration, done chan<- struct{}) {
	defer close(done)

	var ticker *time.Ticker
	var tick <-chan time.Time
	hb := defaultHeartbeatInterval
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case frame, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = conn.Close()
				return
			}

		case hb = <-interval:
			if ticker != nil {
				ticker.Stop()
			}
			ticker = time.NewTicker(hb)
			tick = ticker.C

		case <-tick:
			if time.Since(time.UnixMilli(c.lastAck.Load())) > hb+heartbeatTimeout {
				slog.Warn("feed heartbeat timeout")
				_ = conn.Close()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, mustMarshalPayload(Payload{Op: OpHeartbeat})); err != nil {
				_ = conn.Close()
				return
			}

		case <-c.closed:
			_ = conn.Close()
			return
		}
	}
}

// dispatch fans an event out to every matching subscription.
func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	matched := make([]*clientSub, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.matches(ev) {
			matched = append(matched, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range matched {
		sub.handler(ev)
	}
}

// dropSubscriptions fails every live subscription after a connection loss.
func (c *Client) dropSubscriptions() {
	c.mu.Lock()
	dropped := make([]*clientSub, 0, len(c.subs))
	for id, sub := range c.subs {
		dropped = append(dropped, sub)
		delete(c.subs, id)
	}
	c.mu.Unlock()

	for _, sub := range dropped {
		sub.fail(ErrSubscriptionDropped)
	}
}

func (c *Client) enqueueLocked(frame []byte) {
	if c.send == nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		slog.Warn("feed send buffer full, dropping frame")
	}
}

func subscribeFrame(sub *clientSub) []byte {
	return mustMarshalPayload(Payload{
		Op: OpSubscribe,
		Data: mustMarshal(SubscribeData{
			ID:     sub.id,
			Table:  sub.scope.Table,
			RoomID: sub.scope.RoomID,
		}),
	})
}

// mustMarshal marshals v to json.RawMessage, panicking on error. Only for
// statically-known types that cannot fail.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("bus: mustMarshal: " + err.Error())
	}
	return data
}

func mustMarshalPayload(p Payload) []byte {
	data, err := json.Marshal(p)
	if err != nil {
		panic("bus: mustMarshalPayload: " + err.Error())
	}
	return data
}
