// Package bus adapts the backend's pushed subscription feed into typed
// domain events. Delivery is at-least-once: events may arrive duplicated or
// out of order, and consumers are expected to deduplicate and re-order.
package bus

import (
	"encoding/json"

	"github.com/dkraev/chatsync/internal/models"
)

// Op codes for feed payloads.
const (
	OpDispatch     = 0
	OpHeartbeat    = 1
	OpIdentify     = 2
	OpSubscribe    = 4
	OpUnsubscribe  = 5
	OpHello        = 10
	OpHeartbeatAck = 11
)

// Event names carried in dispatch payloads.
const (
	EventMessageCreate = "MESSAGE_CREATE"
	EventMessageUpdate = "MESSAGE_UPDATE"
	EventMessageDelete = "MESSAGE_DELETE"
)

// Payload is the envelope for all feed frames.
type Payload struct {
	Op    int             `json:"op"`
	Data  json.RawMessage `json:"d,omitempty"`
	Event *string         `json:"t,omitempty"`
}

// IdentifyData is sent by the client right after connecting.
type IdentifyData struct {
	Token string `json:"token"`
}

// HelloData is sent by the server after the connection is accepted.
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"` // milliseconds
}

// SubscribeData scopes a subscription server-side.
type SubscribeData struct {
	ID     int64  `json:"id"`
	Table  string `json:"table"`
	RoomID string `json:"room_id,omitempty"`
}

// MessageUpdate is the row patch carried by a MESSAGE_UPDATE event. Nil
// fields were not touched by the update.
type MessageUpdate struct {
	ID        string                 `json:"id"`
	RoomID    string                 `json:"room_id"`
	Pinned    *bool                  `json:"pinned,omitempty"`
	Reactions models.ReactionSummary `json:"reactions,omitempty"`
}

// MessageDelete identifies a remotely deleted row.
type MessageDelete struct {
	ID     string `json:"id"`
	RoomID string `json:"room_id"`
}

// Event is one typed domain event. Exactly one of the payload fields is
// set, matching Name.
type Event struct {
	Name    string
	Message *models.Message
	Update  *MessageUpdate
	Delete  *MessageDelete
}

// RoomID returns the room the event targets.
func (e Event) RoomID() string {
	switch {
	case e.Message != nil:
		return e.Message.RoomID
	case e.Update != nil:
		return e.Update.RoomID
	case e.Delete != nil:
		return e.Delete.RoomID
	}
	return ""
}

// decodeEvent parses a dispatch payload into a typed Event. Unknown event
// names return ok=false and are skipped by the client.
func decodeEvent(name string, data json.RawMessage) (Event, bool) {
	switch name {
	case EventMessageCreate:
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return Event{}, false
		}
		return Event{Name: name, Message: &msg}, true
	case EventMessageUpdate:
		var upd MessageUpdate
		if err := json.Unmarshal(data, &upd); err != nil {
			return Event{}, false
		}
		return Event{Name: name, Update: &upd}, true
	case EventMessageDelete:
		var del MessageDelete
		if err := json.Unmarshal(data, &del); err != nil {
			return Event{}, false
		}
		return Event{Name: name, Delete: &del}, true
	}
	return Event{}, false
}
