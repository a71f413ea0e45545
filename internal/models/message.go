package models

import (
	"strings"
	"time"
)

// TempIDPrefix marks client-assigned message identifiers that have not yet
// been confirmed by the backend.
const TempIDPrefix = "tmp-"

// Message is a single chat message as held by the client.
type Message struct {
	ID          string          `json:"id"`
	RoomID      string          `json:"room_id"`
	AuthorID    string          `json:"author_id"`
	Body        string          `json:"body"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Pinned      bool            `json:"pinned"`
	ReplyTo     string          `json:"reply_to,omitempty"`
	Reactions   ReactionSummary `json:"reactions,omitempty"`

	// Pending is true while the message is an optimistic local entry
	// awaiting backend confirmation.
	Pending bool `json:"pending,omitempty"`

	// ReplyPreview is filled in asynchronously for messages that reference
	// a reply target.
	ReplyPreview *ReplyPreview `json:"reply_preview,omitempty"`
}

// Confirmed reports whether the message carries a server-assigned identifier.
func (m *Message) Confirmed() bool {
	return !strings.HasPrefix(m.ID, TempIDPrefix)
}

// Before reports whether m sorts ahead of other in room display order:
// creation timestamp first, identifier as the tie-breaker.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Attachment is a file attached to a message.
type Attachment struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// ReplyPreview is the minimal view of a reply target shown above a message.
type ReplyPreview struct {
	MessageID string `json:"message_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
}

const previewMaxLen = 80

// TruncatePreview shortens body text for reply previews and notifications.
func TruncatePreview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewMaxLen {
		return body
	}
	return string(runes[:previewMaxLen]) + "…"
}
