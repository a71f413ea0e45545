package models

import "time"

// NotificationRecord is one entry in the bounded notification feed.
type NotificationRecord struct {
	RoomID     string    `json:"room_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Preview    string    `json:"preview"`
	CreatedAt  time.Time `json:"created_at"`
	Read       bool      `json:"read"`
}
