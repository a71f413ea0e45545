// Package database is the data-access collaborator: the query/write
// surface the sync core consumes. The concrete implementation talks to
// the hosted backend's Postgres; the interfaces exist so the core and its
// tests never depend on it.
package database

import (
	"context"

	"github.com/dkraev/chatsync/internal/models"
)

// MessagePatch is a partial update to a message row. Nil fields are left
// untouched.
type MessagePatch struct {
	Pinned *bool
}

type MessageRepository interface {
	// FetchMessages returns the most recent limit messages of a room in
	// ascending display order.
	FetchMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	// FetchMessage returns one message of a room, or nil if absent.
	FetchMessage(ctx context.Context, roomID, id string) (*models.Message, error)
	// InsertMessage writes a message and returns its server-assigned id.
	InsertMessage(ctx context.Context, msg *models.Message) (string, error)
	UpdateMessage(ctx context.Context, roomID, id string, patch MessagePatch) error
}

type MembershipRepository interface {
	// FetchMembership reports whether userID currently has access to roomID.
	FetchMembership(ctx context.Context, roomID, userID string) (bool, error)
}

type ReactionRepository interface {
	// AddReaction / RemoveReaction record one user's reaction; the backend
	// recomputes the message's full summary and pushes it over the feed.
	AddReaction(ctx context.Context, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
}
