package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkraev/chatsync/internal/models"
)

type membershipRepo struct {
	pool *pgxpool.Pool
}

func NewMembershipRepository(pool *pgxpool.Pool) MembershipRepository {
	return &membershipRepo{pool: pool}
}

// FetchMembership probes room access. Channels are checked against the
// members table; DM threads against the pair key itself — a user is a
// member of a DM exactly when their id is one of the pair.
func (r *membershipRepo) FetchMembership(ctx context.Context, roomID, userID string) (bool, error) {
	if models.IsDMKey(roomID) {
		return roomID == models.DMKey(userID, otherDMParty(roomID, userID)), nil
	}

	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2
		 )`,
		roomID, userID,
	).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// otherDMParty extracts the participant of a DM key that is not userID.
func otherDMParty(roomID, userID string) string {
	// Key shape is dm:<a>:<b> with a sorted before b.
	rest := roomID[len("dm:"):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			a, b := rest[:i], rest[i+1:]
			if a == userID {
				return b
			}
			return a
		}
	}
	return ""
}
