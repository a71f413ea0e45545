// Package voice tracks the local user's voice session and mirrors it into a
// shared Redis roster so other clients can render channel participation.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dkraev/chatsync/internal/models"
)

const (
	rosterPrefix = "voice:"
	// Entries expire unless refreshed; a client that dies without leaving
	// cleanly drops off the roster within this window.
	rosterTTL = 90 * time.Second
)

// Roster is the Redis-backed participant registry for voice channels. All
// writes are advisory: the roster never gates local state transitions.
type Roster struct {
	rdb *goredis.Client
}

// NewRoster creates a Roster from a Redis URL and verifies the connection.
func NewRoster(redisURL string) (*Roster, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Roster{rdb: rdb}, nil
}

// NewRosterFromClient wraps an existing Redis client.
func NewRosterFromClient(rdb *goredis.Client) *Roster {
	return &Roster{rdb: rdb}
}

// Close closes the Redis connection.
func (r *Roster) Close() error {
	return r.rdb.Close()
}

func rosterKey(channelID, userID string) string {
	return rosterPrefix + channelID + ":" + userID
}

// Announce publishes or updates the user's roster entry with a fresh TTL.
func (r *Roster) Announce(ctx context.Context, state models.VoiceState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding voice state: %w", err)
	}
	return r.rdb.Set(ctx, rosterKey(state.ChannelID, state.UserID), payload, rosterTTL).Err()
}

// Refresh extends the TTL of an existing roster entry without rewriting it.
func (r *Roster) Refresh(ctx context.Context, channelID, userID string) error {
	return r.rdb.Expire(ctx, rosterKey(channelID, userID), rosterTTL).Err()
}

// Withdraw removes the user's roster entry.
func (r *Roster) Withdraw(ctx context.Context, channelID, userID string) error {
	return r.rdb.Del(ctx, rosterKey(channelID, userID)).Err()
}

// Participants returns the voice states currently announced for a channel.
func (r *Roster) Participants(ctx context.Context, channelID string) ([]models.VoiceState, error) {
	pattern := rosterPrefix + channelID + ":*"

	var states []models.VoiceState
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning roster keys: %w", err)
		}
		for _, key := range keys {
			val, err := r.rdb.Get(ctx, key).Result()
			if err == goredis.Nil {
				continue // expired between scan and get
			}
			if err != nil {
				return nil, fmt.Errorf("reading roster entry: %w", err)
			}
			var state models.VoiceState
			if err := json.Unmarshal([]byte(val), &state); err != nil {
				continue // skip malformed entries from older clients
			}
			states = append(states, state)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return states, nil
}
