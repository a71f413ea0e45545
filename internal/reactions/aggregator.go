// Package reactions owns the per-message reaction summaries: the mapping
// from emoji to the set of users who reacted with it. The message store
// treats summaries as opaque data; all mutation goes through the Aggregator.
package reactions

import (
	"sort"
	"sync"

	"github.com/dkraev/chatsync/internal/models"
)

// Aggregator maintains reaction summaries for the currently-open room.
// Local toggles and remote updates apply through the same methods, so a
// duplicate delivery of the same logical toggle is a no-op.
type Aggregator struct {
	mu        sync.Mutex
	summaries map[string]models.ReactionSummary // messageID → summary
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{summaries: make(map[string]models.ReactionSummary)}
}

// Reset discards all summaries and seeds the aggregator from loaded
// messages. Called when a room is opened.
func (a *Aggregator) Reset(seed map[string]models.ReactionSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.summaries = make(map[string]models.ReactionSummary, len(seed))
	for id, s := range seed {
		if len(s) > 0 {
			a.summaries[id] = s.Clone()
		}
	}
}

// Toggle flips userID's reaction with emoji on messageID and reports
// whether the user ended up reacted ("on"). An emoji entry whose user set
// drains is removed entirely.
func (a *Aggregator) Toggle(messageID, emoji, userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := a.summaries[messageID]
	if summary == nil {
		summary = make(models.ReactionSummary)
		a.summaries[messageID] = summary
	}

	entry := summary[emoji]
	if entry == nil {
		summary[emoji] = &models.ReactionEntry{Users: []string{userID}, Count: 1}
		return true
	}

	for i, u := range entry.Users {
		if u == userID {
			entry.Users = append(entry.Users[:i], entry.Users[i+1:]...)
			entry.Count = len(entry.Users)
			if entry.Count == 0 {
				delete(summary, emoji)
				if len(summary) == 0 {
					delete(a.summaries, messageID)
				}
			}
			return false
		}
	}

	entry.Users = append(entry.Users, userID)
	entry.Count = len(entry.Users)
	return true
}

// Replace installs the authoritative summary for a message wholesale,
// discarding any local state for it. The backend recomputes full summaries
// server-side, so last-writer-wins at message granularity avoids divergence
// from interleaved toggles by different users.
func (a *Aggregator) Replace(messageID string, summary models.ReactionSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cleaned := make(models.ReactionSummary)
	for emoji, e := range summary {
		if e == nil || len(e.Users) == 0 {
			continue
		}
		users := make([]string, len(e.Users))
		copy(users, e.Users)
		cleaned[emoji] = &models.ReactionEntry{Users: users, Count: len(users)}
	}

	if len(cleaned) == 0 {
		delete(a.summaries, messageID)
		return
	}
	a.summaries[messageID] = cleaned
}

// Summary returns a copy of the current summary for a message, or nil if
// it has no reactions.
func (a *Aggregator) Summary(messageID string) models.ReactionSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summaries[messageID].Clone()
}

// Forget drops the summary for a message (remote delete or rollback).
func (a *Aggregator) Forget(messageID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.summaries, messageID)
}

// Emojis returns the emoji symbols present on a message in sorted order.
// Mostly a convenience for tests and debug output.
func (a *Aggregator) Emojis(messageID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := a.summaries[messageID]
	out := make([]string, 0, len(summary))
	for emoji := range summary {
		out = append(out, emoji)
	}
	sort.Strings(out)
	return out
}
