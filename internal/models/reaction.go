package models

// ReactionEntry holds the reacting users for one emoji on one message.
// Count always equals len(Users); an entry whose user set drained is
// removed from the summary, never kept at zero.
type ReactionEntry struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// Contains reports whether userID is in the entry's reactor set.
func (e *ReactionEntry) Contains(userID string) bool {
	for _, u := range e.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// ReactionSummary maps an emoji symbol to its reactor set.
type ReactionSummary map[string]*ReactionEntry

// Clone returns a deep copy of the summary.
func (s ReactionSummary) Clone() ReactionSummary {
	if s == nil {
		return nil
	}
	out := make(ReactionSummary, len(s))
	for emoji, e := range s {
		users := make([]string, len(e.Users))
		copy(users, e.Users)
		out[emoji] = &ReactionEntry{Users: users, Count: e.Count}
	}
	return out
}
