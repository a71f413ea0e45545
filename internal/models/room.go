package models

import "strings"

// DMKey returns the canonical room key for a direct-message thread between
// two users. The key is invariant under argument order.
func DMKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// IsDMKey reports whether roomID names a direct-message thread.
func IsDMKey(roomID string) bool {
	return strings.HasPrefix(roomID, "dm:")
}
