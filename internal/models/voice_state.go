package models

import "time"

// VoiceState is the local user's voice flags and channel membership.
// Deafened implies Muted at all times.
type VoiceState struct {
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	Muted     bool      `json:"muted"`
	Deafened  bool      `json:"deafened"`
	JoinedAt  time.Time `json:"joined_at,omitempty"`
}

// Connected reports whether the user is in a voice channel.
func (v *VoiceState) Connected() bool {
	return v.ChannelID != ""
}
