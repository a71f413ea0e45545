package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkraev/chatsync/internal/models"
)

var (
	// ErrNotInVoice is returned by operations that require an active
	// voice session.
	ErrNotInVoice = errors.New("not in a voice channel")
)

const (
	tokenTTL        = 24 * time.Hour
	heartbeatEvery  = rosterTTL / 3
	rosterCallLimit = 5 * time.Second
)

// Manager owns the local user's voice session: which channel the user is in
// and the mute/deafen flags. State transitions apply locally first; the
// Redis roster is updated asynchronously and never blocks or vetoes them.
type Manager struct {
	user      string
	username  string
	apiKey    string
	apiSecret string
	roster    *Roster // nil disables mirroring

	mu        sync.Mutex
	state     models.VoiceState
	stopBeats chan struct{}
}

// NewManager creates a Manager for one user. roster may be nil, in which
// case sessions stay local-only.
func NewManager(user, username, apiKey, apiSecret string, roster *Roster) *Manager {
	return &Manager{
		user:      user,
		username:  username,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		roster:    roster,
		state:     models.VoiceState{UserID: user},
	}
}

// JoinResult carries the freshly minted media token for a joined channel.
type JoinResult struct {
	ChannelID string `json:"channel_id"`
	Token     string `json:"token"`
}

// Join connects to a voice channel, leaving the previous one if needed.
// Joining is always permitted; a fresh media token is minted on every call.
func (m *Manager) Join(ctx context.Context, channelID string) (*JoinResult, error) {
	token, err := m.mintToken("voice-" + channelID)
	if err != nil {
		return nil, fmt.Errorf("minting voice token: %w", err)
	}

	m.mu.Lock()
	prev := m.state
	m.state = models.VoiceState{
		UserID:    m.user,
		ChannelID: channelID,
		JoinedAt:  time.Now(),
	}
	m.stopHeartbeatLocked()
	m.startHeartbeatLocked()
	announce := m.state
	m.mu.Unlock()

	if prev.Connected() && prev.ChannelID != channelID {
		m.withdrawAsync(prev.ChannelID)
	}
	m.announceAsync(announce)

	return &JoinResult{ChannelID: channelID, Token: token}, nil
}

// Leave disconnects from the current voice channel.
func (m *Manager) Leave() error {
	m.mu.Lock()
	if !m.state.Connected() {
		m.mu.Unlock()
		return ErrNotInVoice
	}
	prev := m.state
	m.state = models.VoiceState{UserID: m.user}
	m.stopHeartbeatLocked()
	m.mu.Unlock()

	m.withdrawAsync(prev.ChannelID)
	return nil
}

// ToggleMute flips the mute flag and returns the new value. Unmuting while
// deafened also clears deafen: hearing resumes together with speaking.
func (m *Manager) ToggleMute() (models.VoiceState, error) {
	m.mu.Lock()
	if !m.state.Connected() {
		m.mu.Unlock()
		return models.VoiceState{}, ErrNotInVoice
	}
	if m.state.Muted {
		m.state.Muted = false
		m.state.Deafened = false
	} else {
		m.state.Muted = true
	}
	state := m.state
	m.mu.Unlock()

	m.announceAsync(state)
	return state, nil
}

// ToggleDeafen flips the deafen flag and returns the new state. Deafening
// forces mute on; undeafening leaves mute as it was.
func (m *Manager) ToggleDeafen() (models.VoiceState, error) {
	m.mu.Lock()
	if !m.state.Connected() {
		m.mu.Unlock()
		return models.VoiceState{}, ErrNotInVoice
	}
	if m.state.Deafened {
		m.state.Deafened = false
	} else {
		m.state.Deafened = true
		m.state.Muted = true
	}
	state := m.state
	m.mu.Unlock()

	m.announceAsync(state)
	return state, nil
}

// State returns a snapshot of the current voice state.
func (m *Manager) State() models.VoiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Participants lists the announced voice states for a channel.
func (m *Manager) Participants(ctx context.Context, channelID string) ([]models.VoiceState, error) {
	if m.roster == nil {
		return nil, nil
	}
	return m.roster.Participants(ctx, channelID)
}

// Close tears down the session if one is active.
func (m *Manager) Close() {
	if err := m.Leave(); err != nil && !errors.Is(err, ErrNotInVoice) {
		slog.Warn("leaving voice on close", "error", err)
	}
}

// startHeartbeatLocked begins periodic roster TTL refreshes for the current
// session. Caller must hold m.mu.
func (m *Manager) startHeartbeatLocked() {
	if m.roster == nil {
		return
	}
	stop := make(chan struct{})
	m.stopBeats = stop
	channelID := m.state.ChannelID

	go func() {
		ticker := time.NewTicker(heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), rosterCallLimit)
				if err := m.roster.Refresh(ctx, channelID, m.user); err != nil {
					slog.Debug("roster refresh failed", "channelID", channelID, "error", err)
				}
				cancel()
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.stopBeats != nil {
		close(m.stopBeats)
		m.stopBeats = nil
	}
}

func (m *Manager) announceAsync(state models.VoiceState) {
	if m.roster == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rosterCallLimit)
		defer cancel()
		if err := m.roster.Announce(ctx, state); err != nil {
			slog.Warn("roster announce failed", "channelID", state.ChannelID, "error", err)
		}
	}()
}

func (m *Manager) withdrawAsync(channelID string) {
	if m.roster == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rosterCallLimit)
		defer cancel()
		if err := m.roster.Withdraw(ctx, channelID, m.user); err != nil {
			slog.Warn("roster withdraw failed", "channelID", channelID, "error", err)
		}
	}()
}

// mintToken creates a LiveKit-compatible access token. LiveKit tokens use
// HS256 with the API secret and carry a "video" grant naming the room.
func (m *Manager) mintToken(roomName string) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss":  m.apiKey,
		"sub":  m.user,
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(tokenTTL).Unix(),
		"name": m.username,
		"video": map[string]interface{}{
			"roomJoin": true,
			"room":     roomName,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.apiSecret))
}
