package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dkraev/chatsync/internal/voice"
)

// VoiceHandler exposes the voice session manager to the UI.
type VoiceHandler struct {
	manager *voice.Manager
}

// NewVoiceHandler creates a VoiceHandler.
func NewVoiceHandler(m *voice.Manager) *VoiceHandler {
	return &VoiceHandler{manager: m}
}

// Join handles POST /api/v1/voice/:channel_id/join.
func (h *VoiceHandler) Join(c echo.Context) error {
	channelID := c.Param("channel_id")
	if channelID == "" {
		return Error(c, http.StatusBadRequest, "INVALID_ID", "channel ID is required")
	}

	result, err := h.manager.Join(c.Request().Context(), channelID)
	if err != nil {
		return mapCoreError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Leave handles POST /api/v1/voice/leave.
func (h *VoiceHandler) Leave(c echo.Context) error {
	if err := h.manager.Leave(); err != nil {
		return mapCoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ToggleMute handles POST /api/v1/voice/mute.
func (h *VoiceHandler) ToggleMute(c echo.Context) error {
	state, err := h.manager.ToggleMute()
	if err != nil {
		return mapCoreError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// ToggleDeafen handles POST /api/v1/voice/deafen.
func (h *VoiceHandler) ToggleDeafen(c echo.Context) error {
	state, err := h.manager.ToggleDeafen()
	if err != nil {
		return mapCoreError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// State handles GET /api/v1/voice.
func (h *VoiceHandler) State(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.State())
}

// Participants handles GET /api/v1/voice/:channel_id/participants.
func (h *VoiceHandler) Participants(c echo.Context) error {
	channelID := c.Param("channel_id")
	if channelID == "" {
		return Error(c, http.StatusBadRequest, "INVALID_ID", "channel ID is required")
	}

	states, err := h.manager.Participants(c.Request().Context(), channelID)
	if err != nil {
		return Error(c, http.StatusBadGateway, "ROSTER_UNAVAILABLE", "voice roster unavailable")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"participants": states})
}
