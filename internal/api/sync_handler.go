package api

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/dkraev/chatsync/internal/markup"
	"github.com/dkraev/chatsync/internal/models"
	"github.com/dkraev/chatsync/internal/notify"
	"github.com/dkraev/chatsync/internal/store"
)

// SyncHandler exposes the message store to the UI.
type SyncHandler struct {
	store  *store.Store
	router *notify.Router
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(s *store.Store, r *notify.Router) *SyncHandler {
	return &SyncHandler{store: s, router: r}
}

// messageView is a message plus its rendered body segments. Rendering
// happens on read; the store keeps raw text only.
type messageView struct {
	models.Message
	Segments []markup.Segment `json:"segments"`
}

func renderMessages(msgs []models.Message) []messageView {
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{Message: m, Segments: markup.Render(m.Body)}
	}
	return views
}

// OpenRoom handles POST /api/v1/rooms/:id/open.
func (h *SyncHandler) OpenRoom(c echo.Context) error {
	roomID := c.Param("id")
	if roomID == "" {
		return Error(c, http.StatusBadRequest, "INVALID_ID", "room ID is required")
	}

	// The notification router stops counting this room immediately, even
	// if the history fetch below takes a while.
	h.router.MarkRoomOpen(roomID)

	if err := h.store.Open(c.Request().Context(), roomID); err != nil {
		return mapCoreError(c, err)
	}

	return h.currentMessages(c)
}

// GetMessages handles GET /api/v1/rooms/current/messages.
func (h *SyncHandler) GetMessages(c echo.Context) error {
	if h.store.Room() == "" {
		return Error(c, http.StatusConflict, "NO_ROOM", "no room is currently open")
	}
	return h.currentMessages(c)
}

func (h *SyncHandler) currentMessages(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"room_id":     h.store.Room(),
		"messages":    renderMessages(h.store.Snapshot()),
		"degraded":    h.store.Degraded(),
		"load_failed": h.store.LoadFailed(),
	})
}

type sendMessageRequest struct {
	Body        string              `json:"body"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// SendMessage handles POST /api/v1/rooms/:id/messages. The response carries
// the optimistic entry; the authoritative ID arrives through the feed.
func (h *SyncHandler) SendMessage(c echo.Context) error {
	roomID := c.Param("id")
	if roomID != h.store.Room() {
		return Error(c, http.StatusConflict, "ROOM_NOT_OPEN", "room is not the open room")
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}
	if req.Body == "" && len(req.Attachments) == 0 {
		return Error(c, http.StatusBadRequest, "EMPTY_MESSAGE", "message needs text or attachments")
	}

	msg, _, err := h.store.Send(req.Body, req.Attachments, req.ReplyTo)
	if err != nil {
		return mapCoreError(c, err)
	}

	return c.JSON(http.StatusAccepted, messageView{Message: *msg, Segments: markup.Render(msg.Body)})
}

// ToggleReaction handles POST /api/v1/messages/:id/reactions/:emoji.
func (h *SyncHandler) ToggleReaction(c echo.Context) error {
	messageID := c.Param("id")
	emoji, err := url.PathUnescape(c.Param("emoji"))
	if err != nil || emoji == "" {
		return Error(c, http.StatusBadRequest, "INVALID_EMOJI", "invalid emoji")
	}

	if err := h.store.ToggleReaction(messageID, emoji); err != nil {
		return mapCoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// TogglePin handles POST /api/v1/messages/:id/pin.
func (h *SyncHandler) TogglePin(c echo.Context) error {
	if err := h.store.TogglePin(c.Param("id")); err != nil {
		return mapCoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Resubscribe handles POST /api/v1/sync/resubscribe. Used by the UI's
// "reconnect" affordance when the feed is degraded.
func (h *SyncHandler) Resubscribe(c echo.Context) error {
	if err := h.store.Resubscribe(); err != nil {
		return mapCoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
