package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dkraev/chatsync/internal/notify"
)

// NotificationHandler exposes the notification router to the UI.
type NotificationHandler struct {
	router *notify.Router
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(r *notify.Router) *NotificationHandler {
	return &NotificationHandler{router: r}
}

// List handles GET /api/v1/notifications.
func (h *NotificationHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"notifications": h.router.Records(),
		"degraded":      h.router.Degraded(),
	})
}

// MarkAllRead handles POST /api/v1/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	h.router.MarkAllRead()
	return c.NoContent(http.StatusNoContent)
}

// Unread handles GET /api/v1/unread.
func (h *NotificationHandler) Unread(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"unread": h.router.Unread(),
	})
}
