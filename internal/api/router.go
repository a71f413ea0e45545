package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Dependencies holds all handler instances for route wiring.
type Dependencies struct {
	Sync          *SyncHandler
	Notifications *NotificationHandler
	Voice         *VoiceHandler
	Uploads       *UploadHandler
}

// SetupRouter registers all local API routes on the Echo instance.
func SetupRouter(e *echo.Echo, deps *Dependencies) {
	e.GET("/api/v1/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := e.Group("/api/v1")

	// Rooms and messages
	v1.POST("/rooms/:id/open", deps.Sync.OpenRoom)
	v1.GET("/rooms/current/messages", deps.Sync.GetMessages)
	v1.POST("/rooms/:id/messages", deps.Sync.SendMessage)
	v1.POST("/messages/:id/reactions/:emoji", deps.Sync.ToggleReaction)
	v1.POST("/messages/:id/pin", deps.Sync.TogglePin)
	v1.POST("/sync/resubscribe", deps.Sync.Resubscribe)

	// Notifications
	v1.GET("/notifications", deps.Notifications.List)
	v1.POST("/notifications/read-all", deps.Notifications.MarkAllRead)
	v1.GET("/unread", deps.Notifications.Unread)

	// Voice
	v1.GET("/voice", deps.Voice.State)
	v1.POST("/voice/:channel_id/join", deps.Voice.Join)
	v1.GET("/voice/:channel_id/participants", deps.Voice.Participants)
	v1.POST("/voice/leave", deps.Voice.Leave)
	v1.POST("/voice/mute", deps.Voice.ToggleMute)
	v1.POST("/voice/deafen", deps.Voice.ToggleDeafen)

	// Uploads
	v1.POST("/uploads", deps.Uploads.Upload)
}
