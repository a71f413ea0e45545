// Package api exposes the sync core to the local UI over a loopback HTTP
// server. The UI is a read-and-command surface: all state lives in the core.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dkraev/chatsync/internal/store"
	"github.com/dkraev/chatsync/internal/voice"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error sends a JSON error response.
func Error(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

// mapCoreError translates sync-core errors into HTTP responses.
func mapCoreError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrNoRoom):
		return Error(c, http.StatusConflict, "NO_ROOM", "no room is currently open")
	case errors.Is(err, store.ErrNotFound):
		return Error(c, http.StatusNotFound, "NOT_FOUND", "message not found")
	case errors.Is(err, store.ErrSuperseded):
		return Error(c, http.StatusConflict, "SUPERSEDED", "another room was opened first")
	case errors.Is(err, store.ErrFetchFailed):
		return Error(c, http.StatusBadGateway, "FETCH_FAILED", "history fetch failed")
	case errors.Is(err, store.ErrSendFailed):
		return Error(c, http.StatusBadGateway, "SEND_FAILED", "message send failed")
	case errors.Is(err, voice.ErrNotInVoice):
		return Error(c, http.StatusConflict, "NOT_IN_VOICE", "not in a voice channel")
	default:
		return Error(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
