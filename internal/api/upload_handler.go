package api

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dkraev/chatsync/internal/models"
	"github.com/dkraev/chatsync/internal/storage"
)

var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,
	"video/mp4":       true,
}

// FileStorage abstracts object storage operations for testability.
type FileStorage interface {
	Upload(ctx context.Context, filename, contentType string, size int64, reader io.Reader) (*models.Attachment, error)
}

// UploadHandler stages attachments in object storage ahead of a send.
type UploadHandler struct {
	storage FileStorage
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(fs FileStorage) *UploadHandler {
	return &UploadHandler{storage: fs}
}

// Upload handles POST /api/v1/uploads.
func (h *UploadHandler) Upload(c echo.Context) error {
	if h.storage == nil {
		return Error(c, http.StatusServiceUnavailable, "UPLOADS_DISABLED", "object storage is not configured")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return Error(c, http.StatusBadRequest, "MISSING_FILE", "file field is required")
	}
	if file.Size > storage.MaxAttachmentSize {
		return Error(c, http.StatusBadRequest, "FILE_TOO_LARGE", "file exceeds attachment size limit")
	}

	contentType := file.Header.Get("Content-Type")
	if !allowedContentTypes[contentType] {
		return Error(c, http.StatusBadRequest, "INVALID_CONTENT_TYPE", "file type not allowed")
	}

	src, err := file.Open()
	if err != nil {
		return Error(c, http.StatusInternalServerError, "INTERNAL", "failed to read upload")
	}
	defer src.Close()

	attachment, err := h.storage.Upload(c.Request().Context(), file.Filename, contentType, file.Size, src)
	if err != nil {
		return Error(c, http.StatusBadGateway, "UPLOAD_FAILED", "object storage rejected the upload")
	}

	return c.JSON(http.StatusCreated, attachment)
}
