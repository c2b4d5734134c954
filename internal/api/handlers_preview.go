// handlers_preview.go - Serves preview handle bytes
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ocr-scanner/scanner/internal/preview"
)

// PreviewHandlerImpl implements the PreviewHandler interface
type PreviewHandlerImpl struct {
	store preview.Store
}

// NewPreviewHandler creates a new preview handler instance
func NewPreviewHandler(store preview.Store) PreviewHandler {
	return &PreviewHandlerImpl{store: store}
}

// HandleGetPreview streams a live preview. Revoked handles are 404.
func (h *PreviewHandlerImpl) HandleGetPreview(c echo.Context) error {
	id := c.Param("id")

	handle, rc, err := h.store.Open(id)
	if errors.Is(err, preview.ErrNotFound) {
		return NewNotFoundError("preview", id)
	}
	if err != nil {
		return NewInternalError("failed to open preview", err)
	}
	defer rc.Close()

	header := c.Response().Header()
	header.Set("Cache-Control", "no-store")
	header.Set(echo.HeaderXContentTypeOptions, "nosniff")
	header.Set(echo.HeaderContentSecurityPolicy, "default-src 'none'; style-src 'unsafe-inline'; sandbox")
	return c.Stream(http.StatusOK, handle.MediaType, rc)
}
