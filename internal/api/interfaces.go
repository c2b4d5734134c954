// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/ocr-scanner/scanner/internal/models"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// StateHandler drives the upload controller over HTTP
type StateHandler interface {
	HandleGetState(c echo.Context) error
	HandleSelect(c echo.Context) error
	HandleScan(c echo.Context) error
	HandleCopy(c echo.Context) error
}

// PreviewHandler serves live preview handles
type PreviewHandler interface {
	HandleGetPreview(c echo.Context) error
}

// StreamHandler pushes controller state over WebSocket
type StreamHandler interface {
	HandleStateStream(c echo.Context) error
}

// Controller is the part of the upload controller the handlers use.
// This allows mocking in tests
type Controller interface {
	SelectCandidate(src models.Source, cand *models.Candidate) error
	RequestScan() bool
	CopyResultToClipboard()
	Snapshot() models.Snapshot
	Subscribe(fn func(models.Snapshot)) (cancel func())
}
