// handlers_state.go - Upload controller operations over HTTP
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ocr-scanner/scanner/internal/models"
	"github.com/ocr-scanner/scanner/internal/upload"
)

// MIMEApplicationMsgpack is the content type for msgpack snapshots.
const MIMEApplicationMsgpack = "application/msgpack"

// StateHandlerImpl implements the StateHandler interface
type StateHandlerImpl struct {
	ctrl   Controller
	logger *slog.Logger
}

// NewStateHandler creates a new state handler instance
func NewStateHandler(ctrl Controller, logger *slog.Logger) StateHandler {
	return &StateHandlerImpl{
		ctrl:   ctrl,
		logger: logger,
	}
}

// HandleGetState returns the current snapshot as JSON or msgpack
func (h *StateHandlerImpl) HandleGetState(c echo.Context) error {
	return h.respondSnapshot(c, http.StatusOK, h.ctrl.Snapshot())
}

// HandleSelect offers a multipart file to the controller. A request without
// a file is a no-op, as is a rejected candidate; both return the snapshot.
func (h *StateHandlerImpl) HandleSelect(c echo.Context) error {
	source := c.FormValue("source")
	if source != "" && source != string(models.SourcePicker) && source != string(models.SourceDrop) {
		return NewValidationError("source")
	}

	cand, err := readCandidate(c)
	if err != nil {
		return err
	}

	if err := h.ctrl.SelectCandidate(models.ParseSource(source), cand); err != nil {
		if errors.Is(err, upload.ErrClosed) {
			return NewServiceUnavailableError("scanner is shutting down")
		}
		return NewInternalError("failed to create preview", err)
	}

	return h.respondSnapshot(c, http.StatusOK, h.ctrl.Snapshot())
}

// HandleScan starts a scan of the selected file. 202 when a request was
// issued, 200 when there was nothing to do.
func (h *StateHandlerImpl) HandleScan(c echo.Context) error {
	status := http.StatusOK
	if h.ctrl.RequestScan() {
		status = http.StatusAccepted
	}
	return h.respondSnapshot(c, status, h.ctrl.Snapshot())
}

// HandleCopy copies the last extracted text to the clipboard
func (h *StateHandlerImpl) HandleCopy(c echo.Context) error {
	h.ctrl.CopyResultToClipboard()
	return h.respondSnapshot(c, http.StatusOK, h.ctrl.Snapshot())
}

func (h *StateHandlerImpl) respondSnapshot(c echo.Context, status int, snap models.Snapshot) error {
	if !wantsMsgpack(c) {
		return c.JSON(status, snap)
	}

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(status, MIMEApplicationMsgpack, data)
}

func wantsMsgpack(c echo.Context) bool {
	if c.QueryParam("format") == "msgpack" {
		return true
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEApplicationMsgpack)
}

// readCandidate returns nil, nil when the form carries no file.
func readCandidate(c echo.Context) (*models.Candidate, error) {
	fh, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, NewBadRequestError("expected multipart form with a file field", err)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, NewInternalError("failed to read uploaded file", err)
	}

	return &models.Candidate{
		Name:      fh.Filename,
		MediaType: fh.Header.Get(echo.HeaderContentType),
		Data:      data,
	}, nil
}
