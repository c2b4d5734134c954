package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ocr-scanner/scanner/internal/metrics"
	"github.com/ocr-scanner/scanner/internal/models"
	"github.com/ocr-scanner/scanner/internal/ocrclient"
	"github.com/ocr-scanner/scanner/internal/testutil"
	"github.com/ocr-scanner/scanner/internal/upload"
)

type testEnv struct {
	e        *echo.Echo
	svc      *testutil.OCRService
	previews *testutil.MockPreviewStore
	clip     *testutil.RecordingClipboard
	ctrl     *upload.Controller
	handlers *Handlers
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		e:        echo.New(),
		svc:      testutil.NewOCRService(t),
		previews: testutil.NewMockPreviewStore(),
		clip:     &testutil.RecordingClipboard{},
		registry: prometheus.NewRegistry(),
	}
	client := ocrclient.New(ocrclient.Config{BaseURL: env.svc.URL(), Timeout: 2 * time.Second})
	env.ctrl = upload.NewController(upload.Options{
		Previews:  env.previews,
		Scanner:   client,
		Clipboard: env.clip,
		Logger:    logger,
		Metrics:   metrics.New(metrics.WithRegistry(env.registry)),
	})
	t.Cleanup(func() { env.ctrl.Close() })

	env.handlers = NewHandlers(&Dependencies{
		Controller:      env.ctrl,
		Previews:        env.previews,
		Logger:          logger,
		Version:         "test",
		ServiceEndpoint: client.Endpoint(),
		Gatherer:        env.registry,
	})
	return env
}

// multipartBody builds a form with an optional file part and optional source.
func multipartBody(t *testing.T, name, contentType string, data []byte, source string) (*bytes.Buffer, string) {
	t.Helper()

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	if source != "" {
		require.NoError(t, writer.WriteField("source", source))
	}
	if name != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (env *testEnv) selectFile(t *testing.T, name, contentType string, data []byte, source string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	body, ct := multipartBody(t, name, contentType, data, source)
	req := httptest.NewRequest(http.MethodPost, "/api/select", body)
	req.Header.Set(echo.HeaderContentType, ct)
	rec := httptest.NewRecorder()
	return rec, env.handlers.State.HandleSelect(env.e.NewContext(req, rec))
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) models.Snapshot {
	t.Helper()
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func requireAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, status, apiErr.Status)
	assert.Equal(t, code, apiErr.Code)
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	if assert.NoError(t, env.handlers.Health.HandleHealth(env.e.NewContext(req, rec))) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
		assert.Contains(t, rec.Body.String(), `"version":"test"`)
		assert.Contains(t, rec.Body.String(), "/api/ocr")
	}
}

func TestHandleGetState(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
		rec := httptest.NewRecorder()
		require.NoError(t, env.handlers.State.HandleGetState(env.e.NewContext(req, rec)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"idle"`)
		assert.NotContains(t, rec.Body.String(), `"file"`)
	})

	t.Run("msgpack via accept header", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.selectFile(t, "photo.png", "image/png", []byte("png"), "")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
		req.Header.Set(echo.HeaderAccept, MIMEApplicationMsgpack)
		rec := httptest.NewRecorder()
		require.NoError(t, env.handlers.State.HandleGetState(env.e.NewContext(req, rec)))

		assert.Equal(t, MIMEApplicationMsgpack, rec.Header().Get(echo.HeaderContentType))
		var snap models.Snapshot
		require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &snap))
		require.NotNil(t, snap.File)
		assert.Equal(t, "photo.png", snap.File.Name)
		assert.Equal(t, models.ScanStatusIdle, snap.Scan.Status)
	})

	t.Run("msgpack via query", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodGet, "/api/state?format=msgpack", nil)
		rec := httptest.NewRecorder()
		require.NoError(t, env.handlers.State.HandleGetState(env.e.NewContext(req, rec)))

		assert.Equal(t, MIMEApplicationMsgpack, rec.Header().Get(echo.HeaderContentType))
	})
}

func TestHandleSelect(t *testing.T) {
	t.Run("accepts an image", func(t *testing.T) {
		env := newTestEnv(t)

		rec, err := env.selectFile(t, "photo.png", "image/png", []byte("png-bytes"), "drop")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		snap := decodeSnapshot(t, rec)
		require.NotNil(t, snap.File)
		assert.Equal(t, "photo.png", snap.File.Name)
		assert.Equal(t, models.SourceDrop, snap.File.Source)
		assert.EqualValues(t, 9, snap.File.Size)
		require.NotNil(t, snap.Preview)
		assert.Contains(t, snap.Preview.URL, "/preview/")
	})

	t.Run("rejects a non-image", func(t *testing.T) {
		env := newTestEnv(t)

		rec, err := env.selectFile(t, "notes.txt", "text/plain", []byte("hello"), "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		snap := decodeSnapshot(t, rec)
		assert.Nil(t, snap.File)
		assert.Equal(t, upload.RejectionMessage, snap.ValidationError)
	})

	t.Run("form without a file is a no-op", func(t *testing.T) {
		env := newTestEnv(t)

		rec, err := env.selectFile(t, "", "", nil, "picker")
		require.NoError(t, err)

		snap := decodeSnapshot(t, rec)
		assert.Nil(t, snap.File)
		assert.Empty(t, snap.ValidationError)
		assert.Zero(t, env.previews.Created())
	})

	t.Run("unknown source", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.selectFile(t, "photo.png", "image/png", []byte("png"), "clipboard")
		requireAPIError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
	})

	t.Run("not multipart", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodPost, "/api/select", bytes.NewBufferString(`{"file":"photo.png"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		err := env.handlers.State.HandleSelect(env.e.NewContext(req, rec))
		requireAPIError(t, err, http.StatusBadRequest, "BAD_REQUEST")
	})

	t.Run("preview failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.previews.FailCreate = testutil.ErrDiskFull

		_, err := env.selectFile(t, "photo.png", "image/png", []byte("png"), "")
		requireAPIError(t, err, http.StatusInternalServerError, "INTERNAL_ERROR")

		snap := env.ctrl.Snapshot()
		require.NotNil(t, snap.File)
		assert.Nil(t, snap.Preview)
	})

	t.Run("controller closed", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ctrl.Close())

		_, err := env.selectFile(t, "photo.png", "image/png", []byte("png"), "")
		requireAPIError(t, err, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE")
	})
}

func TestHandleScan(t *testing.T) {
	t.Run("nothing selected", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodPost, "/api/scan", nil)
		rec := httptest.NewRecorder()
		require.NoError(t, env.handlers.State.HandleScan(env.e.NewContext(req, rec)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.ScanStatusIdle, decodeSnapshot(t, rec).Scan.Status)
	})

	t.Run("starts a scan", func(t *testing.T) {
		env := newTestEnv(t)
		release := env.svc.Hold()
		defer release()
		env.svc.RespondText("Hello")
		_, err := env.selectFile(t, "photo.png", "image/png", []byte("png"), "")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/scan", nil)
		rec := httptest.NewRecorder()
		require.NoError(t, env.handlers.State.HandleScan(env.e.NewContext(req, rec)))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, models.ScanStatusLoading, decodeSnapshot(t, rec).Scan.Status)

		release()
		require.Eventually(t, func() bool {
			return env.ctrl.Snapshot().Scan.Status == models.ScanStatusSuccess
		}, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, "Hello", env.ctrl.Snapshot().Scan.Text)
	})
}

func TestHandleCopy(t *testing.T) {
	env := newTestEnv(t)
	env.svc.RespondText("Hello")
	_, err := env.selectFile(t, "photo.png", "image/png", []byte("png"), "")
	require.NoError(t, err)
	require.True(t, env.ctrl.RequestScan())
	require.Eventually(t, func() bool {
		return env.ctrl.Snapshot().Scan.Status == models.ScanStatusSuccess
	}, 2*time.Second, 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/api/copy", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, env.handlers.State.HandleCopy(env.e.NewContext(req, rec)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Hello"}, env.clip.Texts())
}

func TestHandleGetPreview(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.selectFile(t, "photo.png", "image/png", []byte("png-bytes"), "")
	require.NoError(t, err)
	first := env.ctrl.Snapshot().Preview
	require.NotNil(t, first)

	get := func(id string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodGet, "/preview/"+id, nil)
		rec := httptest.NewRecorder()
		c := env.e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(id)
		return rec, env.handlers.Preview.HandleGetPreview(c)
	}

	rec, err := get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentSecurityPolicy), "sandbox")
	assert.Equal(t, "png-bytes", rec.Body.String())

	// Replacing the selection revokes the first handle.
	_, err = env.selectFile(t, "other.gif", "image/gif", []byte("gif"), "")
	require.NoError(t, err)

	_, err = get(first.ID)
	requireAPIError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestHandleGetPreview_ServedType(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		declared string
		data     string
		want     string
	}{
		{"html declared under an image name", "evil.png", "text/html", "<script>alert(1)</script>", "image/png"},
		{"svg keeps its type behind the sandbox", "x.svg", "image/svg+xml", "<svg><script>alert(1)</script></svg>", "image/svg+xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.selectFile(t, tt.file, tt.declared, []byte(tt.data), "")
			require.NoError(t, err)
			snap := env.ctrl.Snapshot()
			require.Empty(t, snap.ValidationError)
			require.NotNil(t, snap.Preview)

			req := httptest.NewRequest(http.MethodGet, "/preview/"+snap.Preview.ID, nil)
			rec := httptest.NewRecorder()
			c := env.e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(snap.Preview.ID)
			require.NoError(t, env.handlers.Preview.HandleGetPreview(c))

			ct := rec.Header().Get(echo.HeaderContentType)
			assert.Equal(t, tt.want, ct)
			assert.True(t, strings.HasPrefix(ct, "image/"))
			assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
			assert.Contains(t, rec.Header().Get(echo.HeaderContentSecurityPolicy), "default-src 'none'")
		})
	}
}

func TestErrorHandler(t *testing.T) {
	handler := NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), false)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"api error", NewNotFoundError("preview", "abc"), http.StatusNotFound, "NOT_FOUND"},
		{"wrapped api error", fmt.Errorf("outer: %w", NewValidationError("source")), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "HTTP_ERROR"},
		{"unknown error", errors.New("secret path /var/x"), http.StatusInternalServerError, "UNKNOWN_ERROR"},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()

			handler(tt.err, e.NewContext(req, rec))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotContains(t, rec.Body.String(), "secret path")
		})
	}
}

func TestRegisterRoutes(t *testing.T) {
	env := newTestEnv(t)
	SetupMiddleware(env.e, MiddlewareConfig{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		BodyLimit: "1M",
	})
	RegisterRoutes(env.e, env.handlers)

	tests := []struct {
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{http.MethodGet, "/api/health", http.StatusOK, `"status":"ok"`},
		{http.MethodGet, "/api/state", http.StatusOK, `"scan"`},
		{http.MethodPost, "/api/scan", http.StatusOK, `"idle"`},
		{http.MethodPost, "/api/copy", http.StatusOK, `"idle"`},
		{http.MethodGet, "/preview/missing", http.StatusNotFound, `"code":"NOT_FOUND"`},
		{http.MethodGet, "/metrics", http.StatusOK, "scanner_live_previews"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()

			env.e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}
