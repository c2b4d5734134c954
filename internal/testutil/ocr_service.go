// ocr_service.go - Fake OCR service speaking the POST /api/ocr contract
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

// ReceivedFile is one multipart upload seen by the fake service.
type ReceivedFile struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

type cannedResponse struct {
	status      int
	contentType string
	body        string
}

// OCRService is an echo-backed stand-in for the remote OCR service.
type OCRService struct {
	server *httptest.Server

	mu       sync.Mutex
	response cannedResponse
	received []ReceivedFile
	gate     chan struct{}
	arrived  chan struct{}
}

// NewOCRService starts a fake service that answers {"text": ""} until told otherwise.
func NewOCRService(t *testing.T) *OCRService {
	t.Helper()

	s := &OCRService{
		response: cannedResponse{status: http.StatusOK, contentType: echo.MIMEApplicationJSON, body: `{"text": ""}`},
		arrived:  make(chan struct{}, 16),
	}

	e := echo.New()
	e.HideBanner = true
	e.POST("/api/ocr", s.handleOCR)

	s.server = httptest.NewServer(e)
	t.Cleanup(s.Close)
	return s
}

// URL returns the service base URL.
func (s *OCRService) URL() string {
	return s.server.URL
}

// Close releases any held requests and stops the server.
func (s *OCRService) Close() {
	s.mu.Lock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
	s.mu.Unlock()
	s.server.Close()
}

// RespondText makes the service succeed with the given text.
func (s *OCRService) RespondText(text string) {
	body, _ := json.Marshal(map[string]string{"text": text})
	s.RespondRaw(http.StatusOK, echo.MIMEApplicationJSON, string(body))
}

// RespondDetail makes the service fail with a {"detail": ...} body.
func (s *OCRService) RespondDetail(status int, detail string) {
	body, _ := json.Marshal(map[string]string{"detail": detail})
	s.RespondRaw(status, echo.MIMEApplicationJSON, string(body))
}

// RespondRaw sets an arbitrary response.
func (s *OCRService) RespondRaw(status int, contentType, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response = cannedResponse{status: status, contentType: contentType, body: body}
}

// Hold blocks subsequent requests until the returned release func is called.
func (s *OCRService) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gate == gate {
			s.gate = nil
			close(gate)
		}
	}
}

// Arrived signals once per request after the upload has been read.
func (s *OCRService) Arrived() <-chan struct{} {
	return s.arrived
}

// Received returns the uploads seen so far.
func (s *OCRService) Received() []ReceivedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReceivedFile, len(s.received))
	copy(out, s.received)
	return out
}

func (s *OCRService) handleOCR(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "expected multipart body"})
	}

	for field, headers := range form.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return err
			}
			data, _ := io.ReadAll(f)
			f.Close()

			s.mu.Lock()
			s.received = append(s.received, ReceivedFile{
				Field:       field,
				Name:        fh.Filename,
				ContentType: fh.Header.Get(echo.HeaderContentType),
				Data:        data,
			})
			s.mu.Unlock()
		}
	}

	select {
	case s.arrived <- struct{}{}:
	default:
	}

	s.mu.Lock()
	gate := s.gate
	resp := s.response
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-c.Request().Context().Done():
			return nil
		}
		s.mu.Lock()
		resp = s.response
		s.mu.Unlock()
	}

	return c.Blob(resp.status, resp.contentType, []byte(resp.body))
}
