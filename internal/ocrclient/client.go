// Package ocrclient submits images to the remote OCR service.
package ocrclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultScanPath is the OCR endpoint relative to the service URL.
	DefaultScanPath = "/api/ocr"

	// FileField is the multipart field carrying the image.
	FileField = "file"

	// MessageScanFailed is used when the service reports an error without detail.
	MessageScanFailed = "Failed to scan image"

	// MessageTransportFailed is used when a transport error has no description.
	MessageTransportFailed = "An error occurred during OCR scanning"

	tracerName = "github.com/ocr-scanner/scanner/internal/ocrclient"
)

// Config holds configuration for the OCR client.
type Config struct {
	BaseURL  string
	ScanPath string
	// Timeout bounds a single request. Zero means no ceiling.
	Timeout time.Duration
}

// Client posts images to the OCR service.
type Client struct {
	baseURL  string
	scanPath string
	client   *http.Client
	tracer   trace.Tracer
}

// New creates a new OCR client.
func New(cfg Config) *Client {
	if cfg.ScanPath == "" {
		cfg.ScanPath = DefaultScanPath
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		scanPath: cfg.ScanPath,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		tracer: otel.Tracer(tracerName),
	}
}

// Endpoint returns the absolute scan URL.
func (c *Client) Endpoint() string {
	return c.baseURL + c.scanPath
}

// Scan uploads one image and classifies the outcome. It never returns an
// error; every failure is carried in the Result.
func (c *Client) Scan(ctx context.Context, name, mediaType string, data []byte) Result {
	ctx, span := c.tracer.Start(ctx, "ocr.scan", trace.WithAttributes(
		attribute.String("file.name", name),
		attribute.String("file.media_type", mediaType),
		attribute.Int("file.size", len(data)),
	))
	defer span.End()

	res := c.do(ctx, name, mediaType, data)

	span.SetAttributes(attribute.String("ocr.result", string(res.Kind)))
	if res.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))
	}
	if res.Kind != KindOK {
		span.SetStatus(codes.Error, res.Message)
	}

	return res
}

func (c *Client) do(ctx context.Context, name, mediaType string, data []byte) Result {
	body, contentType, err := encodeMultipart(name, mediaType, data)
	if err != nil {
		return transportFailure(fmt.Errorf("failed to build request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), body)
	if err != nil {
		return transportFailure(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(fmt.Errorf("failed to read response: %w", err))
	}

	return classify(resp.StatusCode, respBody)
}

// classify turns a completed HTTP exchange into a Result.
func classify(status int, body []byte) Result {
	if status < 200 || status >= 300 {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Detail != "" {
			return Result{Kind: KindServiceError, StatusCode: status, Message: errResp.Detail}
		}
		return Result{Kind: KindServiceError, StatusCode: status, Message: MessageScanFailed}
	}

	var ok scanResponse
	if err := json.Unmarshal(body, &ok); err != nil {
		return Result{
			Kind:       KindServiceError,
			StatusCode: status,
			Message:    fmt.Sprintf("failed to decode response: %v", err),
		}
	}
	if ok.Text == nil {
		return Result{
			Kind:       KindServiceError,
			StatusCode: status,
			Message:    "failed to decode response: missing text field",
		}
	}

	return Result{Kind: KindOK, StatusCode: status, Text: *ok.Text}
}

func transportFailure(err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = MessageTransportFailed
	}
	return Result{Kind: KindTransportError, Message: msg, Err: err}
}

func encodeMultipart(name, mediaType string, data []byte) (io.Reader, string, error) {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FileField, escapeQuotes(name)))
	h.Set("Content-Type", mediaType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
