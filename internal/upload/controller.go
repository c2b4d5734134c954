// Package upload owns the single selected image, its preview handle and the
// scan request lifecycle.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ocr-scanner/scanner/internal/clipboard"
	"github.com/ocr-scanner/scanner/internal/metrics"
	"github.com/ocr-scanner/scanner/internal/models"
	"github.com/ocr-scanner/scanner/internal/ocrclient"
	"github.com/ocr-scanner/scanner/internal/preview"
)

// ErrClosed is returned by mutators after Close.
var ErrClosed = errors.New("upload controller closed")

// Scanner submits an image to the OCR service.
type Scanner interface {
	Scan(ctx context.Context, name, mediaType string, data []byte) ocrclient.Result
}

// Options holds the controller's collaborators. Previews and Scanner are required.
type Options struct {
	Previews  preview.Store
	Scanner   Scanner
	Clipboard clipboard.Writer
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// Controller is the upload state machine. All methods are safe for
// concurrent use.
//
// Subscribers are called in the order state changes happen, one at a time.
// They may read state with Snapshot or cancel their subscription, but must
// not call the controller's mutators synchronously.
type Controller struct {
	// notifyMu serializes publishing mutations with their deliveries and is
	// always acquired before mu.
	notifyMu sync.Mutex
	mu       sync.Mutex

	file            *models.SelectedFile
	preview         *preview.Handle
	scan            models.ScanState
	validationError string
	generation      uint64
	closed          bool

	subs    map[int]func(models.Snapshot)
	nextSub int

	previews preview.Store
	scanner  Scanner
	clip     clipboard.Writer
	logger   *slog.Logger
	metrics  *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller in the idle state with no selection.
func NewController(opts Options) *Controller {
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		scan:     models.Idle(),
		subs:     make(map[int]func(models.Snapshot)),
		previews: opts.Previews,
		scanner:  opts.Scanner,
		clip:     opts.Clipboard,
		logger:   opts.Logger.With("component", "upload"),
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SelectCandidate validates a candidate and, if it is an accepted image,
// replaces the current selection. A nil candidate is ignored. Rejected
// candidates set the validation error and leave the selection untouched.
//
// The returned error reports only a preview creation failure; the file is
// still selected in that case, without a preview.
func (c *Controller) SelectCandidate(src models.Source, cand *models.Candidate) error {
	if cand == nil {
		return nil
	}

	accepted := IsAcceptedImage(cand.Name, cand.MediaType)

	c.lock()
	if c.closed {
		c.unlock()
		return ErrClosed
	}
	c.metrics.Selection(string(src), accepted)

	if !accepted {
		c.logger.Info("candidate rejected",
			"name", cand.Name,
			"media_type", cand.MediaType,
			"source", src,
		)
		c.validationError = RejectionMessage
		c.publishLocked()
		return nil
	}

	// Release the previous handle before acquiring the next one.
	c.revokePreviewLocked()

	h, err := c.previews.Create(cand.Name, cand.MediaType, cand.Data)
	c.file = models.NewSelectedFile(src, cand)
	c.preview = h
	c.scan = models.Idle()
	c.validationError = ""
	c.generation++
	c.metrics.LivePreviews(c.previews.Live())
	gen := c.generation
	c.publishLocked()

	if err != nil {
		c.logger.Error("preview creation failed", "name", cand.Name, "error", err)
		return fmt.Errorf("creating preview for %s: %w", cand.Name, err)
	}

	c.logger.Debug("file selected",
		"name", cand.Name,
		"size", len(cand.Data),
		"source", src,
		"generation", gen,
	)
	return nil
}

// RequestScan submits the selected file to the OCR service in the
// background. It returns false, and does nothing, when no file is selected
// or a scan is already in flight.
func (c *Controller) RequestScan() bool {
	c.lock()
	if c.closed || c.file == nil || c.scan.IsLoading() {
		c.unlock()
		return false
	}

	file := c.file
	gen := c.generation
	c.scan = models.Loading()
	c.validationError = ""
	c.wg.Add(1)
	c.publishLocked()

	c.logger.Info("scan requested", "name", file.Name, "generation", gen)
	go c.runScan(file, gen)
	return true
}

func (c *Controller) runScan(file *models.SelectedFile, gen uint64) {
	defer c.wg.Done()

	start := time.Now()
	res := c.scanSafely(file)
	c.finishScan(gen, res, time.Since(start))
}

// scanSafely converts a scanner panic into a transport failure so the
// controller always leaves the loading state.
func (c *Controller) scanSafely(file *models.SelectedFile) (res ocrclient.Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("scanner panicked", "panic", r)
			res = ocrclient.Result{
				Kind:    ocrclient.KindTransportError,
				Message: ocrclient.MessageTransportFailed,
				Err:     fmt.Errorf("scanner panic: %v", r),
			}
		}
	}()
	return c.scanner.Scan(c.ctx, file.Name, file.MediaType, file.Data)
}

func (c *Controller) finishScan(gen uint64, res ocrclient.Result, elapsed time.Duration) {
	c.lock()
	if c.closed || gen != c.generation || !c.scan.IsLoading() {
		current := c.generation
		c.unlock()
		c.metrics.Stale()
		c.logger.Debug("discarding stale scan response",
			"generation", gen,
			"current_generation", current,
			"kind", res.Kind,
		)
		return
	}

	switch res.Kind {
	case ocrclient.KindOK:
		c.scan = models.Success(res.Text)
		c.logger.Info("scan completed", "generation", gen, "chars", len(res.Text), "duration", elapsed)
	default:
		msg := res.Message
		if msg == "" {
			msg = ocrclient.MessageTransportFailed
		}
		c.scan = models.Failed(msg)
		c.logger.Warn("scan failed",
			"generation", gen,
			"kind", res.Kind,
			"status", res.StatusCode,
			"message", msg,
			"duration", elapsed,
		)
	}
	c.metrics.Scan(string(res.Kind), elapsed)
	c.publishLocked()
}

// CopyResultToClipboard writes the extracted text to the clipboard. It is a
// no-op unless the last scan succeeded with non-empty text. Clipboard errors
// are logged and not reported.
func (c *Controller) CopyResultToClipboard() {
	c.mu.Lock()
	if c.closed || !c.scan.IsSuccess() || c.scan.Text == "" {
		c.mu.Unlock()
		return
	}
	text := c.scan.Text
	c.mu.Unlock()

	err := c.clip.WriteAll(text)
	c.metrics.Copy(err)
	if err != nil {
		c.logger.Warn("clipboard write failed", "error", err)
		return
	}
	c.logger.Debug("copied result to clipboard", "chars", len(text))
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to receive every state change. The returned func
// removes the subscription.
func (c *Controller) Subscribe(fn func(models.Snapshot)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Close releases the preview handle, abandons any in-flight scan and waits
// for it to finish. It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.revokePreviewLocked()
	c.metrics.LivePreviews(c.previews.Live())
	c.subs = make(map[int]func(models.Snapshot))
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return err
}

func (c *Controller) revokePreviewLocked() error {
	if c.preview == nil {
		return nil
	}
	id := c.preview.ID
	c.preview = nil

	if err := c.previews.Revoke(id); err != nil {
		c.logger.Warn("preview revoke failed", "id", id, "error", err)
		return fmt.Errorf("revoking preview %s: %w", id, err)
	}
	return nil
}

func (c *Controller) snapshotLocked() models.Snapshot {
	snap := models.Snapshot{
		Preview:         c.preview.View(),
		Scan:            c.scan,
		ValidationError: c.validationError,
		Generation:      c.generation,
	}
	if c.file != nil {
		f := *c.file
		snap.File = &f
	}
	return snap
}

// lock takes both locks for a mutation that may publish.
func (c *Controller) lock() {
	c.notifyMu.Lock()
	c.mu.Lock()
}

func (c *Controller) unlock() {
	c.mu.Unlock()
	c.notifyMu.Unlock()
}

// publishLocked delivers the current snapshot to subscribers. It must be
// called with both locks held and releases them. mu is dropped before any
// subscriber runs; notifyMu is held until delivery ends so deliveries keep
// the order of the changes that caused them.
func (c *Controller) publishLocked() {
	snap := c.snapshotLocked()

	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(models.Snapshot), len(ids))
	for i, id := range ids {
		fns[i] = c.subs[id]
	}

	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
