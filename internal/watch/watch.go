// Package watch turns files dropped into a directory into drop-source
// selections on the upload controller.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ocr-scanner/scanner/internal/models"
)

// DefaultSettle is how long a file must go without writes before it is read.
const DefaultSettle = 250 * time.Millisecond

// Selector receives dropped files.
type Selector interface {
	SelectCandidate(src models.Source, cand *models.Candidate) error
}

// Config configures a Watcher.
type Config struct {
	Dir    string
	Settle time.Duration
	Logger *slog.Logger
}

// Watcher watches one directory. Every settled file is offered to the
// selector; validation is left to the selector.
type Watcher struct {
	dir      string
	settle   time.Duration
	logger   *slog.Logger
	selector Selector
	fw       *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*settleTimer
	ready   chan *settleTimer
	done    chan struct{}
}

// settleTimer is the pending delivery for one path. A fired timer whose entry
// has since been replaced in pending is stale and delivers nothing.
type settleTimer struct {
	path  string
	timer *time.Timer
}

// New starts watching cfg.Dir. Call Run to deliver events.
func New(cfg Config, sel Selector) (*Watcher, error) {
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(cfg.Dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", cfg.Dir, err)
	}

	return &Watcher{
		dir:      cfg.Dir,
		settle:   cfg.Settle,
		logger:   cfg.Logger.With("component", "watch", "dir", cfg.Dir),
		selector: sel,
		fw:       fw,
		pending:  make(map[string]*settleTimer),
		ready:    make(chan *settleTimer),
		done:     make(chan struct{}),
	}, nil
}

// Run delivers settled files until ctx is canceled. It closes the watcher
// on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	w.logger.Info("watching drop folder")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case st := <-w.ready:
			w.deliver(st)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ignored(filepath.Base(ev.Name)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if st, ok := w.pending[ev.Name]; ok {
			st.timer.Stop()
			delete(w.pending, ev.Name)
		}
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if st, ok := w.pending[ev.Name]; ok && st.timer.Stop() {
			st.timer.Reset(w.settle)
			return
		}
		// Either nothing is pending or the old timer already fired and its
		// delivery is queued; a fresh entry makes that delivery stale.
		w.arm(ev.Name)
	}
}

// arm must be called with w.mu held.
func (w *Watcher) arm(path string) {
	st := &settleTimer{path: path}
	st.timer = time.AfterFunc(w.settle, func() {
		select {
		case w.ready <- st:
		case <-w.done:
		}
	})
	w.pending[path] = st
}

func (w *Watcher) deliver(st *settleTimer) {
	w.mu.Lock()
	if w.pending[st.path] != st {
		w.mu.Unlock()
		w.logger.Debug("dropping superseded delivery", "path", st.path)
		return
	}
	delete(w.pending, st.path)
	w.mu.Unlock()

	path := st.path

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("reading dropped file failed", "path", path, "error", err)
		return
	}

	name := filepath.Base(path)
	cand := &models.Candidate{
		Name:      name,
		MediaType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
		Data:      data,
	}

	w.logger.Debug("file dropped", "name", name, "size", len(data))
	if err := w.selector.SelectCandidate(models.SourceDrop, cand); err != nil {
		w.logger.Error("selecting dropped file failed", "name", name, "error", err)
	}
}

func (w *Watcher) stop() {
	close(w.done)

	w.mu.Lock()
	for path, st := range w.pending {
		st.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if err := w.fw.Close(); err != nil {
		w.logger.Warn("closing watcher failed", "error", err)
	}
}

// ignored skips hidden files and partial downloads.
func ignored(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".part", ".crdownload", ".swp":
		return true
	}
	return false
}
