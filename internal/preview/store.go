// Package preview manages revocable preview handles for selected images.
//
// A handle plays the role a browser object URL plays for a picked file: it is
// acquired when a file is selected, can be rendered through its URL while live,
// and must be revoked exactly once.
package preview

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ocr-scanner/scanner/internal/models"
)

// ErrNotFound is returned for handles that were never created or are already revoked.
var ErrNotFound = errors.New("preview handle not found")

// DefaultURLPrefix is the path the API serves live previews under.
const DefaultURLPrefix = "/preview/"

// Handle is a live reference to a selected file's bytes.
type Handle struct {
	ID        string
	URL       string
	Name      string
	MediaType string
	Size      int64
	Width     int
	Height    int
	CreatedAt time.Time
}

// View returns the UI-facing description of the handle.
func (h *Handle) View() *models.Preview {
	if h == nil {
		return nil
	}
	return &models.Preview{
		ID:        h.ID,
		URL:       h.URL,
		MediaType: h.MediaType,
		Width:     h.Width,
		Height:    h.Height,
	}
}

// Store defines the interface for preview handle storage.
type Store interface {
	Create(name, mediaType string, data []byte) (*Handle, error)
	Open(id string) (*Handle, io.ReadCloser, error)
	Revoke(id string) error
	Live() int
	Close() error
}

// LocalStore implements Store using files under a directory.
type LocalStore struct {
	mu        sync.RWMutex
	dir       string
	urlPrefix string
	handles   map[string]*Handle
}

// NewLocalStore creates a new LocalStore rooted at dir.
func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating preview directory: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = DefaultURLPrefix
	}

	return &LocalStore{
		dir:       dir,
		urlPrefix: urlPrefix,
		handles:   make(map[string]*Handle),
	}, nil
}

// Create writes data to a new handle file and registers it as live.
func (s *LocalStore) Create(name, mediaType string, data []byte) (*Handle, error) {
	id := uuid.New().String()
	path := filepath.Join(s.dir, id)

	if err := os.WriteFile(path, data, 0600); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing preview: %w", err)
	}

	h := &Handle{
		ID:        id,
		URL:       s.urlPrefix + id,
		Name:      name,
		MediaType: ResolveMediaType(name, mediaType, data),
		Size:      int64(len(data)),
		CreatedAt: time.Now(),
	}
	h.Width, h.Height = Dimensions(data)

	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()

	return h, nil
}

// Open returns the handle and a reader over its bytes.
func (s *LocalStore) Open(id string) (*Handle, io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.handles[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	f, err := os.Open(filepath.Join(s.dir, id))
	if err != nil {
		return nil, nil, fmt.Errorf("opening preview: %w", err)
	}

	return h, f, nil
}

// Revoke releases a handle. A second revoke of the same ID returns ErrNotFound.
func (s *LocalStore) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handles[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.handles, id)

	if err := os.Remove(filepath.Join(s.dir, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing preview: %w", err)
	}

	return nil
}

// Live returns the number of handles not yet revoked.
func (s *LocalStore) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Close revokes every live handle.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Revoke(id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FallbackMediaType is served for previews whose bytes are not a recognizable image.
const FallbackMediaType = "application/octet-stream"

// ResolveMediaType returns the type a preview is served with. The declared
// type is used when it is an image type, then the extension, then content
// sniffing. Anything that does not resolve to image/* gets FallbackMediaType.
func ResolveMediaType(name, declared string, data []byte) string {
	candidates := []string{
		declared,
		mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
		http.DetectContentType(data),
	}
	for _, v := range candidates {
		if mt, ok := imageType(v); ok {
			return mt
		}
	}
	return FallbackMediaType
}

func imageType(v string) (string, bool) {
	if v == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil || !strings.HasPrefix(mt, "image/") {
		return "", false
	}
	return mt, true
}
