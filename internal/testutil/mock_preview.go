// mock_preview.go - Mock preview store implementation for testing
package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ocr-scanner/scanner/internal/preview"
)

// MockPreviewStore implements preview.Store in memory and records the
// lifecycle of every handle so tests can check for leaks and double revokes.
type MockPreviewStore struct {
	mu         sync.RWMutex
	handles    map[string]*preview.Handle
	data       map[string][]byte
	created    int
	revoked    int
	revokedIDs map[string]int

	// FailCreate makes the next Create calls return this error.
	FailCreate error
}

// NewMockPreviewStore creates an empty mock store.
func NewMockPreviewStore() *MockPreviewStore {
	return &MockPreviewStore{
		handles:    make(map[string]*preview.Handle),
		data:       make(map[string][]byte),
		revokedIDs: make(map[string]int),
	}
}

func (m *MockPreviewStore) Create(name, mediaType string, data []byte) (*preview.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		return nil, m.FailCreate
	}

	id := generateTestID()
	h := &preview.Handle{
		ID:        id,
		URL:       preview.DefaultURLPrefix + id,
		Name:      name,
		MediaType: preview.ResolveMediaType(name, mediaType, data),
		Size:      int64(len(data)),
		CreatedAt: time.Now(),
	}
	m.handles[id] = h
	m.data[id] = data
	m.created++
	return h, nil
}

func (m *MockPreviewStore) Open(id string) (*preview.Handle, io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.handles[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", preview.ErrNotFound, id)
	}
	return h, io.NopCloser(bytes.NewReader(m.data[id])), nil
}

func (m *MockPreviewStore) Revoke(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revokedIDs[id]++
	if _, ok := m.handles[id]; !ok {
		return fmt.Errorf("%w: %s", preview.ErrNotFound, id)
	}
	delete(m.handles, id)
	delete(m.data, id)
	m.revoked++
	return nil
}

func (m *MockPreviewStore) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *MockPreviewStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles = make(map[string]*preview.Handle)
	m.data = make(map[string][]byte)
	return nil
}

// Ensure MockPreviewStore implements preview.Store
var _ preview.Store = (*MockPreviewStore)(nil)

// Test Helper Methods

// Created returns how many handles were created.
func (m *MockPreviewStore) Created() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.created
}

// Revoked returns how many live handles were revoked.
func (m *MockPreviewStore) Revoked() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revoked
}

// DoubleRevokes returns the IDs revoked more than once.
func (m *MockPreviewStore) DoubleRevokes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, n := range m.revokedIDs {
		if n > 1 {
			ids = append(ids, id)
		}
	}
	return ids
}

// ErrDiskFull is a canned infrastructure failure for FailCreate.
var ErrDiskFull = errors.New("no space left on device")

// generateTestID generates a simple test ID
var testIDCounter int
var testIDMutex sync.Mutex

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
