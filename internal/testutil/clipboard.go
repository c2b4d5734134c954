package testutil

import "sync"

// RecordingClipboard captures clipboard writes.
type RecordingClipboard struct {
	mu    sync.Mutex
	texts []string

	// Err is returned from every write when set.
	Err error
}

func (r *RecordingClipboard) WriteAll(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.texts = append(r.texts, text)
	return nil
}

// Texts returns everything written so far.
func (r *RecordingClipboard) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.texts))
	copy(out, r.texts)
	return out
}
