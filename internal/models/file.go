package models

import "time"

// Source identifies the input channel a candidate file arrived through.
type Source string

const (
	SourcePicker Source = "picker"
	SourceDrop   Source = "drop"
)

// ParseSource maps a form or wire value to a Source, defaulting to the picker.
func ParseSource(s string) Source {
	if Source(s) == SourceDrop {
		return SourceDrop
	}
	return SourcePicker
}

// Candidate is a file offered by the user that has not been validated yet.
type Candidate struct {
	Name      string
	MediaType string // declared type; may be empty
	Data      []byte
}

// SelectedFile is the accepted image currently owned by the upload controller.
type SelectedFile struct {
	Name       string    `json:"name" msgpack:"name"`
	MediaType  string    `json:"mediaType,omitempty" msgpack:"mediaType,omitempty"`
	Size       int64     `json:"size" msgpack:"size"`
	Source     Source    `json:"source" msgpack:"source"`
	SelectedAt time.Time `json:"selectedAt" msgpack:"selectedAt"`

	Data []byte `json:"-" msgpack:"-"`
}

// NewSelectedFile copies the candidate into a SelectedFile.
func NewSelectedFile(src Source, c *Candidate) *SelectedFile {
	return &SelectedFile{
		Name:       c.Name,
		MediaType:  c.MediaType,
		Size:       int64(len(c.Data)),
		Source:     src,
		SelectedAt: time.Now(),
		Data:       c.Data,
	}
}
