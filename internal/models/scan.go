// Package models contains domain types for the OCR scanner client.
package models

// ScanStatus represents the status of the scan request lifecycle.
type ScanStatus string

const (
	ScanStatusIdle    ScanStatus = "idle"
	ScanStatusLoading ScanStatus = "loading"
	ScanStatusSuccess ScanStatus = "success"
	ScanStatusFailed  ScanStatus = "failed"
)

// NoTextMessage is shown for a successful scan that found no text.
const NoTextMessage = "No text could be extracted from this image."

// ScanState is the tagged scan state. Text is meaningful only for
// ScanStatusSuccess and Message only for ScanStatusFailed.
type ScanState struct {
	Status  ScanStatus `json:"status" msgpack:"status"`
	Text    string     `json:"text" msgpack:"text"`
	Message string     `json:"message,omitempty" msgpack:"message,omitempty"`
}

// Idle returns the initial scan state.
func Idle() ScanState {
	return ScanState{Status: ScanStatusIdle}
}

// Loading returns the in-flight scan state.
func Loading() ScanState {
	return ScanState{Status: ScanStatusLoading}
}

// Success returns a completed scan state. An empty text means no text was found.
func Success(text string) ScanState {
	return ScanState{Status: ScanStatusSuccess, Text: text}
}

// Failed returns a failed scan state carrying a user-facing message.
func Failed(message string) ScanState {
	return ScanState{Status: ScanStatusFailed, Message: message}
}

func (s ScanState) IsLoading() bool { return s.Status == ScanStatusLoading }

func (s ScanState) IsSuccess() bool { return s.Status == ScanStatusSuccess }

// Preview describes the live preview handle as seen by the UI.
type Preview struct {
	ID        string `json:"id" msgpack:"id"`
	URL       string `json:"url" msgpack:"url"`
	MediaType string `json:"mediaType" msgpack:"mediaType"`
	Width     int    `json:"width,omitempty" msgpack:"width,omitempty"`
	Height    int    `json:"height,omitempty" msgpack:"height,omitempty"`
}

// Snapshot is the UI-facing view of the upload controller.
type Snapshot struct {
	File            *SelectedFile `json:"file,omitempty" msgpack:"file,omitempty"`
	Preview         *Preview      `json:"preview,omitempty" msgpack:"preview,omitempty"`
	Scan            ScanState     `json:"scan" msgpack:"scan"`
	ValidationError string        `json:"validationError,omitempty" msgpack:"validationError,omitempty"`
	Generation      uint64        `json:"generation" msgpack:"generation"`
}
