package ocrclient

// Kind tags the three possible outcomes of a scan request.
type Kind string

const (
	KindOK             Kind = "ok"
	KindServiceError   Kind = "service_error"
	KindTransportError Kind = "transport_error"
)

// Result is the outcome of one scan request.
type Result struct {
	Kind Kind

	// Text is the extracted text for KindOK; it may be empty.
	Text string

	// Message is the user-facing failure description for the error kinds.
	Message string

	// StatusCode is zero when no response was received.
	StatusCode int

	// Err is the underlying transport error, if any.
	Err error
}

// OK reports whether the service returned extracted text.
func (r Result) OK() bool {
	return r.Kind == KindOK
}

type scanResponse struct {
	Text *string `json:"text"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}
