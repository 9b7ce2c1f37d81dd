package inference

import "fmt"

// Reason explains why an inference call failed.
// There is only one failure kind, so that callers don't need to distinguish between
// "HTTP 200 but success=false", "HTTP 500", and "connection refused".
type Reason string

const (
	ReasonNetwork      Reason = "network"      // Could not reach the backend
	ReasonTimeout      Reason = "timeout"      // No response within the deadline
	ReasonCanceled     Reason = "canceled"     // Our own context was cancelled
	ReasonHTTPStatus   Reason = "http-status"  // Non-2xx response
	ReasonUnsuccessful Reason = "unsuccessful" // 2xx, but the body said success=false
	ReasonDecode       Reason = "decode"       // 2xx, but the body was not a valid prediction
	ReasonEncode       Reason = "encode"       // Failed to build the request
	ReasonNoFrame      Reason = "no-frame"     // Nothing to submit, because the camera has no frame
	ReasonAuth         Reason = "auth"         // Could not obtain an access token
)

type Error struct {
	Reason     Reason
	StatusCode int // Only populated for ReasonHTTPStatus
	Err        error
}

func newError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

// NewError wraps err as an inference failure with the given reason
func NewError(reason Reason, err error) *Error {
	return newError(reason, err)
}

func (e *Error) Error() string {
	if e.Reason == ReasonHTTPStatus {
		return fmt.Sprintf("Inference failed (%v %v): %v", e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("Inference failed (%v): %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
