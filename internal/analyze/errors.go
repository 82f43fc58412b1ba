package analyze

import "fmt"

// ConnectivityError wraps a failure to establish the request or stream.
// It is surfaced to the caller; no retry is automatic.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("could not reach analysis backend: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// BackendError is a non-2xx HTTP response or an explicit terminal error
// event from the pipeline.
type BackendError struct {
	StatusCode int    // zero for terminal error events
	Message    string // from the payload when present
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
}
