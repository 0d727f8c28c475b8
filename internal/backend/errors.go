package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the backend does not acknowledge a request
	// within the client-side deadline.
	ErrTimeout = errors.New("backend: request timed out waiting for acknowledgment")
	// ErrDisconnected is returned for requests outstanding when the transport drops.
	ErrDisconnected = errors.New("backend: connection lost while request was pending")
	// ErrNotConnected is returned when a request is made with no open connection.
	ErrNotConnected = errors.New("backend: not connected")
)

// Error codes reported by the backend.
const (
	CodeFileNotFound = "FILE_NOT_FOUND"
	CodeInvalidFile  = "INVALID_FILE"
	CodeInternal     = "INTERNAL_ERROR"
)

// ServerError is an acknowledgment with ok=false, propagated verbatim.
type ServerError struct {
	Method      string
	Code        string
	Message     string
	Recoverable bool
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("backend %s: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("backend %s: %s: %s", e.Method, e.Code, e.Message)
}

// IsRecoverable reports whether err is a server error marked recoverable.
func IsRecoverable(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Recoverable
}
