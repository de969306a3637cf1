package beefweb

import (
	"errors"
	"fmt"
)

// Exported error variables for better error handling
var (
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrStreamClosed     = errors.New("event stream closed")
)

// Error wraps a failed client operation.
type Error struct {
	Op   string    // Operation that failed
	Kind ErrorKind // Type of error
	Err  error     // Underlying error
}

type ErrorKind int

const (
	ErrNetwork ErrorKind = iota
	ErrStatus
	ErrDecode
	ErrRequest
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNetwork:
		return "network"
	case ErrStatus:
		return "status"
	case ErrDecode:
		return "decode"
	case ErrRequest:
		return "request"
	default:
		return "unknown"
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err came from the connection rather than from
// a malformed payload.
func IsTransport(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == ErrNetwork || e.Kind == ErrStatus
}
