package fault

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrUniqueViolation     = errors.New("unique violation")
	ErrForeignKeyViolation = errors.New("restricted for deletion")
	ErrCheckViolation      = errors.New("check constraint violated")
	// ErrStaleVersion is returned when a write carries a survey version that no
	// longer matches the stored one.
	ErrStaleVersion = errors.New("stale survey version")
)

type ErrorType int

const (
	ErrClient ErrorType = iota
	ErrInternal
)

// Fault classifies an error for the transport: client errors carry a stable
// code the caller can branch on.
type Fault struct {
	Type    ErrorType
	Code    string
	Message string
	Err     error
}

func (e *Fault) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.typeString(), e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.typeString(), e.Message)
}

// Unwrap allows errors.Is and errors.As to work.
func (e *Fault) Unwrap() error {
	return e.Err
}

func (e *Fault) typeString() string {
	switch e.Type {
	case ErrClient:
		return "ClientError"
	case ErrInternal:
		return "InternalError"
	default:
		return "UnknownError"
	}
}

// NewClientError creates a new client error.
func NewClientError(code, msg string, err error) error {
	return &Fault{
		Type:    ErrClient,
		Code:    code,
		Message: msg,
		Err:     err,
	}
}

// NewInternalError creates a new internal server error.
func NewInternalError(msg string, err error) error {
	return &Fault{
		Type:    ErrInternal,
		Code:    "internal",
		Message: msg,
		Err:     err,
	}
}

// Clientf is NewClientError with a formatted message and no cause.
func Clientf(code, format string, args ...any) error {
	return NewClientError(code, fmt.Sprintf(format, args...), nil)
}

// As unwraps err into a *Fault.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsClientError checks if an error is a client error.
func IsClientError(err error) bool {
	f, ok := As(err)
	return ok && f.Type == ErrClient
}

// IsInternalError checks if an error is an internal error.
func IsInternalError(err error) bool {
	f, ok := As(err)
	return ok && f.Type == ErrInternal
}
