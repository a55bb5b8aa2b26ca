package session

import (
	"errors"
	"fmt"
	"time"
)

// Errors shared by the capture and playback components.
var (
	// Capture errors
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrEncodeFailure    = errors.New("failed to capture or encode audio")

	// Playback errors
	ErrPlaybackFailure = errors.New("failed to play audio")
	ErrSuperseded      = errors.New("superseded by a newer request")

	// Workflow errors
	ErrInvalidState    = errors.New("invalid state for operation")
	ErrIndexOutOfRange = errors.New("take index out of range")
	ErrClipNotFound    = errors.New("clip not found")
	ErrDisposed        = errors.New("session manager has been disposed")
)

// IsRecoverable reports whether the operation that returned err may simply
// be retried. Permission denial needs an external flow and disposal is final.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrDisposed):
		return false
	}
	return true
}

// Error carries the component and action that failed.
type Error struct {
	Err       error  // The underlying error
	Component string // Component that generated the error
	Action    string // Action being performed when error occurred
	Timestamp time.Time
	Context   map[string]interface{}
}

// NewError creates a new session error with context.
func NewError(err error, component, action string) *Error {
	return &Error{
		Err:       err,
		Component: component,
		Action:    action,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failed", e.Component, e.Action)
	}
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Action, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRecoverable checks if the error is recoverable.
func (e *Error) IsRecoverable() bool {
	return IsRecoverable(e.Err)
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}
