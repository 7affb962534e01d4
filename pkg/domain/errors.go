package domain

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when the backend does not answer within the allotted time.
// It is never retried.
var ErrTimeout = errors.New("renderer timed out")

// ErrTooManyRetries is returned when every attempt allowed by the retry budget hit a transport fault.
var ErrTooManyRetries = errors.New("too many render attempts")

// ErrPoolExhausted is returned when the backend refuses new connections.
var ErrPoolExhausted = errors.New("backend refused connection")

// ErrNotFound is returned by platform collaborators when the target message no longer exists.
var ErrNotFound = errors.New("message not found")

// ErrForbidden is returned by platform collaborators when the bot lacks the permission for an action.
var ErrForbidden = errors.New("forbidden")

// ErrKeyNotFound is returned when a key cannot be found in a key-value store.
var ErrKeyNotFound = errors.New("key not found")

// RenderError reports that the backend understood the request but could not render the document.
// Log holds the backend's error log, which may be empty.
type RenderError struct {
	Log string
}

func (e *RenderError) Error() string {
	if e.Log == "" {
		return "rendering failed"
	}
	return fmt.Sprintf("rendering failed: %d byte log", len(e.Log))
}
