package logstore

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPersistenceFailed is returned once transient append errors exhaust the retry budget.
	ErrPersistenceFailed = errors.New("chat log persistence failed")
	// ErrMissingConversationID rejects turns that would be written without a conversation id.
	ErrMissingConversationID = errors.New("conversation id is required to persist a turn")
)

// StatusError carries the HTTP-style status class of a backing store failure.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("log store status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a rate-limit or backend-unavailable failure worth retrying.
func IsTransient(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}
