package lnclient

import (
	"errors"
	"fmt"
)

// ListenerError wraps an internal failure inside a blocking
// WaitInvoice call. The listener already slept through its cooldown
// before returning it; callers can retry immediately.
type ListenerError struct {
	Err error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("invoice listener error: %v", e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

func NewListenerError(err error) error {
	return &ListenerError{Err: err}
}

func IsListenerError(err error) bool {
	var listenerErr *ListenerError
	return errors.As(err, &listenerErr)
}
