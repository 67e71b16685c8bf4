package reactor

import "fmt"

// PollError wraps a failure surfaced by the Poller backend itself (not by
// an individual Pollable). Grounded on eventloop/errors.go's typed-error +
// Unwrap chain convention.
type PollError struct {
	Op    string
	Cause error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("reactor: poll %s: %v", e.Op, e.Cause)
}

func (e *PollError) Unwrap() error { return e.Cause }

// WrapError mirrors eventloop.WrapError: attach a message to a cause while
// keeping errors.Is/As able to see through it.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
