package story

import (
	"fmt"
)

// ValidationError is returned for malformed records; they never reach the store or the network.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid story: %s %s", e.Field, e.Reason)
}

// NetworkError is a transport failure or non-success status after all retries.
type NetworkError struct {
	URL      string
	Attempts int
	Status   int
	Err      error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request %s failed after %d attempt(s): status %d", e.URL, e.Attempts, e.Status)
	}
	return fmt.Sprintf("request %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failed persistent store transaction.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// SubscriptionError is a push registration failure or a permission denial.
type SubscriptionError struct {
	Denied bool
	Err    error
}

func (e *SubscriptionError) Error() string {
	if e.Denied {
		return "push subscription denied"
	}
	return fmt.Sprintf("push subscription failed: %v", e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}
