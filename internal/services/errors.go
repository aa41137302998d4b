package services

import (
	"errors"
	"fmt"
)

var (
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrReservationNotActive = errors.New("reservation not active")
	ErrCircuitOpen          = errors.New("circuit open")
)

// TransientError marks a store failure that is safe to retry (timeouts,
// connection errors, optimistic lock conflicts).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
