package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the matching core. Callers match with errors.Is.
var (
	// ErrNotFound covers unknown orders and outlets referenced after
	// validation (e.g. during settlement or cancellation).
	ErrNotFound = errors.New("not found")

	// ErrUnknownInstrument is returned when an order references an
	// instrument that was never registered.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrUnknownOutlet is returned when an order references an outlet
	// that has no ledger account.
	ErrUnknownOutlet = errors.New("unknown outlet")
)

// ValidationError rejects an order before it enters the matching
// algorithm. The order is never created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
