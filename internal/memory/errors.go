package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHandle is matched (via errors.Is) by every InvalidHandleError.
	ErrInvalidHandle = errors.New("invalid fact handle")

	// ErrStoreDisposed is returned when inserting into a disposed store.
	ErrStoreDisposed = errors.New("store disposed")

	// ErrUntypedFact is returned when inserting the zero Fact.
	ErrUntypedFact = errors.New("fact has no type")
)

// InvalidHandleError reports a handle used outside its owning store or after
// the store was disposed. It indicates a programming error.
type InvalidHandleError struct {
	Handle FactHandle
	Store  string // ID of the store the handle was presented to
	Reason string
}

// Error implements the error interface.
func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("invalid fact handle %s in store %s: %s", e.Handle, e.Store, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidHandle) match.
func (e *InvalidHandleError) Is(target error) bool {
	return target == ErrInvalidHandle
}

// IsInvalidHandle returns true if err is an InvalidHandleError.
// Uses errors.As to handle wrapped errors.
func IsInvalidHandle(err error) bool {
	var he *InvalidHandleError
	return errors.As(err, &he)
}
