package repo

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row exists but is not in a state that allows the
	// requested change.
	ErrConflict = errors.New("conflict")
)

// StoreError is a persistence failure. Callers abort the current unit of
// work and leave state for the next attempt.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store " + e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err is a persistence failure.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
