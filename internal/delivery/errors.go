package delivery

import (
	"errors"
	"fmt"
)

// Kind classifies a failed delivery attempt.
type Kind int

const (
	// Transient failures may succeed on a later attempt.
	Transient Kind = iota
	// Unreachable means the recipient blocked the bot or no longer exists.
	Unreachable
	// Invalid means the payload itself was rejected.
	Invalid
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Invalid:
		return "invalid"
	default:
		return "transient"
	}
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("delivery %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err. Unclassified errors are
// treated as transient.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return Transient
}

func IsUnreachable(err error) bool {
	return err != nil && KindOf(err) == Unreachable
}

func classified(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}
