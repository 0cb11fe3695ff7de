package groupclient

import (
	"errors"
	"fmt"
)

// New returns an instance of Error.
func New(message string) error {
	return &Error{error: errors.New(message)}
}

// Errorf is analogous to fmt.Errorf returning an instance of Error.
func Errorf(format string, v ...interface{}) error {
	return &Error{fmt.Errorf(format, v...)}
}

// Wrap err, returning an instance of Error. If err is nil, return nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &Error{error: err}
}

// Error wraps error and implements MarshalJSON so that errors that are parts
// of structs (such as consumer exchanges) are properly serialized.
type Error struct {
	error
}

func (e *Error) Unwrap() error {
	return e.error
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.Error() + `"`), nil
}
