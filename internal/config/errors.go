package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingKey reports a required key that is absent or empty.
	ErrMissingKey = errors.New("is required")
	// ErrUnknownKey reports a key the agent does not understand.
	ErrUnknownKey = errors.New("unknown key")
)

// Error is a configuration failure. Path is the configuration file and Key
// the offending entry when one can be named. Configuration errors are fatal
// and are reported before any process is launched.
type Error struct {
	Path string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path == "" && e.Key == "":
		return e.Err.Error()
	case e.Key == "":
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	case e.Path == "":
		return fmt.Sprintf("%s: %v", e.Key, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Key, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func keyError(key string, err error) *Error {
	return &Error{Key: key, Err: err}
}

func keyErrorf(key, format string, args ...any) *Error {
	return &Error{Key: key, Err: fmt.Errorf(format, args...)}
}
