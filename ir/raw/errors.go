package raw

import (
	"errors"
	"fmt"
)

// MalformedFileError reports a structural violation in the file at a known
// byte position.
type MalformedFileError struct {
	Pos int64
	Err error
}

func (err *MalformedFileError) Error() string {
	msg := "malformed PDF"
	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}
	if err.Pos > 0 {
		msg += fmt.Sprintf(" (at byte %d)", err.Pos)
	}
	return msg
}

func (err *MalformedFileError) Unwrap() error { return err.Err }

// Malformed builds a *MalformedFileError with a formatted message.
func Malformed(pos int64, format string, args ...interface{}) error {
	return &MalformedFileError{Pos: pos, Err: fmt.Errorf(format, args...)}
}

// IsMalformed reports whether err (or anything it wraps) is a MalformedFileError.
func IsMalformed(err error) bool {
	var m *MalformedFileError
	return errors.As(err, &m)
}
