package device

import (
	"errors"
	"fmt"
)

// ErrEmptyFrame indicates the device produced a zero-length frame.
var ErrEmptyFrame = errors.New("empty frame")

// ConnectionError indicates the device could not be opened or reopened.
type ConnectionError struct {
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error on %s: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ReadError indicates the device is open but a frame read failed or was
// empty.
type ReadError struct {
	Source string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read error on %s: %v", e.Source, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// UnsupportedPropertyError indicates a property key that the backend does
// not expose. Setting one is a non-fatal error surfaced to the caller.
type UnsupportedPropertyError struct {
	Key PropertyKey
}

func (e *UnsupportedPropertyError) Error() string {
	return fmt.Sprintf("unsupported device property: %s", e.Key)
}

// OutOfRangeError indicates a property value outside the backend's
// accepted range.
type OutOfRangeError struct {
	Key   PropertyKey
	Value int
	Min   int
	Max   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("property %s value %d out of range [%d,%d]", e.Key, e.Value, e.Min, e.Max)
}

// IsConnectionError reports whether err wraps a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsReadError reports whether err wraps a ReadError.
func IsReadError(err error) bool {
	var re *ReadError
	return errors.As(err, &re)
}
