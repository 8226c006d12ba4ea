package ftpstore

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by an Adapter matches exactly one of
// them with errors.Is.
var (
	// ErrConfiguration reports a backend that can never work as configured:
	// a disabled or unknown security preference, a missing host, or a
	// failed ValidateConfig.
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthentication reports rejected credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrWrite reports a failed upload.
	ErrWrite = errors.New("write failed")

	// ErrNotFound reports a missing remote file.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPath reports a relative path escaping the backend root.
	ErrInvalidPath = errors.New("invalid path")

	// ErrTransport reports network failures and unexpected server replies.
	ErrTransport = errors.New("transport error")
)

// Error is the error type returned by adapter operations. It unwraps to
// both its kind and its cause, so callers can match the kind with
// errors.Is and still reach an *ftp.ProtocolError with errors.As.
type Error struct {
	// Op is the operation that failed (e.g., "add", "move").
	Op string

	// Path is the remote path involved, if any.
	Path string

	// Kind is one of the Err* sentinels.
	Kind error

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	msg := "ftpstore: " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, path string, kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// KindOf returns the Err* sentinel err matches, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrConfiguration, ErrAuthentication, ErrWrite, ErrNotFound, ErrInvalidPath, ErrTransport} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// asError keeps an *Error produced deeper in the call chain and wraps
// anything else with kind.
func asError(op, path string, kind, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(op, path, kind, err)
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
}
