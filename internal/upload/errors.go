package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates unusable size, part size or max parts values
	ErrInvalidConfig = errors.New("upload: invalid configuration")

	// ErrMissingDestination indicates a resolved config without a URL
	ErrMissingDestination = errors.New("upload: missing destination url")

	// ErrNoResolution indicates the config resolver returned nothing
	ErrNoResolution = errors.New("upload: config resolver returned no result")

	// ErrAborted indicates the upload was aborted
	ErrAborted = errors.New("upload: aborted")

	// ErrUnexpectedStatus indicates a non-success HTTP status
	ErrUnexpectedStatus = errors.New("upload: unexpected status")

	// ErrSessionMismatch indicates the server reports a different part count
	ErrSessionMismatch = errors.New("upload: session part count mismatch")

	// ErrNotFinalized indicates the server did not complete the session
	ErrNotFinalized = errors.New("upload: session not finalized")
)

// Error is a failed engine step for one file
type Error struct {
	// Op is the step that failed (e.g. "initiate", "part", "status", "finalize", "direct")
	Op string

	// File is the name of the file being uploaded
	File string

	// Part is the part index for "part" failures, -1 otherwise
	Part int

	// StatusCode is the HTTP status when the server answered
	StatusCode int

	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Part >= 0 && e.StatusCode != 0:
		return fmt.Sprintf("upload.%s %s part %d: status %d: %v", e.Op, e.File, e.Part, e.StatusCode, e.Err)
	case e.Part >= 0:
		return fmt.Sprintf("upload.%s %s part %d: %v", e.Op, e.File, e.Part, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("upload.%s %s: status %d: %v", e.Op, e.File, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload.%s %s: %v", e.Op, e.File, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, f *File, err error) *Error {
	name := ""
	if f != nil {
		name = f.Name
	}
	return &Error{Op: op, File: name, Part: -1, Err: err}
}

// responseError turns a transport outcome into an *Error, or nil when resp is
// acceptable according to ok
func responseError(op string, f *File, resp *Response, err error, ok func(*Response) bool) *Error {
	if err != nil {
		return newError(op, f, err)
	}
	if !ok(resp) {
		e := newError(op, f, ErrUnexpectedStatus)
		if resp != nil {
			e.StatusCode = resp.StatusCode
		}
		return e
	}
	return nil
}
