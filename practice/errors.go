package practice

import (
	"errors"
	"fmt"

	"parley/auth"
	"parley/capture"
)

var (
	ErrInvalidTransition = errors.New("operation not valid in current state")
	ErrBusy              = errors.New("another operation is in progress")
	ErrClosed            = errors.New("practice session closed")
	// ErrReauthRequired rejects a retry until the credential is valid again.
	ErrReauthRequired = errors.New("sign in again to continue")
)

// ErrorKind classifies failures shown to the user.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota + 1
	DeviceUnavailable
	ContentFetchFailed
	SubmissionFailed
	SessionExpired
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "PermissionDenied"
	case DeviceUnavailable:
		return "DeviceUnavailable"
	case ContentFetchFailed:
		return "ContentFetchFailed"
	case SubmissionFailed:
		return "SubmissionFailed"
	case SessionExpired:
		return "SessionExpired"
	}
	return "Unknown"
}

func (k ErrorKind) message() string {
	switch k {
	case PermissionDenied:
		return "Microphone access was denied. Allow access to the microphone and try again."
	case DeviceUnavailable:
		return "No usable microphone was found."
	case ContentFetchFailed:
		return "Could not load the exercise."
	case SubmissionFailed:
		return "Could not analyze your recording."
	case SessionExpired:
		return "Your session has expired. Please sign in again."
	}
	return "Something went wrong."
}

// SessionError is a failure surfaced in the Error state.
type SessionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewSessionError builds a SessionError with the default message for kind.
func NewSessionError(kind ErrorKind, err error) *SessionError {
	return &SessionError{Kind: kind, Message: kind.message(), Err: err}
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Recoverable reports whether Retry can proceed without outside action.
func (e *SessionError) Recoverable() bool { return e.Kind != SessionExpired }

func fetchError(err error) *SessionError {
	var se *SessionError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		return NewSessionError(SessionExpired, err)
	}
	return NewSessionError(ContentFetchFailed, err)
}

func acquireError(err error) *SessionError {
	if errors.Is(err, capture.ErrPermissionDenied) {
		return NewSessionError(PermissionDenied, err)
	}
	return NewSessionError(DeviceUnavailable, err)
}

func submitError(err error) *SessionError {
	var se *SessionError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		return NewSessionError(SessionExpired, err)
	}
	return NewSessionError(SubmissionFailed, err)
}
