package session

import (
	"errors"
	"fmt"
)

// Code identifies an error class carried back to clients on the wire.
type Code string

const (
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeUserAlreadyInSession Code = "USER_ALREADY_IN_SESSION"
	CodeInvalidMessageFormat Code = "INVALID_MESSAGE_FORMAT"
	CodeConnectionTimeout    Code = "CONNECTION_TIMEOUT"
	CodeMediaSetupFailed     Code = "MEDIA_SETUP_FAILED"
	CodeRecordingFailed      Code = "RECORDING_FAILED"
)

// SignalError is a recoverable protocol violation. Handlers return it without
// mutating session state; the router turns it into a unicast ERROR message.
type SignalError struct {
	Code    Code
	Message string
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, format string, args ...any) *SignalError {
	return &SignalError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the wire code from err, defaulting to INVALID_MESSAGE_FORMAT
// for anything that is not a SignalError.
func CodeOf(err error) Code {
	var se *SignalError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInvalidMessageFormat
}

// ErrSessionExists is returned by Registry.CreateSession on an ID collision.
var ErrSessionExists = errors.New("session already exists")
