package model

import "errors"

// ErrNotFound reports that an exam, session, student, or share link does not
// resolve. Surfaced to callers as a 404-equivalent.
var ErrNotFound = errors.New("not found")

// ErrSessionCompleted reports an attempted mutation of a session that has already
// reached its terminal state.
var ErrSessionCompleted = errors.New("exam session already completed")

// ValidationError reports malformed author or client input. Nothing is persisted
// when one is returned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// ProtocolError reports a request that is out of step with the session state
// machine, such as answering a question other than the current one. The session
// is left unchanged.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return e.Msg
}

// IsClientFault reports whether err should be blamed on the caller rather than
// the server.
func IsClientFault(err error) bool {
	var ve *ValidationError
	var pe *ProtocolError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSessionCompleted) ||
		errors.As(err, &ve) ||
		errors.As(err, &pe)
}
