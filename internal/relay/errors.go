package relay

import "fmt"

// RuntimeError is an error surfaced by the Relay's transport-facing
// handlers. Kinds, not names, mirror spec.md §7's "Relay writer failure"
// and "protocol error" categories.
type RuntimeError struct {
	Kind    RuntimeErrorKind
	Message string
	Err     error
}

type RuntimeErrorKind string

const (
	// KindPushRejected means the Relay could not apply or persist a push;
	// the client should hold the batch unacknowledged and retry.
	KindPushRejected RuntimeErrorKind = "PUSH_REJECTED"

	// KindProtocolError means a malformed or unknown wire message; the
	// caller should log and drop it without aborting the connection.
	KindProtocolError RuntimeErrorKind = "PROTOCOL_ERROR"
)

func (e *RuntimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func newPushRejected(message string, err error) *RuntimeError {
	return &RuntimeError{Kind: KindPushRejected, Message: message, Err: err}
}

func newProtocolError(message string) *RuntimeError {
	return &RuntimeError{Kind: KindProtocolError, Message: message}
}
