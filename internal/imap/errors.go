package imap

import "fmt"

// ConnectionError reports a transport that could not be opened or secured:
// refused, unreachable, or timed out.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection failed: %s: %v", e.Reason, e.Err)
	}
	return "connection failed: " + e.Reason
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError reports missing or rejected credentials.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError reports a negative or missing tagged completion. Negative
// is set only when the server answered with a NO or BAD completion line; a
// completion that never arrived or could not be read leaves it false.
type ProtocolError struct {
	Reason   string
	Negative bool
	Err      error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }
