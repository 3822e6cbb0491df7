package ivy

import "fmt"

// ProtocolError is raised when a well-formed frame arrives in an illegal
// state, e.g. two START_INIT frames on the same connection. The
// connection that triggered it is terminated.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "ivy: protocol error: " + e.Reason }

// InvalidRegexpError is raised when a peer sends an ADD_REGEXP frame
// whose pattern does not compile. The binding is rejected but the
// connection is kept open.
type InvalidRegexpError struct {
	Regexp string
	Err    error
}

func (e *InvalidRegexpError) Error() string {
	return fmt.Sprintf("ivy: invalid regexp %q: %v", e.Regexp, e.Err)
}

func (e *InvalidRegexpError) Unwrap() error { return e.Err }

// IllegalStateError is returned by public API entry points called in an
// incorrect context, e.g. Start() called twice or Stop() called on an
// agent that isn't running.
type IllegalStateError struct {
	Reason string
}

func (e *IllegalStateError) Error() string { return "ivy: illegal state: " + e.Reason }

// ErrAlreadyRegistered is returned by the peers directory when a second
// Peer is registered under the same (ip, port) key.
type ErrAlreadyRegistered struct {
	IP   string
	Port int
}

func (e *ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("ivy: peer %s:%d is already registered", e.IP, e.Port)
}

// ErrSubscriptionNotFound is returned by UnbindMsg and the registry's
// remove operation when the supplied id is unknown.
type ErrSubscriptionNotFound struct {
	ID int
}

func (e *ErrSubscriptionNotFound) Error() string {
	return fmt.Sprintf("ivy: no such subscription: %d", e.ID)
}

// ErrTimerNotFound is returned by TimerModify when the supplied id is
// unknown or already removed.
type ErrTimerNotFound struct {
	ID int
}

func (e *ErrTimerNotFound) Error() string {
	return fmt.Sprintf("ivy: no such timer: %d", e.ID)
}
