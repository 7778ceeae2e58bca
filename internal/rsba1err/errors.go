// Package rsba1err defines the error taxonomy shared by every endpoint
// and session component, following the teacher's fmt.Errorf wrapping
// idiom rather than a third-party errors package (the teacher itself
// does not import one).
package rsba1err

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match with errors.Is; every wrapped error
// produced by this package preserves the sentinel via %w so that still
// works after transport/codec context is added.
var (
	// ErrTransport covers socket-level failures: bind, send, receive.
	ErrTransport = errors.New("rsba1: transport error")

	// ErrHandshakeTimeout is returned when an endpoint's connect/ready
	// handshake does not complete within its retry budget.
	ErrHandshakeTimeout = errors.New("rsba1: handshake timeout")

	// ErrBadCredentials is returned when the login answer carries the
	// ff ff ff fe marker. Fatal: the caller should not retry with the
	// same credentials.
	ErrBadCredentials = errors.New("rsba1: bad credentials")

	// ErrProtocolViolation covers frames that parse but violate an
	// invariant the peer is expected to uphold (out-of-window sequence,
	// unexpected frame at a given session state, and similar).
	ErrProtocolViolation = errors.New("rsba1: protocol violation")

	// ErrPeerLost is returned when ping timeouts repeat past the
	// tolerance the session is configured with.
	ErrPeerLost = errors.New("rsba1: peer lost")

	// ErrRetransmitMiss is returned when a retransmit-req names a
	// sequence number the local buffer no longer holds.
	ErrRetransmitMiss = errors.New("rsba1: retransmit miss")

	// ErrCancelled is returned when a caller-supplied context is
	// cancelled while an operation is in flight.
	ErrCancelled = errors.New("rsba1: cancelled")
)

// Transport wraps err as a transport-layer failure, attaching the
// component and operation it occurred in.
func Transport(component, op string, err error) error {
	return fmt.Errorf("%s: %s: %w: %v", component, op, ErrTransport, err)
}

// HandshakeTimeout reports a handshake timeout with enough detail for a
// human to start troubleshooting reachability, matching the reference
// implementation's practice of naming host:port on timeout.
func HandshakeTimeout(component, addr string) error {
	return fmt.Errorf("%s: no response from %s after retry budget exhausted: %w", component, addr, ErrHandshakeTimeout)
}

// BadCredentials reports a login rejection.
func BadCredentials(username string) error {
	return fmt.Errorf("login rejected for user %q: %w", username, ErrBadCredentials)
}

// ProtocolViolation wraps a description of the violated invariant.
func ProtocolViolation(component, detail string) error {
	return fmt.Errorf("%s: %s: %w", component, detail, ErrProtocolViolation)
}

// PeerLost reports that a ping prober exhausted its timeout tolerance.
func PeerLost(component string, misses int) error {
	return fmt.Errorf("%s: %d consecutive ping timeouts: %w", component, misses, ErrPeerLost)
}

// RetransmitMiss reports a retransmit-req the local buffer could not
// satisfy.
func RetransmitMiss(component string, seq uint16) error {
	return fmt.Errorf("%s: requested sequence %d not in retransmit buffer: %w", component, seq, ErrRetransmitMiss)
}

// Cancelled wraps a context cancellation with the operation it
// interrupted.
func Cancelled(op string) error {
	return fmt.Errorf("%s: %w", op, ErrCancelled)
}
