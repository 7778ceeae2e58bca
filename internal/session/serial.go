package session

import (
	"context"

	"rsba1/internal/endpoint"
	"rsba1/internal/logging"
)

// Serial wraps the CI-V byte stream carried over the serial endpoint
// (spec.md §4.H). It is agnostic of CI-V semantics — addressing, BCD
// encoding, the 0xFB acknowledgement byte, the 0xFD terminator are all
// the caller's concern.
type Serial struct {
	*civStream
}

// NewSerial constructs a Serial wrapper over an already-constructed (but
// not yet handshaked) serial endpoint.
func NewSerial(ep *endpoint.Endpoint, log *logging.Logger) *Serial {
	return &Serial{civStream: newCivStream("serial", ep, log)}
}

// Start begins exchanging payload traffic. Called by the session
// orchestrator once the serial endpoint's own handshake has completed and
// the control session has reached PROVISIONING → ESTABLISHED.
func (s *Serial) Start(ctx context.Context) { s.civStream.Start(ctx) }

// SendCIV wraps and transmits a single CI-V command.
func (s *Serial) SendCIV(cmd []byte) error { return s.civStream.Send(cmd) }
