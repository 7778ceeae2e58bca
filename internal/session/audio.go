package session

import (
	"context"

	"rsba1/internal/endpoint"
	"rsba1/internal/logging"
)

// Audio wraps the audio sample stream carried over the audio endpoint
// (spec.md §4.I). Framing is identical to Serial; no codec processing
// happens here — samples pass through exactly as received.
type Audio struct {
	*civStream
}

// NewAudio constructs an Audio wrapper over an already-constructed (but
// not yet handshaked) audio endpoint.
func NewAudio(ep *endpoint.Endpoint, log *logging.Logger) *Audio {
	return &Audio{civStream: newCivStream("audio", ep, log)}
}

// Start begins exchanging payload traffic, mirroring Serial.Start.
func (a *Audio) Start(ctx context.Context) { a.civStream.Start(ctx) }

// SendSamples wraps and transmits one frame of audio samples.
func (a *Audio) SendSamples(samples []byte) error { return a.civStream.Send(samples) }
