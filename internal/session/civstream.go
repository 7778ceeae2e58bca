package session

import (
	"context"
	"sync"

	"rsba1/internal/endpoint"
	"rsba1/internal/logging"
	"rsba1/internal/protocol"
)

// civStream is the demultiplex/wrap logic shared by the serial and audio
// wrappers (spec.md §4.H, §4.I): identical framing, identical reader
// demultiplex rules, differing only in which endpoint and caller they are
// bound to. Serial and Audio are thin named wrappers around it, mirroring
// how the reference keeps serialStream/audioStream as separate types over
// one common implementation.
type civStream struct {
	name string
	ep   *endpoint.Endpoint
	log  *logging.Logger

	mu       sync.Mutex
	localSeq protocol.SeqNum // this wrapper's own send-seq, independent of the endpoint's outer tracked seq

	payloads chan []byte

	ctx    context.Context
	cancel context.CancelFunc
}

func newCivStream(name string, ep *endpoint.Endpoint, log *logging.Logger) *civStream {
	return &civStream{
		name:     name,
		ep:       ep,
		log:      log,
		localSeq: 1,
		payloads: make(chan []byte, 64),
	}
}

// Start launches the endpoint's idle keep-alive and ping prober (both
// already handshaked by the caller before this runs) and the payload
// demultiplex loop.
func (s *civStream) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.ep.Idle.Start()
	s.ep.Ping.Gate(true)
	s.ep.Ping.Start()
	go s.loop()
}

func (s *civStream) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.ep.Recv():
			s.handleFrame(frame)
		case err := <-s.ep.Errors():
			s.log.Warn(s.name+": transport error", logging.Fields{"error": err.Error()})
		}
	}
}

func (s *civStream) handleFrame(frame []byte) {
	switch protocol.ClassifyKind(frame) {
	case protocol.KindPing:
		if f, err := protocol.DecodePing(frame); err == nil {
			s.ep.Ping.HandleInbound(f)
		}
	case protocol.KindRetransmitReq:
		if seq, err := protocol.DecodeRetransmitReq(frame); err == nil {
			if err := s.ep.Idle.HandleRetransmitReq(seq); err != nil {
				s.log.Debug(s.name+": retransmit miss", logging.Fields{"seq": seq, "error": err.Error()})
			}
		}
	case protocol.KindIdle:
		// keep-alive only
	case protocol.KindCivEnvelope:
		payload, err := protocol.DecodeCivEnvelope(frame)
		if err != nil {
			s.log.Debug(s.name+": dropping malformed envelope", logging.Fields{"error": err.Error()})
			return
		}
		select {
		case s.payloads <- payload:
		default:
			s.log.Warn(s.name+": payload channel full, dropping frame", nil)
		}
	}
}

// Send wraps payload in a civ-envelope and hands it to the endpoint's
// idle/retransmit handler for sequencing, buffering, and transmission.
func (s *civStream) Send(payload []byte) error {
	if len(payload) < 1 || len(payload) > protocol.MaxCivPayload {
		return protocol.ErrCivPayloadSize
	}
	s.mu.Lock()
	seq := s.localSeq
	s.localSeq = s.localSeq.Next()
	s.mu.Unlock()

	_, err := s.ep.SendTracked(func(outerSeq protocol.SeqNum) []byte {
		frame, _ := protocol.EncodeCivEnvelope(s.ep.LocalSID(), s.ep.RemoteSID(), outerSeq, seq, payload)
		return frame
	})
	return err
}

// Recv returns the channel of inbound CI-V/audio payloads, already
// stripped of their envelope.
func (s *civStream) Recv() <-chan []byte { return s.payloads }

// Stop terminates the demultiplex loop and tears down the underlying
// endpoint: pkt5 sent twice, sub-handlers stopped, socket closed (spec.md
// §4.G step 9 applies this to every endpoint, not just control's).
func (s *civStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.ep.Disconnect()
}
