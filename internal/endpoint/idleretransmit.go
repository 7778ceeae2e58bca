package endpoint

import (
	"sync"
	"time"

	"rsba1/internal/logging"
	"rsba1/internal/protocol"
	"rsba1/internal/rsba1err"
)

// IdleRetransmit is the type-0 idle/retransmit handler (spec.md §4.E). It
// owns the endpoint's outer send-seq — the single sequence space shared
// by every tracked frame an endpoint sends, whether that is a real
// payload (login, auth, serial/audio request, CI-V envelope) or a bare
// idle keep-alive — and a bounded retransmit buffer keyed by that
// sequence.
type IdleRetransmit struct {
	ep *Endpoint

	mu       sync.Mutex
	sendSeq  protocol.SeqNum // next seq to assign; starts at 1
	buffer   map[protocol.SeqNum][]byte
	order    []protocol.SeqNum // insertion order, oldest first, for eviction
	lastSend time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newIdleRetransmit(ep *Endpoint) *IdleRetransmit {
	return &IdleRetransmit{
		ep:      ep,
		sendSeq: 1,
		buffer:  make(map[protocol.SeqNum][]byte, protocol.RetransmitWindow),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic idle keep-alive loop. Called once the
// endpoint's handshake has completed.
func (h *IdleRetransmit) Start() {
	go h.loop()
}

func (h *IdleRetransmit) loop() {
	ticker := time.NewTicker(protocol.IdleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-h.ep.ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			idleTooLong := time.Since(h.lastSend) >= protocol.IdleInterval
			h.mu.Unlock()
			if !idleTooLong {
				continue
			}
			if _, err := h.Send(func(seq protocol.SeqNum) []byte {
				return protocol.EncodeIdle(h.ep.LocalSID(), h.ep.RemoteSID(), seq)
			}); err != nil {
				h.ep.log.Warn("idle keep-alive send failed", logging.Fields{"error": err.Error()})
			}
		}
	}
}

// Stop terminates the keep-alive loop. Safe to call multiple times.
func (h *IdleRetransmit) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Send allocates the next outer seq, has build render the final frame
// bytes for it, stores those bytes in the retransmit buffer (evicting
// the oldest entry once the window is full), and writes the frame to the
// endpoint's socket.
func (h *IdleRetransmit) Send(build func(seq protocol.SeqNum) []byte) (protocol.SeqNum, error) {
	h.mu.Lock()
	seq := h.sendSeq
	h.sendSeq = h.sendSeq.Next()
	frame := build(seq)
	h.buffer[seq] = frame
	h.order = append(h.order, seq)
	if len(h.order) > protocol.RetransmitWindow {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.buffer, oldest)
	}
	h.lastSend = time.Now()
	h.mu.Unlock()

	if err := h.ep.SendRaw(frame); err != nil {
		return seq, err
	}
	return seq, nil
}

// HandleRetransmitReq implements the retransmit-req reaction: if the
// buffer still holds the requested sequence, resend those exact bytes
// twice; otherwise send two untracked idle frames carrying the requested
// sequence as a "replacement" so the peer's window can advance anyway
// (resolving spec.md's Open Question on retransmit-miss semantics per
// the original reference's always-carry-the-requested-seq behavior).
func (h *IdleRetransmit) HandleRetransmitReq(seq protocol.SeqNum) error {
	h.mu.Lock()
	frame, ok := h.buffer[seq]
	h.mu.Unlock()

	if ok {
		if err := h.ep.SendRaw(frame); err != nil {
			return err
		}
		return h.ep.SendRaw(frame)
	}

	replacement := protocol.EncodeIdle(h.ep.LocalSID(), h.ep.RemoteSID(), seq)
	if err := h.ep.SendRaw(replacement); err != nil {
		return err
	}
	if err := h.ep.SendRaw(replacement); err != nil {
		return err
	}
	return rsba1err.RetransmitMiss(h.ep.Name, uint16(seq))
}
