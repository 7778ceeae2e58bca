package endpoint

import (
	"crypto/rand"
	"sync"
	"time"

	"rsba1/internal/logging"
	"rsba1/internal/protocol"
	"rsba1/internal/rsba1err"
)

// maxConsecutivePingMisses is how many unanswered probes in a row the
// prober tolerates before reporting the endpoint's peer as lost. Not
// specified numerically by the wire contract beyond "repeated timeout
// terminates the session"; three strikes is the judgment call here.
const maxConsecutivePingMisses = 3

// PingHandler implements the type-7 ping handler (spec.md §4.F): an
// always-on responder role, and a prober role that only runs once probing
// is gated open (control-side authentication succeeded).
type PingHandler struct {
	ep *Endpoint

	mu          sync.Mutex
	sendSeq     protocol.SeqNum // own sequence space, independent of the outer tracked seq
	innerSeq    uint16          // local counter folded into the reply-id
	awaitingSeq protocol.SeqNum
	awaitingID  [4]byte
	waiting     bool
	ackCh       chan struct{}
	misses      int

	gateOpen    bool
	lastLatency time.Duration
	stopOnce    sync.Once
	stopCh      chan struct{}
}

func newPingHandler(ep *Endpoint) *PingHandler {
	return &PingHandler{
		ep:      ep,
		sendSeq: 1,
		stopCh:  make(chan struct{}),
	}
}

// Gate opens or closes probing. Every endpoint's prober is gated on
// control-side authentication, per spec.md §4.F.
func (p *PingHandler) Gate(open bool) {
	p.mu.Lock()
	p.gateOpen = open
	p.mu.Unlock()
}

// Start launches the probe loop. The responder role needs no goroutine:
// it reacts synchronously out of HandleInbound.
func (p *PingHandler) Start() {
	go p.loop()
}

func (p *PingHandler) loop() {
	ticker := time.NewTicker(protocol.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ep.ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			open := p.gateOpen
			p.mu.Unlock()
			if !open {
				continue
			}
			if err := p.probe(); err != nil {
				p.ep.log.Warn("ping probe failed", logging.Fields{"error": err.Error()})
			}
		}
	}
}

func (p *PingHandler) probe() error {
	p.mu.Lock()
	seq := p.sendSeq
	p.sendSeq = p.sendSeq.Next()
	var replyID [4]byte
	rand.Read(replyID[:1])
	replyID[1] = byte(p.innerSeq)
	replyID[2] = byte(p.innerSeq >> 8)
	replyID[3] = 0x06
	p.innerSeq++
	p.awaitingSeq = seq
	p.awaitingID = replyID
	p.waiting = true
	ack := make(chan struct{}, 1)
	p.ackCh = ack
	p.mu.Unlock()

	sentAt := time.Now()
	frame := protocol.EncodePing(p.ep.LocalSID(), p.ep.RemoteSID(), seq, false, replyID)
	if err := p.ep.SendRaw(frame); err != nil {
		return err
	}

	select {
	case <-ack:
		p.mu.Lock()
		p.misses = 0
		p.lastLatency = time.Since(sentAt)
		p.mu.Unlock()
		return nil
	case <-time.After(protocol.PingTimeout):
		p.mu.Lock()
		p.waiting = false
		p.misses++
		misses := p.misses
		p.mu.Unlock()
		if misses >= maxConsecutivePingMisses {
			err := rsba1err.PeerLost(p.ep.Name, misses)
			select {
			case p.ep.errorChan <- err:
			default:
			}
			return err
		}
		return nil
	case <-p.ep.ctx.Done():
		return rsba1err.Cancelled(p.ep.Name + " ping probe")
	}
}

// HandleInbound processes a decoded type-7 frame: responds immediately
// if it is a probe from the peer, or completes a pending local probe if
// it is the matching reply.
func (p *PingHandler) HandleInbound(f protocol.PingFrame) {
	if !f.IsReply {
		reply := protocol.EncodePing(p.ep.LocalSID(), p.ep.RemoteSID(), f.Seq, true, f.ReplyID)
		if err := p.ep.SendRaw(reply); err != nil {
			p.ep.log.Warn("ping reply send failed", logging.Fields{"error": err.Error()})
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.waiting || f.Seq != p.awaitingSeq || f.ReplyID != p.awaitingID {
		return
	}
	p.waiting = false
	select {
	case p.ackCh <- struct{}{}:
	default:
	}
}

// Stop terminates the probe loop. Safe to call multiple times.
func (p *PingHandler) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Latency returns the most recently observed probe round-trip time.
func (p *PingHandler) Latency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLatency
}
