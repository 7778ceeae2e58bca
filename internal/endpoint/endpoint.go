// Package endpoint implements one UDP stream endpoint of the RS-BA1
// protocol: socket lifecycle, the connect/ready handshake, and the
// session-ID bookkeeping every one of the three streams (control,
// serial, audio) needs identically. The type-0 idle/retransmit handler
// and the type-7 ping handler live alongside it in this package since
// both are owned per-endpoint.
package endpoint

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"rsba1/internal/logging"
	"rsba1/internal/protocol"
	"rsba1/internal/rsba1err"
)

// State is the lifecycle state of one stream endpoint.
type State int

const (
	StateIdle State = iota
	StateHandshaking
	StateUp
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHandshaking:
		return "Handshaking"
	case StateUp:
		return "Up"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Endpoint owns one UDP socket and the session-ID pair negotiated for it,
// plus the idle/retransmit and ping sub-handlers layered on top.
type Endpoint struct {
	Name string // "control", "serial", "audio" — also the logger component tag

	mu           sync.RWMutex
	conn         *net.UDPConn
	state        State
	localSID     protocol.SessionID
	remoteSID    protocol.SessionID
	gotRemoteSID bool

	readChan  chan []byte
	errorChan chan error
	closeChan chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	log *logging.Logger

	Idle *IdleRetransmit
	Ping *PingHandler
}

// New constructs an Endpoint. The caller still must call Init then
// Handshake before using it.
func New(name string, localSID protocol.SessionID, log *logging.Logger) *Endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		Name:      name,
		localSID:  localSID,
		readChan:  make(chan []byte, 64),
		errorChan: make(chan error, 8),
		closeChan: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}
	e.Idle = newIdleRetransmit(e)
	e.Ping = newPingHandler(e)
	return e
}

// Init creates and connects the UDP socket. Per spec.md §4.D, the socket
// is created here; the endpoint becomes usable only after Handshake
// completes.
func (e *Endpoint) Init(addr string, port int) error {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return rsba1err.Transport(e.Name, "resolve", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return rsba1err.Transport(e.Name, "dial", err)
	}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	go e.readLoop()
	return nil
}

func (e *Endpoint) readLoop() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}
		e.mu.RLock()
		conn := e.conn
		e.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case e.errorChan <- rsba1err.Transport(e.Name, "read", err):
			case <-e.ctx.Done():
			}
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case e.readChan <- frame:
		case <-e.ctx.Done():
			return
		default:
			e.log.Warn("read channel full, dropping frame", logging.Fields{"bytes": n})
		}
	}
}

// Handshake runs the connect/ready exchange: three quick pkt3 sends, a
// wait for pkt4, pkt6 sent twice, a wait for the (tolerant) pkt6 answer —
// retried up to HandshakeRetryCount times with HandshakeRetryInterval
// between attempts if the first pass does not complete.
func (e *Endpoint) Handshake(ctx context.Context, remoteAddr string) error {
	e.setState(StateHandshaking)
	for attempt := 0; attempt < protocol.HandshakeRetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(protocol.HandshakeRetryInterval):
			case <-ctx.Done():
				return rsba1err.Cancelled(e.Name + " handshake")
			}
		}
		if err := e.handshakeOnce(ctx); err != nil {
			e.log.Debug("handshake attempt failed", logging.Fields{"attempt": attempt, "error": err.Error()})
			continue
		}
		e.setState(StateUp)
		return nil
	}
	e.setState(StateClosed)
	return rsba1err.HandshakeTimeout(e.Name, e.remoteAddrString())
}

func (e *Endpoint) handshakeOnce(ctx context.Context) error {
	for i := 0; i < protocol.ConnectRetryCount; i++ {
		if err := e.SendRaw(protocol.EncodeConnect(e.localSID, e.remoteSIDSnapshot())); err != nil {
			return err
		}
		if i < protocol.ConnectRetryCount-1 {
			select {
			case <-time.After(protocol.ConnectRetryInterval):
			case <-ctx.Done():
				return rsba1err.Cancelled(e.Name + " connect retry")
			}
		}
	}

	pkt4, err := e.waitFrame(ctx, 2*time.Second)
	if err != nil {
		return err
	}
	remote, err := protocol.DecodeConnectAns(pkt4)
	if err != nil {
		return rsba1err.ProtocolViolation(e.Name, err.Error())
	}
	e.mu.Lock()
	e.remoteSID = remote
	e.gotRemoteSID = true
	e.mu.Unlock()

	pkt6 := protocol.EncodeReady(e.localSID, remote)
	if err := e.SendRaw(pkt6); err != nil {
		return err
	}
	if err := e.SendRaw(pkt6); err != nil {
		return err
	}
	pkt6ans, err := e.waitFrame(ctx, 2*time.Second)
	if err != nil {
		return err
	}
	if !protocol.IsReadyAnswer(pkt6ans) {
		e.log.Debug("pkt6 answer is not a 16-byte type-6 frame, accepting anyway", nil)
	}
	return nil
}

func (e *Endpoint) waitFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	select {
	case f := <-e.readChan:
		return f, nil
	case err := <-e.errorChan:
		return nil, err
	case <-time.After(timeout):
		return nil, rsba1err.HandshakeTimeout(e.Name, e.remoteAddrString())
	case <-ctx.Done():
		return nil, rsba1err.Cancelled(e.Name + " handshake wait")
	}
}

func (e *Endpoint) remoteAddrString() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.conn == nil {
		return "unknown"
	}
	return e.conn.RemoteAddr().String()
}

func (e *Endpoint) remoteSIDSnapshot() protocol.SessionID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.remoteSID
}

// LocalSID returns the endpoint's local session ID.
func (e *Endpoint) LocalSID() protocol.SessionID { return e.localSID }

// RemoteSID returns the negotiated remote session ID.
func (e *Endpoint) RemoteSID() protocol.SessionID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.remoteSID
}

func (e *Endpoint) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// State returns the endpoint's current lifecycle state.
func (e *Endpoint) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SendRaw writes b to the socket untracked: no retransmit-buffer entry,
// no sequence assignment. Used for pkt3/pkt5/pkt6 and ping frames, which
// carry their own sequencing or none at all.
func (e *Endpoint) SendRaw(b []byte) error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()
	if conn == nil {
		return rsba1err.Transport(e.Name, "send", fmt.Errorf("socket not initialized"))
	}
	if _, err := conn.Write(b); err != nil {
		return rsba1err.Transport(e.Name, "send", err)
	}
	return nil
}

// SendTracked allocates the next outer send-seq, asks build to render the
// final frame for that sequence number (so the seq can be embedded at the
// frame's offset 6:8), stores the result in the retransmit buffer, and
// writes it to the socket.
func (e *Endpoint) SendTracked(build func(seq protocol.SeqNum) []byte) (protocol.SeqNum, error) {
	return e.Idle.Send(build)
}

// Recv returns the channel of raw inbound frames. The session layer owns
// dispatch (auth answers vs. CI-V payloads vs. idle/ping frames).
func (e *Endpoint) Recv() <-chan []byte { return e.readChan }

// Errors returns the channel of asynchronous transport errors.
func (e *Endpoint) Errors() <-chan error { return e.errorChan }

// Disconnect sends the pkt5 disconnect frame twice (only once a remote SID
// has actually been negotiated, per spec.md §4.D: "if got_remote_sid, send
// pkt5 twice, then close" — a session torn down before the connect
// handshake completes has no peer SID to address a disconnect to), closes
// the socket, and cancels the reader goroutine.
func (e *Endpoint) Disconnect() {
	e.mu.RLock()
	conn := e.conn
	local, remote := e.localSID, e.remoteSID
	gotRemoteSID := e.gotRemoteSID
	e.mu.RUnlock()
	if conn != nil && gotRemoteSID {
		pkt5 := protocol.EncodeDisconnect(local, remote)
		conn.Write(pkt5)
		conn.Write(pkt5)
	}
	e.cancel()
	e.Idle.Stop()
	e.Ping.Stop()
	if conn != nil {
		conn.Close()
	}
	e.setState(StateClosed)
	select {
	case <-e.closeChan:
	default:
		close(e.closeChan)
	}
}

// Done returns a channel closed once Disconnect has run.
func (e *Endpoint) Done() <-chan struct{} { return e.closeChan }
