package session

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"rsba1/internal/endpoint"
	"rsba1/internal/logging"
	"rsba1/internal/protocol"
	"rsba1/internal/rsba1err"
)

// Control drives the control-stream state machine (spec.md §4.G). It owns
// the control endpoint's login/auth/provisioning exchange; the serial and
// audio endpoints are handshaked independently by the caller (component
// lifecycle: "sockets are created in G.init; endpoints become usable
// after their handshake completes") and only start exchanging payload
// traffic once Control reports the session ESTABLISHED.
type Control struct {
	ep       *endpoint.Endpoint
	addr     string
	username string
	password string
	log      *logging.Logger

	mu                   sync.RWMutex
	state                State
	authID               [6]byte
	gotAuthID            bool
	authOK               bool
	a8ReplyID            [16]byte
	gotA8ReplyID         bool
	serialAudioRequested bool
	serialAudioOpen      bool
	deviceName           string
	deinitializing       bool

	authInnerSeq protocol.SeqNum // G's own counter: one increment per tracked auth-related frame

	events    chan Event
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewControl constructs a Control session bound to an already-constructed
// (but not yet handshaked) control endpoint.
func NewControl(ep *endpoint.Endpoint, addr, username, password string, log *logging.Logger) *Control {
	return &Control{
		ep:       ep,
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		state:    StateHandshaking,
		events:   make(chan Event, 32),
		doneCh:   make(chan struct{}),
	}
}

// Events returns the channel of lifecycle notifications.
func (c *Control) Events() <-chan Event { return c.events }

// State returns the current control session state.
func (c *Control) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// DeviceName returns the provisioning answer's device name, once known.
func (c *Control) DeviceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceName
}

func (c *Control) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.emit(Event{Kind: EventStateChanged, State: s, DeviceName: c.DeviceName()})
}

func (c *Control) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Warn("event channel full, dropping event", logging.Fields{"kind": e.Kind})
	}
}

// Run performs the handshake, login, and both auth steps synchronously,
// then hands off to a background loop for the ESTABLISHED-phase
// concerns: provisioning completion, reauth, and status ticks (deauth is
// sent by Close). It returns once both auth frames are sent, with the
// session in PROVISIONING, or once a fatal error (handshake timeout, bad
// credentials) occurs.
func (c *Control) Run(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.startedAt = time.Now()

	// Mirrors the reference client's try/except/finally: cleanup runs on
	// every path out of the handshake/login/auth sequence below, not just
	// the explicit bad-credentials branch, so a timeout or send failure
	// mid-handshake doesn't leak the socket and reader goroutine.
	succeeded := false
	defer func() {
		if succeeded {
			return
		}
		c.mu.Lock()
		already := c.deinitializing
		c.deinitializing = true
		c.mu.Unlock()
		if !already {
			c.teardown()
		}
	}()

	if err := c.ep.Handshake(c.ctx, c.addr); err != nil {
		return err
	}
	c.ep.Idle.Start()
	c.setState(StateLoggingIn)

	if err := c.sendLogin(); err != nil {
		return err
	}
	ans, err := c.awaitLoginAnswer(c.ctx)
	if err != nil {
		return err
	}
	if ans.BadCredentials {
		err := rsba1err.BadCredentials(c.username)
		c.emit(Event{Kind: EventError, Err: err})
		return err
	}
	c.mu.Lock()
	c.authID = ans.AuthID
	c.gotAuthID = true
	c.mu.Unlock()

	c.setState(StateAuth1)
	c.ep.Ping.Gate(true)
	c.ep.Ping.Start()
	if err := c.sendAuth(protocol.AuthParamFirst); err != nil {
		return err
	}

	c.setState(StateAuth2)
	if err := c.sendAuth(protocol.AuthParamSecond); err != nil {
		return err
	}

	c.setState(StateProvisioning)
	go c.loop()
	succeeded = true
	return nil
}

func (c *Control) sendLogin() error {
	var authStart [2]byte
	rand.Read(authStart[:])
	c.mu.Lock()
	inner := c.authInnerSeq
	c.authInnerSeq = c.authInnerSeq.Next()
	c.mu.Unlock()

	_, err := c.ep.SendTracked(func(outerSeq protocol.SeqNum) []byte {
		return protocol.EncodeLogin(protocol.LoginRequest{
			Local: c.ep.LocalSID(), Remote: c.ep.RemoteSID(),
			OuterSeq: outerSeq, InnerSeq: inner,
			AuthStartID: authStart,
			Username:    c.username, Password: c.password,
		})
	})
	return err
}

func (c *Control) awaitLoginAnswer(ctx context.Context) (protocol.LoginAnswer, error) {
	for {
		select {
		case frame := <-c.ep.Recv():
			if protocol.ClassifyKind(frame) != protocol.KindLoginAns {
				continue
			}
			return protocol.DecodeLoginAnswer(frame)
		case err := <-c.ep.Errors():
			return protocol.LoginAnswer{}, err
		case <-time.After(5 * time.Second):
			return protocol.LoginAnswer{}, rsba1err.HandshakeTimeout("control", c.addr)
		case <-ctx.Done():
			return protocol.LoginAnswer{}, rsba1err.Cancelled("control login")
		}
	}
}

func (c *Control) sendAuth(param byte) error {
	c.mu.Lock()
	inner := c.authInnerSeq
	c.authInnerSeq = c.authInnerSeq.Next()
	authID := c.authID
	c.mu.Unlock()

	_, err := c.ep.SendTracked(func(outerSeq protocol.SeqNum) []byte {
		return protocol.EncodeAuth(protocol.AuthRequest{
			Local: c.ep.LocalSID(), Remote: c.ep.RemoteSID(),
			OuterSeq: outerSeq, InnerSeq: inner,
			Param: param, AuthID: authID,
		})
	})
	return err
}

func (c *Control) sendSerialAudioRequest(serialPort, audioPort uint16) error {
	c.mu.Lock()
	inner := c.authInnerSeq
	c.authInnerSeq = c.authInnerSeq.Next()
	authID := c.authID
	a8ID := c.a8ReplyID
	c.serialAudioRequested = true
	c.mu.Unlock()

	_, err := c.ep.SendTracked(func(outerSeq protocol.SeqNum) []byte {
		return protocol.EncodeSerialAudioRequest(protocol.SerialAudioRequest{
			Local: c.ep.LocalSID(), Remote: c.ep.RemoteSID(),
			OuterSeq: outerSeq, InnerSeq: inner,
			AuthID: authID, A8ReplyID: a8ID,
			SerialPort: serialPort, AudioPort: audioPort,
			Username: c.username,
		})
	})
	return err
}

// loop is the ESTABLISHED-phase event loop: dispatches inbound frames and
// drives reauth and status ticks. It ends when the session context is
// cancelled; deauth is sent by Close.
func (c *Control) loop() {
	reauth := time.NewTicker(protocol.ReauthInterval)
	defer reauth.Stop()
	status := time.NewTicker(3 * time.Second)
	defer status.Stop()

	var reauthTimer *time.Timer
	var reauthDeadline <-chan time.Time

	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.ep.Recv():
			if c.handleFrame(frame) && reauthTimer != nil {
				reauthTimer.Stop()
				reauthTimer, reauthDeadline = nil, nil
				if c.State() == StateDegraded {
					c.setState(StateEstablished)
				}
			}
		case err := <-c.ep.Errors():
			c.emit(Event{Kind: EventError, Err: err})
		case <-reauth.C:
			if err := c.sendAuth(protocol.AuthParamSecond); err != nil {
				c.emit(Event{Kind: EventError, Err: err})
			}
			reauthTimer = time.NewTimer(protocol.ReauthTimeout)
			reauthDeadline = reauthTimer.C
		case <-reauthDeadline:
			reauthTimer, reauthDeadline = nil, nil
			c.setState(StateDegraded)
		case <-status.C:
			c.mu.RLock()
			open := c.serialAudioOpen
			c.mu.RUnlock()
			if open {
				c.emit(Event{
					Kind: EventStatusTick, State: c.State(),
					Uptime:    int64(time.Since(c.startedAt).Seconds()),
					LatencyMS: c.ep.Ping.Latency().Milliseconds(),
				})
			}
		}
	}
}

// handleFrame dispatches one inbound control frame and reports whether it
// was an auth-ok answer, so loop can clear a pending reauth deadline.
func (c *Control) handleFrame(frame []byte) bool {
	switch protocol.ClassifyKind(frame) {
	case protocol.KindAuthAns:
		ans, err := protocol.DecodeAuthAnswer(frame)
		if err != nil {
			c.log.Debug("dropping malformed auth answer", logging.Fields{"error": err.Error()})
			return false
		}
		if ans.AuthOK {
			c.mu.Lock()
			c.authOK = true
			ready := c.authOK && c.gotA8ReplyID && !c.serialAudioRequested
			c.mu.Unlock()
			if ready {
				c.requestProvisioning()
			}
			return true
		}
	case protocol.KindA8Reply:
		a8, err := protocol.DecodeA8Reply(frame)
		if err != nil {
			c.log.Debug("dropping malformed a8-reply", logging.Fields{"error": err.Error()})
			return false
		}
		c.mu.Lock()
		c.a8ReplyID = a8.A8ReplyID
		c.gotA8ReplyID = true
		ready := c.authOK && c.gotA8ReplyID && !c.serialAudioRequested
		c.mu.Unlock()
		if ready {
			c.requestProvisioning()
		}
	case protocol.KindSerialAudioAns:
		ans, err := protocol.DecodeSerialAudioAnswer(frame)
		if err != nil {
			c.log.Debug("dropping malformed provisioning answer", logging.Fields{"error": err.Error()})
			return false
		}
		if !ans.Success {
			return false
		}
		c.mu.Lock()
		if c.serialAudioOpen {
			c.mu.Unlock()
			return false
		}
		c.serialAudioOpen = true
		c.deviceName = ans.DeviceName
		c.mu.Unlock()
		c.setState(StateEstablished)
	case protocol.KindIdle:
		// pure keep-alive traffic; no session-level action required.
	case protocol.KindRetransmitReq:
		if seq, err := protocol.DecodeRetransmitReq(frame); err == nil {
			if err := c.ep.Idle.HandleRetransmitReq(seq); err != nil {
				c.log.Debug("retransmit miss", logging.Fields{"seq": seq, "error": err.Error()})
			}
		}
	case protocol.KindPing:
		if f, err := protocol.DecodePing(frame); err == nil {
			c.ep.Ping.HandleInbound(f)
		}
	}
	return false
}

func (c *Control) requestProvisioning() {
	if err := c.sendSerialAudioRequest(protocol.SerialPort, protocol.AudioPort); err != nil {
		c.emit(Event{Kind: EventError, Err: err})
	}
}

// Close drives teardown: deauth, pkt5 twice on the control endpoint, then
// closes the socket and cancels the background loop, per spec.md §4.G
// step 9.
func (c *Control) Close() error {
	c.mu.Lock()
	if c.deinitializing {
		c.mu.Unlock()
		return nil
	}
	c.deinitializing = true
	c.mu.Unlock()

	c.setState(StateDeauth)
	if err := c.sendAuth(protocol.AuthParamDeauth); err != nil {
		c.log.Warn("deauth send failed", logging.Fields{"error": err.Error()})
	}
	c.teardown()
	return nil
}

func (c *Control) teardown() {
	c.ep.Disconnect()
	if c.cancel != nil {
		c.cancel()
	}
	c.setState(StateClosed)
	select {
	case <-c.doneCh:
	default:
		close(c.doneCh)
	}
}

// Done returns a channel closed once teardown completes.
func (c *Control) Done() <-chan struct{} { return c.doneCh }
