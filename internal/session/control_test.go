package session

import (
	"context"
	"net"
	"testing"
	"time"

	"rsba1/internal/endpoint"
	"rsba1/internal/logging"
	"rsba1/internal/protocol"
)

func newTestControl(t *testing.T) (*Control, *net.UDPConn) {
	t.Helper()
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	log, _ := logging.New("test", logging.Debug, "")
	ep := endpoint.New("control", protocol.SessionID(0x11223344), log)
	if err := ep.Init("127.0.0.1", listener.LocalAddr().(*net.UDPAddr).Port); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(ep.Disconnect)

	c := NewControl(ep, "127.0.0.1", "admin", "adminadmin", log)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	t.Cleanup(c.cancel)
	return c, listener
}

func TestStateStringCoversAllStates(t *testing.T) {
	for s := StateHandshaking; s <= StateClosed; s++ {
		if s.String() == "UNKNOWN" {
			t.Errorf("state %d has no String() case", s)
		}
	}
}

func TestProvisioningRequestedOnlyOnceBothAuthAndA8ReplyKnown(t *testing.T) {
	c, listener := newTestControl(t)

	authAns := make([]byte, 64)
	copy(authAns[0:6], []byte{0x40, 0, 0, 0, 0, 0})
	authAns[21] = protocol.AuthParamSecond
	c.handleFrame(authAns)

	c.mu.RLock()
	requested := c.serialAudioRequested
	c.mu.RUnlock()
	if requested {
		t.Fatalf("provisioning requested with only auth_ok set, before a8_reply_id known")
	}

	a8 := make([]byte, 80)
	copy(a8[0:6], []byte{0x50, 0, 0, 0, 0, 0})
	c.handleFrame(a8)

	// Give the send a moment to land, then drain it off the wire.
	listener.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a serial/audio request once both flags were set: %v", err)
	}
	if protocol.ClassifyKind(buf[:n]) != protocol.KindSerialAudioAns {
		t.Fatalf("unexpected frame shape sent as provisioning request")
	}

	c.mu.RLock()
	requested = c.serialAudioRequested
	c.mu.RUnlock()
	if !requested {
		t.Fatalf("serialAudioRequested flag not set after both auth_ok and a8_reply_id known")
	}
}

func TestEstablishedOnSuccessfulProvisioningAnswer(t *testing.T) {
	c, _ := newTestControl(t)

	ans := make([]byte, 144)
	copy(ans[0:6], []byte{0x90, 0, 0, 0, 0, 0})
	ans[96] = 1
	copy(ans[64:], []byte("IC-9700\x00"))
	c.handleFrame(ans)

	if c.State() != StateEstablished {
		t.Fatalf("state = %v, want ESTABLISHED", c.State())
	}
	if c.DeviceName() != "IC-9700" {
		t.Fatalf("device name = %q, want IC-9700", c.DeviceName())
	}
}

func TestBadProvisioningAnswerIgnored(t *testing.T) {
	c, _ := newTestControl(t)

	ans := make([]byte, 144)
	copy(ans[0:6], []byte{0x90, 0, 0, 0, 0, 0})
	ans[96] = 0 // failure
	c.handleFrame(ans)

	if c.State() == StateEstablished {
		t.Fatalf("state transitioned to ESTABLISHED on a failed provisioning answer")
	}
}

func TestHandleFrameReportsAuthAck(t *testing.T) {
	c, _ := newTestControl(t)

	ans := make([]byte, 64)
	copy(ans[0:6], []byte{0x40, 0, 0, 0, 0, 0})
	ans[21] = protocol.AuthParamSecond
	if ok := c.handleFrame(ans); !ok {
		t.Fatalf("handleFrame(auth-ok) = false, want true so loop can clear a pending reauth deadline")
	}

	ans[21] = 0x00 // not the second-auth ack
	if ok := c.handleFrame(ans); ok {
		t.Fatalf("handleFrame(non-ack auth answer) = true, want false")
	}
}
