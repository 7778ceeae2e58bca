// Package testradio is a fake RS-BA1 radio: it listens on three UDP
// sockets and answers the connect/ready handshake, login, two-step
// auth, and serial/audio provisioning exchange well enough to drive a
// Client through a full session in tests, without a real radio on the
// network. Grounded on original_source/sm-control.py's
// StreamCommon/Pkt0Handler/Pkt7Handler shape: one handler per stream,
// each answering ping probes (idle frames get no answer) and the frame
// shapes relevant to its port.
package testradio

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"rsba1/internal/protocol"
)

// Simulator is a single fake radio exposing all three RS-BA1 ports on
// loopback. BadCredentials, when set before Start, makes the login
// answer carry the bad-credentials sentinel instead of an auth ID.
type Simulator struct {
	Host string

	BadCredentials bool
	DeviceName     string

	mu       sync.Mutex
	conns    map[string]*net.UDPConn // "control"/"serial"/"audio" -> socket
	local    map[string]protocol.SessionID
	remote   map[string]protocol.SessionID
	echoSeq  map[string]protocol.SeqNum // per-stream outer seq for echoed civ-envelopes
	stopCh   chan struct{}
	stopOnce sync.Once

	a8ReplySent atomic.Bool
	provisioned atomic.Bool
}

// New constructs a Simulator. Call Start to bind sockets and begin
// serving.
func New() *Simulator {
	return &Simulator{
		Host:       "127.0.0.1",
		DeviceName: "IC-9700",
		conns:      make(map[string]*net.UDPConn),
		local:      make(map[string]protocol.SessionID),
		remote:     make(map[string]protocol.SessionID),
		echoSeq:    make(map[string]protocol.SeqNum),
		stopCh:     make(chan struct{}),
	}
}

// Start binds the three UDP sockets on the fixed RS-BA1 ports
// (protocol.ControlPort, SerialPort, AudioPort), since a Client always
// dials those, and returns the ports bound.
func (s *Simulator) Start() (controlPort, serialPort, audioPort int, err error) {
	names := []string{"control", "serial", "audio"}
	fixed := []int{protocol.ControlPort, protocol.SerialPort, protocol.AudioPort}
	ports := make([]int, 3)
	for i, name := range names {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(s.Host), Port: fixed[i]})
		if err != nil {
			return 0, 0, 0, fmt.Errorf("testradio: listen %s: %w", name, err)
		}
		s.mu.Lock()
		s.conns[name] = conn
		s.local[name] = protocol.SessionID(0xCAFE0000 + uint32(i))
		s.mu.Unlock()
		ports[i] = conn.LocalAddr().(*net.UDPAddr).Port
		go s.serve(name, conn)
	}
	return ports[0], ports[1], ports[2], nil
}

// Stop closes all three sockets.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
}

func (s *Simulator) serve(name string, conn *net.UDPConn) {
	buf := make([]byte, 2048)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		s.handle(name, conn, addr, append([]byte(nil), buf[:n]...))
	}
}

func (s *Simulator) handle(name string, conn *net.UDPConn, addr *net.UDPAddr, frame []byte) {
	switch protocol.ClassifyKind(frame) {
	case protocol.KindConnect:
		reqLocal, _ := sidsFromConnect(frame)
		s.mu.Lock()
		s.remote[name] = reqLocal
		local := s.local[name]
		s.mu.Unlock()
		ans := make([]byte, 16)
		binary.LittleEndian.PutUint32(ans[0:4], protocol.LenPkt3Pkt4Pkt5Pkt6Idle)
		binary.LittleEndian.PutUint16(ans[4:6], protocol.TypeConnectAns)
		binary.BigEndian.PutUint32(ans[8:12], uint32(local))
		binary.BigEndian.PutUint32(ans[12:16], uint32(reqLocal))
		conn.WriteToUDP(ans, addr)

	case protocol.KindReady:
		s.mu.Lock()
		local := s.local[name]
		remote := s.remote[name]
		s.mu.Unlock()
		conn.WriteToUDP(protocol.EncodeReady(local, remote), addr)

	case protocol.KindDisconnect:
		// no answer expected

	case protocol.KindIdle:
		// pure keep-alive; no answer

	case protocol.KindRetransmitReq:
		// simulator never drops frames, so nothing to retransmit

	case protocol.KindPing:
		if f, err := protocol.DecodePing(frame); err == nil && !f.IsReply {
			s.mu.Lock()
			local := s.local[name]
			remote := s.remote[name]
			s.mu.Unlock()
			conn.WriteToUDP(protocol.EncodePing(local, remote, f.Seq, true, f.ReplyID), addr)
		}

	case protocol.KindLogin:
		s.mu.Lock()
		local := s.local[name]
		remote := s.remote[name]
		s.mu.Unlock()
		ans := make([]byte, protocol.LenLoginAns)
		copy(ans[0:8], []byte{0x60, 0, 0, 0, 0, 0, 0x01, 0})
		binary.BigEndian.PutUint32(ans[8:12], uint32(local))
		binary.BigEndian.PutUint32(ans[12:16], uint32(remote))
		if s.BadCredentials {
			copy(ans[48:52], []byte{0xff, 0xff, 0xff, 0xfe})
		} else {
			copy(ans[26:32], []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
		}
		conn.WriteToUDP(ans, addr)

	case protocol.KindAuthAns:
		// the auth request and its answer share one 64-byte shape and
		// header, so an inbound request classifies identically here.
		s.handleAuthRequest(conn, addr, name, frame)

	case protocol.KindSerialAudioAns:
		// symmetric with the request shape; handle as the provisioning request.
		s.handleProvisionRequest(conn, addr, name, frame)

	case protocol.KindCivEnvelope:
		s.handleCivEnvelope(conn, addr, name, frame)
	}
}

// handleCivEnvelope loops an inbound CI-V (or audio) payload straight back
// to the sender, unmodified, so a client-side scenario sending a command
// and asserting on what comes back exercises the opaque payload round trip
// end to end through the real serial/audio transport, not just the codec.
func (s *Simulator) handleCivEnvelope(conn *net.UDPConn, addr *net.UDPAddr, name string, frame []byte) {
	payload, err := protocol.DecodeCivEnvelope(frame)
	if err != nil {
		return
	}
	s.mu.Lock()
	local := s.local[name]
	remote := s.remote[name]
	seq := s.echoSeq[name]
	s.echoSeq[name] = seq.Next()
	s.mu.Unlock()

	echo, err := protocol.EncodeCivEnvelope(local, remote, seq, seq, payload)
	if err != nil {
		return
	}
	conn.WriteToUDP(echo, addr)
}

func sidsFromConnect(frame []byte) (local protocol.SessionID, remote protocol.SessionID) {
	if len(frame) != 16 {
		return 0, 0
	}
	l := binary.BigEndian.Uint32(frame[8:12])
	return protocol.SessionID(l), 0
}

func (s *Simulator) handleAuthRequest(conn *net.UDPConn, addr *net.UDPAddr, name string, frame []byte) {
	param := frame[21]
	s.mu.Lock()
	local := s.local[name]
	remote := s.remote[name]
	s.mu.Unlock()

	ans := make([]byte, protocol.LenAuth)
	copy(ans[0:6], []byte{0x40, 0, 0, 0, 0, 0})
	binary.BigEndian.PutUint32(ans[8:12], uint32(local))
	binary.BigEndian.PutUint32(ans[12:16], uint32(remote))
	ans[21] = param
	conn.WriteToUDP(ans, addr)

	if param == protocol.AuthParamSecond && !s.a8ReplySent.Load() {
		s.a8ReplySent.Store(true)
		a8 := make([]byte, protocol.LenA8Reply)
		copy(a8[0:6], []byte{0x50, 0, 0, 0, 0, 0})
		binary.BigEndian.PutUint32(a8[8:12], uint32(local))
		binary.BigEndian.PutUint32(a8[12:16], uint32(remote))
		copy(a8[32:48], []byte("0123456789ABCDEF"))
		conn.WriteToUDP(a8, addr)
	}
}

func (s *Simulator) handleProvisionRequest(conn *net.UDPConn, addr *net.UDPAddr, name string, frame []byte) {
	if s.provisioned.Load() {
		return
	}
	s.provisioned.Store(true)
	s.mu.Lock()
	local := s.local[name]
	remote := s.remote[name]
	s.mu.Unlock()

	ans := make([]byte, protocol.LenSerialAudioAns)
	copy(ans[0:6], []byte{0x90, 0, 0, 0, 0, 0})
	binary.BigEndian.PutUint32(ans[8:12], uint32(local))
	binary.BigEndian.PutUint32(ans[12:16], uint32(remote))
	ans[96] = 1
	copy(ans[64:], []byte(s.DeviceName))
	conn.WriteToUDP(ans, addr)
}
