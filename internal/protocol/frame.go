package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCivPayloadSize is returned when a CI-V payload falls outside the
// [1, MaxCivPayload] range the civ-envelope shape can carry.
var ErrCivPayloadSize = errors.New("protocol: civ payload length out of range")

// Kind identifies the shape of a decoded frame so callers can dispatch
// without re-inspecting length and magic bytes themselves.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnect
	KindConnectAns
	KindDisconnect
	KindReady
	KindIdle
	KindRetransmitReq
	KindRangeRetransmit
	KindPing
	KindLogin
	KindLoginAns
	KindAuth
	KindAuthAns
	KindA8Reply
	KindSerialAudioReq
	KindSerialAudioAns
	KindCivEnvelope
)

// ClassifyKind inspects length and leading bytes to identify which shape
// a raw datagram is, without requiring the caller to know which stream it
// arrived on. Unknown frames are returned as KindUnknown so the caller can
// pass them through untouched, per spec.md's "unknown frames pass through"
// requirement.
func ClassifyKind(b []byte) Kind {
	switch {
	case len(b) == 16 && binary.LittleEndian.Uint16(b[4:6]) == TypeConnect:
		return KindConnect
	case len(b) == 16 && binary.LittleEndian.Uint16(b[4:6]) == TypeConnectAns:
		return KindConnectAns
	case len(b) == 16 && binary.LittleEndian.Uint16(b[4:6]) == TypeDisconnect:
		return KindDisconnect
	case len(b) == 16 && binary.LittleEndian.Uint16(b[4:6]) == TypeReady:
		return KindReady
	case len(b) == 16 && binary.LittleEndian.Uint16(b[4:6]) == TypeIdle:
		return KindIdle
	case len(b) == 16 && binary.LittleEndian.Uint16(b[4:6]) == 0x01:
		return KindRetransmitReq
	case len(b) == 24 && binary.LittleEndian.Uint16(b[4:6]) == 0x01:
		return KindRangeRetransmit
	case len(b) == int(LenPing) && b[0] == byte(LenPing):
		return KindPing
	case len(b) == int(LenLogin) && bytes.Equal(b[:6], []byte{0x80, 0, 0, 0, 0, 0}):
		return KindLogin
	case len(b) == LenLoginAns && bytes.Equal(b[:6], []byte{0x60, 0, 0, 0, 0, 0}):
		return KindLoginAns
	case len(b) == int(LenAuth) && bytes.Equal(b[:6], []byte{0x40, 0, 0, 0, 0, 0}):
		return KindAuthAns
	case len(b) == LenA8Reply && bytes.Equal(b[:6], []byte{0x50, 0, 0, 0, 0, 0}):
		return KindA8Reply
	case len(b) == int(LenSerialAudioReq) && bytes.Equal(b[:6], []byte{0x90, 0, 0, 0, 0, 0}):
		return KindSerialAudioAns
	case len(b) >= 21 && b[1] == 0 && b[2] == 0 && b[3] == 0 && int(b[0]) == len(b) && b[16] == CivMarker:
		return KindCivEnvelope
	}
	return KindUnknown
}

func putSIDs(b []byte, local, remote SessionID) {
	binary.BigEndian.PutUint32(b[8:12], uint32(local))
	binary.BigEndian.PutUint32(b[12:16], uint32(remote))
}

func getSIDs(b []byte) (local, remote SessionID) {
	return SessionID(binary.BigEndian.Uint32(b[8:12])), SessionID(binary.BigEndian.Uint32(b[12:16]))
}

// --- pkt3 / pkt4 / pkt5 / pkt6 / idle: shared 16-byte control shape ---

// EncodeConnect builds a pkt3 connect request.
func EncodeConnect(local, remote SessionID) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], LenPkt3Pkt4Pkt5Pkt6Idle)
	binary.LittleEndian.PutUint16(b[4:6], TypeConnect)
	putSIDs(b, local, remote)
	return b
}

// DecodeConnectAns parses a pkt4 connect answer. The responder's own SID
// rides in bytes 8..12 (the slot every other frame uses for the sender's
// "local" field); bytes 12..16 merely echo back the requester's SID, so
// the value the caller needs is getSIDs' first return, not its second.
func DecodeConnectAns(b []byte) (remote SessionID, err error) {
	if len(b) != 16 {
		return 0, fmt.Errorf("pkt4: want 16 bytes, got %d", len(b))
	}
	if binary.LittleEndian.Uint16(b[4:6]) != TypeConnectAns {
		return 0, fmt.Errorf("pkt4: unexpected type field %#x", b[4:6])
	}
	remote, _ = getSIDs(b)
	return remote, nil
}

// EncodeDisconnect builds a pkt5 disconnect frame, sent twice during
// teardown by every endpoint.
func EncodeDisconnect(local, remote SessionID) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], LenPkt3Pkt4Pkt5Pkt6Idle)
	binary.LittleEndian.PutUint16(b[4:6], TypeDisconnect)
	putSIDs(b, local, remote)
	return b
}

// EncodeReady builds the pkt6 "ready" frame.
func EncodeReady(local, remote SessionID) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], LenPkt3Pkt4Pkt5Pkt6Idle)
	binary.LittleEndian.PutUint16(b[4:6], TypeReady)
	b[6] = 0x01
	putSIDs(b, local, remote)
	return b
}

// IsReadyAnswer reports whether b looks like a pkt6 answer, using the
// tolerant match spec.md's Open Question #1 resolves to: only the type
// field at bytes 4:6 is checked, the subtype byte is not.
func IsReadyAnswer(b []byte) bool {
	return len(b) == 16 && binary.LittleEndian.Uint16(b[4:6]) == TypeReady
}

// EncodeIdle builds a type-0 idle frame carrying seq at offset 6:8. seq is
// either the endpoint's own tracked send-seq (ordinary keep-alive) or a
// retransmit-miss replacement sequence (see the idleretransmit handler).
func EncodeIdle(local, remote SessionID, seq SeqNum) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], LenPkt3Pkt4Pkt5Pkt6Idle)
	binary.LittleEndian.PutUint16(b[6:8], uint16(seq))
	putSIDs(b, local, remote)
	return b
}

// DecodeRetransmitReq extracts the requested sequence number from a
// single-sequence retransmit-req frame.
func DecodeRetransmitReq(b []byte) (SeqNum, error) {
	if len(b) != 16 {
		return 0, fmt.Errorf("retransmit-req: want 16 bytes, got %d", len(b))
	}
	if binary.LittleEndian.Uint16(b[4:6]) != 0x01 {
		return 0, fmt.Errorf("retransmit-req: unexpected type field %#x", b[4:6])
	}
	return SeqNum(binary.LittleEndian.Uint16(b[6:8])), nil
}

// EncodeRangeRetransmit builds a 24-byte range-retransmit request
// spanning [from, to]. Recognized on decode for completeness; the
// idle/retransmit handler does not itself emit or act on this shape
// (matching the reference, which recognizes but never handles it).
func EncodeRangeRetransmit(local, remote SessionID, from, to SeqNum) []byte {
	b := make([]byte, 24)
	binary.LittleEndian.PutUint32(b[0:4], LenRangeRetransmit)
	binary.LittleEndian.PutUint16(b[4:6], 0x01)
	putSIDs(b, local, remote)
	binary.LittleEndian.PutUint16(b[16:18], uint16(from))
	binary.LittleEndian.PutUint16(b[18:20], uint16(to))
	return b
}

// DecodeRangeRetransmit extracts the [from, to] range from a 24-byte
// range-retransmit frame.
func DecodeRangeRetransmit(b []byte) (from, to SeqNum, err error) {
	if len(b) != 24 {
		return 0, 0, fmt.Errorf("range-retransmit: want 24 bytes, got %d", len(b))
	}
	if binary.LittleEndian.Uint16(b[4:6]) != 0x01 {
		return 0, 0, fmt.Errorf("range-retransmit: unexpected type field %#x", b[4:6])
	}
	from = SeqNum(binary.LittleEndian.Uint16(b[16:18]))
	to = SeqNum(binary.LittleEndian.Uint16(b[18:20]))
	return from, to, nil
}

// --- pkt7 ping/pong ---

// EncodePing builds a 21-byte type-7 frame. isReply selects the offset-16
// byte (0 = request/probe, 1 = reply). replyID is the caller-constructed
// 4-byte identifier echoed by the responder.
func EncodePing(local, remote SessionID, seq SeqNum, isReply bool, replyID [4]byte) []byte {
	b := make([]byte, LenPing)
	b[0] = byte(LenPing)
	binary.LittleEndian.PutUint16(b[4:6], TypePing)
	binary.LittleEndian.PutUint16(b[6:8], uint16(seq))
	putSIDs(b, local, remote)
	if isReply {
		b[16] = 0x01
	}
	copy(b[17:21], replyID[:])
	return b
}

// PingFrame is a decoded type-7 frame.
type PingFrame struct {
	Seq           SeqNum
	Local, Remote SessionID
	IsReply       bool
	ReplyID       [4]byte
}

// DecodePing parses a 21-byte type-7 frame.
func DecodePing(b []byte) (PingFrame, error) {
	var f PingFrame
	if len(b) != int(LenPing) {
		return f, fmt.Errorf("pkt7: want %d bytes, got %d", LenPing, len(b))
	}
	if binary.LittleEndian.Uint16(b[4:6]) != TypePing {
		return f, fmt.Errorf("pkt7: unexpected type field %#x", b[4:6])
	}
	f.Seq = SeqNum(binary.LittleEndian.Uint16(b[6:8]))
	f.Local, f.Remote = getSIDs(b)
	f.IsReply = b[16] != 0
	copy(f.ReplyID[:], b[17:21])
	return f, nil
}

// --- login / login-ans ---

// LoginRequest carries the fields needed to build a 128-byte login frame.
type LoginRequest struct {
	Local, Remote SessionID
	OuterSeq      SeqNum
	InnerSeq      SeqNum
	AuthStartID   [2]byte
	Username      string
	Password      string
}

// EncodeLogin builds the 128-byte login frame sent at control-session
// LOGGING_IN entry.
func EncodeLogin(r LoginRequest) []byte {
	b := make([]byte, LenLogin)
	binary.LittleEndian.PutUint32(b[0:4], LenLogin)
	binary.LittleEndian.PutUint16(b[6:8], uint16(r.OuterSeq))
	putSIDs(b, r.Local, r.Remote)
	binary.LittleEndian.PutUint32(b[16:20], MagicLoginFrame)
	b[20] = 0x01
	binary.LittleEndian.PutUint16(b[23:25], uint16(r.InnerSeq))
	copy(b[25:27], r.AuthStartID[:])
	user := EncodePasscode(r.Username)
	pass := EncodePasscode(r.Password)
	copy(b[64:80], user[:])
	copy(b[80:96], pass[:])
	copy(b[96:112], []byte(DeviceNameLogin))
	return b
}

// LoginAnswer is the decoded 96-byte reply to a login frame.
type LoginAnswer struct {
	BadCredentials bool
	AuthID         [6]byte
}

// DecodeLoginAnswer parses a 96-byte login answer.
func DecodeLoginAnswer(b []byte) (LoginAnswer, error) {
	var a LoginAnswer
	if len(b) != LenLoginAns {
		return a, fmt.Errorf("login-ans: want %d bytes, got %d", LenLoginAns, len(b))
	}
	if !bytes.Equal(b[0:8], []byte{0x60, 0, 0, 0, 0, 0, 0x01, 0}) {
		return a, fmt.Errorf("login-ans: unexpected header %x", b[0:8])
	}
	if bytes.Equal(b[48:52], []byte{0xff, 0xff, 0xff, 0xfe}) {
		a.BadCredentials = true
		return a, nil
	}
	copy(a.AuthID[:], b[26:32])
	return a, nil
}

// --- auth ---

// AuthRequest carries the fields needed to build a 64-byte auth frame.
type AuthRequest struct {
	Local, Remote SessionID
	OuterSeq      SeqNum
	InnerSeq      SeqNum
	Param         byte // AuthParamFirst / AuthParamSecond / AuthParamDeauth
	AuthID        [6]byte
}

// EncodeAuth builds a 64-byte auth frame for first-auth, second-auth,
// periodic reauth, or deauth, distinguished only by Param.
func EncodeAuth(r AuthRequest) []byte {
	b := make([]byte, LenAuth)
	binary.LittleEndian.PutUint32(b[0:4], LenAuth)
	binary.LittleEndian.PutUint16(b[6:8], uint16(r.OuterSeq))
	putSIDs(b, r.Local, r.Remote)
	binary.LittleEndian.PutUint32(b[16:20], MagicAuthFrame)
	b[20] = 0x01
	b[21] = r.Param
	binary.LittleEndian.PutUint16(b[23:25], uint16(r.InnerSeq))
	copy(b[25:31], r.AuthID[:])
	return b
}

// AuthAnswer is the decoded 64-byte reply to an auth frame.
type AuthAnswer struct {
	AuthOK bool
}

// DecodeAuthAnswer parses a 64-byte auth answer. Only the second-auth ack
// (param byte 0x05) sets AuthOK, per spec.md §4.G step 5.
func DecodeAuthAnswer(b []byte) (AuthAnswer, error) {
	var a AuthAnswer
	if len(b) != int(LenAuth) {
		return a, fmt.Errorf("auth-ans: want %d bytes, got %d", LenAuth, len(b))
	}
	if !bytes.Equal(b[0:6], []byte{0x40, 0, 0, 0, 0, 0}) {
		return a, fmt.Errorf("auth-ans: unexpected header %x", b[0:6])
	}
	a.AuthOK = b[21] == AuthParamSecond
	return a, nil
}

// A8ReplyAnswer is the decoded 80-byte a8-reply frame.
type A8ReplyAnswer struct {
	A8ReplyID [16]byte
}

// DecodeA8Reply parses an 80-byte a8-reply frame.
func DecodeA8Reply(b []byte) (A8ReplyAnswer, error) {
	var a A8ReplyAnswer
	if len(b) != LenA8Reply {
		return a, fmt.Errorf("a8-reply: want %d bytes, got %d", LenA8Reply, len(b))
	}
	if !bytes.Equal(b[0:6], []byte{0x50, 0, 0, 0, 0, 0}) {
		return a, fmt.Errorf("a8-reply: unexpected header %x", b[0:6])
	}
	copy(a.A8ReplyID[:], b[32:48])
	return a, nil
}

// --- serial/audio provisioning ---

// SerialAudioRequest carries the fields needed to build the 144-byte
// serial/audio provisioning request.
type SerialAudioRequest struct {
	Local, Remote SessionID
	OuterSeq      SeqNum
	InnerSeq      SeqNum
	AuthID        [6]byte
	A8ReplyID     [16]byte
	SerialPort    uint16
	AudioPort     uint16
	Username      string
}

// audioFormatBytes is the fixed 4-byte audio-format marker the reference
// always sends (PCM framing parameters are a radio-side concern, outside
// this module's scope).
var audioFormatBytes = [4]byte{0x01, 0x01, 0x04, 0x04}

// EncodeSerialAudioRequest builds the 144-byte serial/audio provisioning
// request, sent once both auth_ok and got_a8_reply_id are true.
func EncodeSerialAudioRequest(r SerialAudioRequest) []byte {
	b := make([]byte, LenSerialAudioReq)
	binary.LittleEndian.PutUint32(b[0:4], LenSerialAudioReq)
	binary.LittleEndian.PutUint16(b[6:8], uint16(r.OuterSeq))
	putSIDs(b, r.Local, r.Remote)
	binary.LittleEndian.PutUint32(b[16:20], MagicProvisionReq)
	b[20] = 0x01
	b[21] = 0x03
	binary.LittleEndian.PutUint16(b[23:25], uint16(r.InnerSeq))
	copy(b[25:31], r.AuthID[:])
	copy(b[31:47], r.A8ReplyID[:])
	binary.BigEndian.PutUint16(b[80:82], r.SerialPort)
	binary.BigEndian.PutUint16(b[82:84], r.AudioPort)
	user := EncodePasscode(r.Username)
	copy(b[96:112], user[:])
	copy(b[112:116], audioFormatBytes[:])
	return b
}

// SerialAudioAnswer is the decoded 144-byte provisioning answer.
type SerialAudioAnswer struct {
	Success    bool
	DeviceName string
}

// DecodeSerialAudioAnswer parses the 144-byte provisioning answer.
func DecodeSerialAudioAnswer(b []byte) (SerialAudioAnswer, error) {
	var a SerialAudioAnswer
	if len(b) != LenSerialAudioAns {
		return a, fmt.Errorf("serial-audio-ans: want %d bytes, got %d", LenSerialAudioAns, len(b))
	}
	if !bytes.Equal(b[0:6], []byte{0x90, 0, 0, 0, 0, 0}) {
		return a, fmt.Errorf("serial-audio-ans: unexpected header %x", b[0:6])
	}
	a.Success = b[96] == 1
	a.DeviceName = nullTerminated(b[64:])
	return a, nil
}

func nullTerminated(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// --- CI-V envelope ---

// MaxCivPayload is the largest CI-V payload a civ-envelope can carry
// (spec.md §4.H: 1 ≤ N ≤ 232 so the 21-byte-header total stays ≤ 253).
const MaxCivPayload = 232

// EncodeCivEnvelope wraps a CI-V payload for the serial (or audio, for
// symmetry) endpoint. outerSeq is the type-0 tracked sequence the
// idle/retransmit handler assigns; localSeq is the wrapper's own
// independent send-seq, unrelated to the outer sequence space.
func EncodeCivEnvelope(local, remote SessionID, outerSeq, localSeq SeqNum, payload []byte) ([]byte, error) {
	n := len(payload)
	if n < 1 || n > MaxCivPayload {
		return nil, fmt.Errorf("civ-envelope: payload length %d out of range [1,%d]: %w", n, MaxCivPayload, ErrCivPayloadSize)
	}
	b := make([]byte, 21+n)
	b[0] = byte(21 + n)
	binary.LittleEndian.PutUint16(b[6:8], uint16(outerSeq))
	putSIDs(b, local, remote)
	b[16] = CivMarker
	b[17] = byte(n)
	binary.LittleEndian.PutUint16(b[19:21], uint16(localSeq))
	copy(b[21:], payload)
	return b, nil
}

// DecodeCivEnvelope strips the 21-byte header and returns the raw CI-V
// payload exactly as received, agnostic of CI-V semantics.
func DecodeCivEnvelope(b []byte) ([]byte, error) {
	if len(b) < 21 {
		return nil, fmt.Errorf("civ-envelope: too short (%d bytes)", len(b))
	}
	if b[0] != byte(len(b)) {
		return nil, fmt.Errorf("civ-envelope: length byte %d does not match frame length %d", b[0], len(b))
	}
	if b[16] != CivMarker {
		return nil, fmt.Errorf("civ-envelope: missing CI-V marker at offset 16")
	}
	n := int(b[17])
	if 21+n != len(b) {
		return nil, fmt.Errorf("civ-envelope: declared payload length %d inconsistent with frame length %d", n, len(b))
	}
	return b[21:], nil
}
