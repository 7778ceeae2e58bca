package protocol

import (
	"bytes"
	"testing"
)

func TestConnectRoundTrip(t *testing.T) {
	b := EncodeConnect(0x11223344, 0)
	if ClassifyKind(b) != KindConnect {
		t.Fatalf("ClassifyKind = %v, want KindConnect", ClassifyKind(b))
	}
	// The responder places its own SID at bytes 8..12 (the slot every
	// frame uses for the sender's "local" field) and merely echoes the
	// requester's SID at 12..16.
	ans := EncodeReady(0xA1B2C3D4, 0x11223344)
	binaryPatchType(ans, TypeConnectAns)
	remote, err := DecodeConnectAns(ans)
	if err != nil {
		t.Fatal(err)
	}
	if remote != 0xA1B2C3D4 {
		t.Fatalf("remote SID = %#x, want 0xA1B2C3D4", remote)
	}
}

// binaryPatchType overwrites the type field of a 16-byte control frame,
// used only to synthesize fixture frames in tests without a dedicated
// EncodeConnectAns (the client never sends pkt4, so there is no encoder).
func binaryPatchType(b []byte, typ uint16) {
	b[4] = byte(typ)
	b[5] = byte(typ >> 8)
}

func TestDisconnectRoundTrip(t *testing.T) {
	b := EncodeDisconnect(1, 2)
	if ClassifyKind(b) != KindDisconnect {
		t.Fatalf("ClassifyKind = %v, want KindDisconnect", ClassifyKind(b))
	}
}

func TestReadyAndAnswer(t *testing.T) {
	b := EncodeReady(1, 2)
	if ClassifyKind(b) != KindReady {
		t.Fatalf("ClassifyKind = %v, want KindReady", ClassifyKind(b))
	}
	if !IsReadyAnswer(b) {
		t.Fatalf("IsReadyAnswer = false on a well-formed pkt6 frame")
	}
	// Tolerant validator: same type field, different subtype byte at
	// offset 6 must still be accepted (spec.md Open Question #1).
	b[6] = 0xFF
	if !IsReadyAnswer(b) {
		t.Fatalf("IsReadyAnswer = false on a frame with a deviant subtype byte")
	}
}

func TestIdleRoundTrip(t *testing.T) {
	b := EncodeIdle(1, 2, SeqNum(42))
	if ClassifyKind(b) != KindIdle {
		t.Fatalf("ClassifyKind = %v, want KindIdle", ClassifyKind(b))
	}
}

func TestRetransmitReqRoundTrip(t *testing.T) {
	b := make([]byte, 16)
	b[0] = 16
	b[4] = 0x01
	b[6] = 0x2A
	seq, err := DecodeRetransmitReq(b)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 0x2A {
		t.Fatalf("seq = %#x, want 0x2A", seq)
	}
}

func TestRangeRetransmitRoundTrip(t *testing.T) {
	b := EncodeRangeRetransmit(1, 2, SeqNum(10), SeqNum(20))
	if ClassifyKind(b) != KindRangeRetransmit {
		t.Fatalf("ClassifyKind = %v, want KindRangeRetransmit", ClassifyKind(b))
	}
	from, to, err := DecodeRangeRetransmit(b)
	if err != nil {
		t.Fatal(err)
	}
	if from != 10 || to != 20 {
		t.Fatalf("from,to = %d,%d want 10,20", from, to)
	}
}

func TestPingRoundTrip(t *testing.T) {
	replyID := [4]byte{0x5A, 0x01, 0x00, 0x06}
	b := EncodePing(1, 2, SeqNum(7), false, replyID)
	if ClassifyKind(b) != KindPing {
		t.Fatalf("ClassifyKind = %v, want KindPing", ClassifyKind(b))
	}
	f, err := DecodePing(b)
	if err != nil {
		t.Fatal(err)
	}
	if f.Seq != 7 || f.IsReply || f.ReplyID != replyID {
		t.Fatalf("decoded ping = %+v", f)
	}

	reply := EncodePing(2, 1, SeqNum(7), true, replyID)
	f2, err := DecodePing(reply)
	if err != nil {
		t.Fatal(err)
	}
	if !f2.IsReply {
		t.Fatalf("reply frame decoded with IsReply=false")
	}
}

func TestLoginRoundTrip(t *testing.T) {
	req := LoginRequest{
		Local: 0x11223344, Remote: 0x55667788,
		OuterSeq: 3, InnerSeq: 1,
		AuthStartID: [2]byte{0xAA, 0xBB},
		Username:    "admin", Password: "adminadmin",
	}
	b := EncodeLogin(req)
	if len(b) != 128 {
		t.Fatalf("login frame length = %d, want 128", len(b))
	}
	if ClassifyKind(b) != KindLogin {
		t.Fatalf("ClassifyKind = %v, want KindLogin", ClassifyKind(b))
	}
	wantUser := EncodePasscode("admin")
	if !bytes.Equal(b[64:80], wantUser[:]) {
		t.Fatalf("username passcode mismatch")
	}
	if !bytes.Equal(b[96:103], []byte("icom-pc")) {
		t.Fatalf("device name mismatch: %q", b[96:103])
	}
}

func TestLoginAnswerGoodAndBad(t *testing.T) {
	good := make([]byte, 96)
	copy(good[0:8], []byte{0x60, 0, 0, 0, 0, 0, 0x01, 0})
	copy(good[26:32], []byte{1, 2, 3, 4, 5, 6})
	a, err := DecodeLoginAnswer(good)
	if err != nil {
		t.Fatal(err)
	}
	if a.BadCredentials {
		t.Fatalf("BadCredentials = true on a good answer")
	}
	if a.AuthID != ([6]byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("AuthID = %v", a.AuthID)
	}

	bad := make([]byte, 96)
	copy(bad[0:8], []byte{0x60, 0, 0, 0, 0, 0, 0x01, 0})
	copy(bad[48:52], []byte{0xff, 0xff, 0xff, 0xfe})
	a2, err := DecodeLoginAnswer(bad)
	if err != nil {
		t.Fatal(err)
	}
	if !a2.BadCredentials {
		t.Fatalf("BadCredentials = false on the ff ff ff fe marker")
	}
}

func TestAuthRoundTrip(t *testing.T) {
	authID := [6]byte{9, 8, 7, 6, 5, 4}
	req := AuthRequest{
		Local: 1, Remote: 2, OuterSeq: 4, InnerSeq: 2,
		Param: AuthParamSecond, AuthID: authID,
	}
	b := EncodeAuth(req)
	if ClassifyKind(b) != KindAuthAns {
		t.Fatalf("ClassifyKind = %v, want KindAuthAns (shared shape)", ClassifyKind(b))
	}
	ans, err := DecodeAuthAnswer(b)
	if err != nil {
		t.Fatal(err)
	}
	if !ans.AuthOK {
		t.Fatalf("AuthOK = false for param 0x05 echo")
	}
}

func TestA8ReplyRoundTrip(t *testing.T) {
	b := make([]byte, 80)
	copy(b[0:6], []byte{0x50, 0, 0, 0, 0, 0})
	id := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	copy(b[32:48], id[:])
	a, err := DecodeA8Reply(b)
	if err != nil {
		t.Fatal(err)
	}
	if a.A8ReplyID != id {
		t.Fatalf("A8ReplyID = %v", a.A8ReplyID)
	}
}

func TestSerialAudioRoundTrip(t *testing.T) {
	req := SerialAudioRequest{
		Local: 1, Remote: 2, OuterSeq: 5, InnerSeq: 3,
		AuthID: [6]byte{1, 2, 3, 4, 5, 6}, A8ReplyID: [16]byte{9: 1},
		SerialPort: SerialPort, AudioPort: AudioPort, Username: "admin",
	}
	b := EncodeSerialAudioRequest(req)
	if ClassifyKind(b) != KindSerialAudioAns {
		t.Fatalf("ClassifyKind = %v, want KindSerialAudioAns (shared shape)", ClassifyKind(b))
	}

	ans := make([]byte, 144)
	copy(ans[0:6], []byte{0x90, 0, 0, 0, 0, 0})
	ans[96] = 1
	copy(ans[64:], []byte("IC-9700\x00"))
	got, err := DecodeSerialAudioAnswer(ans)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Success || got.DeviceName != "IC-9700" {
		t.Fatalf("decoded answer = %+v", got)
	}
}

func TestCivEnvelopeRoundTrip(t *testing.T) {
	payload := []byte{0xFE, 0xFE, 0xA4, 0xE0, 0x03, 0xFD}
	b, err := EncodeCivEnvelope(1, 2, SeqNum(9), SeqNum(1), payload)
	if err != nil {
		t.Fatal(err)
	}
	if ClassifyKind(b) != KindCivEnvelope {
		t.Fatalf("ClassifyKind = %v, want KindCivEnvelope", ClassifyKind(b))
	}
	got, err := DecodeCivEnvelope(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("decoded payload = % x, want % x", got, payload)
	}
}

func TestCivEnvelopeRejectsOversizePayload(t *testing.T) {
	_, err := EncodeCivEnvelope(1, 2, 0, 0, make([]byte, MaxCivPayload+1))
	if err == nil {
		t.Fatalf("expected error for oversize payload")
	}
}

func TestClassifyUnknown(t *testing.T) {
	if ClassifyKind([]byte{1, 2, 3}) != KindUnknown {
		t.Fatalf("expected KindUnknown for a short garbage frame")
	}
}
