// Package protocol implements the ICOM RS-BA1 wire format: passcode
// obfuscation, wrapping sequence numbers, and the fixed-shape frames
// exchanged on the control, serial, and audio UDP streams.
package protocol

import "time"

// Default UDP ports for the three RS-BA1 streams.
const (
	ControlPort = 50001
	SerialPort  = 50002
	AudioPort   = 50003
)

// Frame type identifiers, as carried in the little-endian 16-bit type
// field at byte offset 4 of the 16/24-byte control-frame family (pkt3
// through range-retransmit) and of pkt7. The login/auth/provisioning
// family carries no such type field; those are classified by length and
// their first six bytes instead (see ClassifyKind in frame.go).
// Retransmit-req and range-retransmit use type 0x01, written as a literal
// in frame.go.
const (
	TypeConnect    uint16 = 0x03 // pkt3
	TypeConnectAns uint16 = 0x04 // pkt4
	TypeDisconnect uint16 = 0x05 // pkt5
	TypeReady      uint16 = 0x06 // pkt6 / pkt6-answer
	TypeIdle       uint16 = 0x00 // idle
	TypePing       uint16 = 0x07 // pkt7
)

// Magic length/shape markers found at offset 0 (little-endian uint32) or
// offset 16 (4-byte magic) of the length-framed family of packets.
// The Len* values are untyped constants so they convert freely to both
// int (for make/len) and uint32 (for binary.*Endian.PutUint32) at each
// use site; the Magic* values are typed uint32.
const (
	LenPkt3Pkt4Pkt5Pkt6Idle = 16
	LenRangeRetransmit      = 24
	LenPing                 = 21
	LenLogin                = 128
	LenLoginAns             = 96
	LenAuth                 = 64
	LenA8Reply              = 80
	LenSerialAudioReq       = 144
	LenSerialAudioAns       = 144

	MagicAuthFrame    uint32 = 0x00000030 // at offset 16 of a 64-byte auth frame
	MagicLoginFrame   uint32 = 0x00000070 // at offset 16 of a 128-byte login frame
	MagicProvisionReq uint32 = 0x00000080 // at offset 16 of a 144-byte serial/audio request
)

// Auth-frame "magic param" byte at offset 21, distinguishing first-auth,
// second-auth/reauth, and deauth requests that otherwise share a shape.
const (
	AuthParamFirst     byte = 0x02
	AuthParamSecond    byte = 0x05
	AuthParamDeauth    byte = 0x01
)

// CI-V envelope marker byte, found at offset 16 of a civ-envelope frame.
const CivMarker byte = 0xC1

// Fixed strings the reference client always sends; spec.md's Open
// Question #3 keeps these fixed rather than deriving them locally.
const (
	DeviceNameLogin = "icom-pc"
)

// Handshake retry policy (spec.md §4.D): three short retries of the
// connect request, then up to five longer retries of the full sequence.
const (
	ConnectRetryCount    = 3
	ConnectRetryInterval = 100 * time.Millisecond
	HandshakeRetryCount  = 5
	HandshakeRetryInterval = 2 * time.Second
)

// Idle/retransmit and ping timing (spec.md §4.E, §4.F, §4.G step 8).
const (
	IdleInterval     = 100 * time.Millisecond
	ReauthInterval   = 60 * time.Second
	ReauthTimeout    = 3 * time.Second
	PingInterval     = 3 * time.Second
	PingTimeout      = 3 * time.Second
	RetransmitWindow = 64
)

// SessionID is a 32-bit session identifier, carried big-endian at offsets
// 8 (local) and 12 (remote) of every fixed-shape frame.
type SessionID uint32
