package wire

import "github.com/coldirongames/relay/internal/protocol"

// MemberPrivateKey is the 32-byte AEAD key provisioned out of band for a
// member's connection.
type MemberPrivateKey [32]byte

// AckHeader carries up to protocol.AckWindowSize recently-received frame ids,
// attached to every outbound frame by the reliability engine.
type AckHeader struct {
	FrameIDs []uint64
}

// RetransmitInfo names the original frame id a retransmitted frame replaces.
// This package encodes and decodes the header; the reliability engine does
// not attach it, since its retransmits resend the original datagram
// unchanged, frame id included.
type RetransmitInfo struct {
	OriginalFrameID uint64
}

// MemberAndRoomId authenticates a frame against the room/member it claims to
// belong to — carried on the first frame of a connection.
type MemberAndRoomId struct {
	RoomID   uint64
	MemberID protocol.RoomMemberId
}

// Header is one self-describing frame header. Exactly one of the typed
// fields is populated, selected by Tag.
type Header struct {
	Tag                  protocol.HeaderTag
	MemberAndRoomID      MemberAndRoomId
	Ack                  AckHeader
	DisconnectReason     protocol.DisconnectReason
	RTTRequestTimestamp  int64
	RTTResponseTimestamp int64
	Retransmit           RetransmitInfo
}

// Frame is one decoded datagram: the header section plus the decrypted,
// decompressed command-stream body. ConnectionID lets a server detect a
// reconnect from the same member and discard stale protocol state.
type Frame struct {
	ConnectionID uint64
	FrameID      uint64
	Reliable     bool // at least one reliable command is carried
	Headers      []Header
	Body         []byte // decoded CommandStream bytes: [commands_count][commands...]
}

// HasHeader reports whether the frame carries a header with the given tag,
// returning it if so.
func (f *Frame) HasHeader(tag protocol.HeaderTag) (Header, bool) {
	for _, h := range f.Headers {
		if h.Tag == tag {
			return h, true
		}
	}
	return Header{}, false
}
