// Package protocol holds the wire-level enums and identifiers shared by the
// frame codec, reliability engine, channel multiplexer, and command codec.
// Keeping them in one leaf package avoids import cycles between those four
// layers.
package protocol

import "fmt"

// RoomMemberId identifies a member within a room.
type RoomMemberId uint32

// RoomOwner is the kind of owner of a GameObject: the room itself, or a
// specific member.
type RoomOwner uint8

const (
	OwnerRoom RoomOwner = iota
	OwnerMember
)

// GameObjectId is (owner, id): id is a 32-bit counter local to the owner.
type GameObjectId struct {
	Owner    RoomOwner
	MemberID RoomMemberId // only meaningful when Owner == OwnerMember
	ID       uint32
}

func (g GameObjectId) String() string {
	if g.Owner == OwnerRoom {
		return fmt.Sprintf("room/%d", g.ID)
	}
	return fmt.Sprintf("member(%d)/%d", g.MemberID, g.ID)
}

// FieldId identifies a field within a GameObject. The same id may be used
// under different FieldType values — (FieldId, FieldType) is the unique key.
type FieldId uint16

// FieldType distinguishes the four field maps a GameObject carries.
type FieldType uint8

const (
	FieldLong FieldType = iota
	FieldDouble
	FieldStructure
	FieldEvent
)

func (t FieldType) String() string {
	switch t {
	case FieldLong:
		return "long"
	case FieldDouble:
		return "double"
	case FieldStructure:
		return "structure"
	case FieldEvent:
		return "event"
	default:
		return "unknown"
	}
}

// AccessGroups is a 64-bit visibility/permission bitmask. Two principals can
// see each other iff their masks intersect.
type AccessGroups uint64

// Intersects reports whether two masks share any bit.
func (a AccessGroups) Intersects(b AccessGroups) bool { return a&b != 0 }

// AccessLevel is the permission level granted to a group for a field.
type AccessLevel uint8

const (
	AccessNone AccessLevel = iota
	AccessRead
	AccessReadWrite
)

// DisconnectReason is the closed set of reasons a connection may terminate.
// Matches the watcher pattern in the original Rust source's disconnect
// module: every termination path names itself, there is no generic "other".
type DisconnectReason uint8

const (
	DisconnectTimeout DisconnectReason = iota
	DisconnectMemberDeleted
	DisconnectRoomDeleted
	DisconnectClientRequested
	DisconnectProtocolError
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectTimeout:
		return "timeout"
	case DisconnectMemberDeleted:
		return "member_deleted"
	case DisconnectRoomDeleted:
		return "room_deleted"
	case DisconnectClientRequested:
		return "client_requested"
	case DisconnectProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// HeaderTag identifies the kind of a frame header.
type HeaderTag uint8

const (
	HeaderMemberAndRoomId HeaderTag = iota
	HeaderAck
	HeaderDisconnect
	HeaderRoundTripTimeRequest
	HeaderRoundTripTimeResponse
	HeaderRetransmit
	HeaderHello
)

// ChannelType is the delivery-guarantee label attached to each command.
type ChannelType uint8

const (
	ChannelReliableUnordered ChannelType = iota
	ChannelUnreliableUnordered
	ChannelReliableOrdered
	ChannelUnreliableOrdered
	ChannelReliableSequence
)

func (c ChannelType) Reliable() bool {
	switch c {
	case ChannelReliableUnordered, ChannelReliableOrdered, ChannelReliableSequence:
		return true
	default:
		return false
	}
}

func (c ChannelType) Grouped() bool {
	switch c {
	case ChannelReliableOrdered, ChannelUnreliableOrdered, ChannelReliableSequence:
		return true
	default:
		return false
	}
}

func (c ChannelType) String() string {
	switch c {
	case ChannelReliableUnordered:
		return "reliable_unordered"
	case ChannelUnreliableUnordered:
		return "unreliable_unordered"
	case ChannelReliableOrdered:
		return "reliable_ordered"
	case ChannelUnreliableOrdered:
		return "unreliable_ordered"
	case ChannelReliableSequence:
		return "reliable_sequence"
	default:
		return "unknown"
	}
}

// ChannelGroup is the grouping key for the three *Ordered*/*Sequence* channels.
type ChannelGroup uint16

// CommandType is the closed set of ~16 command kinds.
type CommandType uint8

const (
	CmdCreateGameObject CommandType = iota
	CmdCreatedGameObject
	CmdSetLong
	CmdIncrementLong
	CmdSetDouble
	CmdIncrementDouble
	CmdSetStructure
	CmdEvent
	CmdTargetEvent
	CmdDeleteObject
	CmdAttachToRoom
	CmdDetachFromRoom
	CmdDeleteField
	CmdForwarded
	CmdMemberConnected
	CmdMemberDisconnected
)

func (c CommandType) String() string {
	names := [...]string{
		"CreateGameObject", "CreatedGameObject", "SetLong", "IncrementLong",
		"SetDouble", "IncrementDouble", "SetStructure", "Event", "TargetEvent",
		"DeleteObject", "AttachToRoom", "DetachFromRoom", "DeleteField",
		"Forwarded", "MemberConnected", "MemberDisconnected",
	}
	if int(c) < len(names) {
		return names[c]
	}
	return "unknown"
}

// IsCommandType reports whether b names a known command kind.
func IsCommandType(b uint8) bool { return b <= uint8(CmdMemberDisconnected) }

// IsChannelType reports whether b names a known channel type.
func IsChannelType(b uint8) bool { return b <= uint8(ChannelReliableSequence) }

// MaxStructureSize is the hard cap on structure/event byte buffers.
const MaxStructureSize = 8 * 1024

// MaxScratchSize is the codec's scratch buffer cap for one frame.
const MaxScratchSize = 2 * 1024

// AckWindowSize is the max number of recently-received frame ids an AckHeader
// carries.
const AckWindowSize = 20
