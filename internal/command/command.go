// Package command implements the command codec: a variable-length binary
// layout for the closed set of ~16 command kinds, with a per-frame context
// that delta-compresses the object id, field id, channel group, and creator
// shared by adjacent commands.
package command

import "github.com/coldirongames/relay/internal/protocol"

// Command is the decoded form of one wire command. Only the fields relevant
// to Type are populated — mirroring the flat, mostly-optional struct style
// used elsewhere in this codebase for wire messages with many variants.
type Command struct {
	Type protocol.CommandType

	ObjectID protocol.GameObjectId
	FieldID  protocol.FieldId

	ChannelType  protocol.ChannelType
	ChannelGroup protocol.ChannelGroup
	Sequence     uint64 // ReliableSequence only

	Creator protocol.RoomMemberId

	// CreateGameObject
	TemplateID   uint32
	AccessGroups protocol.AccessGroups

	// SetLong / IncrementLong
	LongValue int64

	// SetDouble / IncrementDouble
	DoubleValue float64

	// SetStructure / Event / TargetEvent
	Bytes []byte

	// TargetEvent
	TargetMember protocol.RoomMemberId

	// DeleteField
	DeleteFieldType protocol.FieldType

	// Forwarded
	ForwardedMember  protocol.RoomMemberId
	ForwardedCommand *Command

	// MemberConnected / MemberDisconnected
	SubjectMember protocol.RoomMemberId
	Reason        protocol.DisconnectReason
}
