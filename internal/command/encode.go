package command

import (
	"math"

	"github.com/coldirongames/relay/internal/protocol"
	"github.com/coldirongames/relay/internal/varint"
)

// header flag bits (first byte of a command). channel_type occupies the low
// 4 bits; command_type gets its own following byte rather than sharing the
// remaining 4 bits of this one.
const (
	flagNewObject   = 1 << 7
	flagNewField    = 1 << 6
	flagNewGroup    = 1 << 5
	flagNewCreator  = 1 << 4
	channelTypeMask = 0x0F
)

// Encoder serializes a stream of Commands sharing one context, as emitted
// into a single frame's body.
type Encoder struct {
	ctx context
}

// NewEncoder returns an Encoder with a fresh (empty) context. Each frame gets
// its own Encoder — context does not persist across frames.
func NewEncoder() *Encoder { return &Encoder{} }

// EncodeStream encodes cmds into a frame body: a one-byte count followed by
// each command's bytes. Fails if there are more than 255 commands.
func (e *Encoder) EncodeStream(cmds []Command) ([]byte, error) {
	if len(cmds) > 255 {
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "command.EncodeStream", errTooManyCommands)
	}
	out := make([]byte, 0, 64*len(cmds)+1)
	out = append(out, byte(len(cmds)))
	for i := range cmds {
		var err error
		out, err = e.encodeOne(out, &cmds[i])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Encoder) encodeOne(b []byte, c *Command) ([]byte, error) {
	newObj, newField, newGroup, newCreator := e.ctx.diff(context{
		objectID:     c.ObjectID,
		fieldID:      c.FieldID,
		channelGroup: c.ChannelGroup,
		creator:      c.Creator,
	})

	var flags byte
	if newObj {
		flags |= flagNewObject
	}
	if newField {
		flags |= flagNewField
	}
	if newGroup {
		flags |= flagNewGroup
	}
	if newCreator {
		flags |= flagNewCreator
	}
	flags |= byte(c.ChannelType) & channelTypeMask

	b = append(b, flags, byte(c.Type))

	if newObj {
		b = appendObjectID(b, c.ObjectID)
	}
	if newField {
		b = varint.Append(b, uint64(c.FieldID))
	}
	if newGroup {
		b = varint.Append(b, uint64(c.ChannelGroup))
	}
	if newCreator {
		b = varint.Append(b, uint64(c.Creator))
	}
	if c.ChannelType == protocol.ChannelReliableSequence {
		b = varint.Append(b, c.Sequence)
	}

	return e.encodePayload(b, c)
}

func (e *Encoder) encodePayload(b []byte, c *Command) ([]byte, error) {
	var err error
	switch c.Type {
	case protocol.CmdCreateGameObject:
		b = varint.Append(b, uint64(c.TemplateID))
		b = varint.Append(b, uint64(c.AccessGroups))
	case protocol.CmdCreatedGameObject, protocol.CmdDeleteObject, protocol.CmdAttachToRoom, protocol.CmdDetachFromRoom:
		// no payload beyond context
	case protocol.CmdSetLong, protocol.CmdIncrementLong:
		b = varint.AppendZigzag(b, c.LongValue)
	case protocol.CmdSetDouble, protocol.CmdIncrementDouble:
		b = appendFloat64(b, c.DoubleValue)
	case protocol.CmdSetStructure, protocol.CmdEvent:
		b, err = varint.AppendLengthPrefixed(b, c.Bytes, protocol.MaxStructureSize)
	case protocol.CmdTargetEvent:
		b = varint.Append(b, uint64(c.TargetMember))
		b, err = varint.AppendLengthPrefixed(b, c.Bytes, protocol.MaxStructureSize)
	case protocol.CmdDeleteField:
		b = append(b, byte(c.DeleteFieldType))
	case protocol.CmdForwarded:
		b = varint.Append(b, uint64(c.ForwardedMember))
		if c.ForwardedCommand == nil {
			return nil, protocol.NewError(protocol.ErrDecodeFailure, "command.encodePayload", errNilForwarded)
		}
		inner := NewEncoder() // the inner command is self-contained: fresh context
		b, err = inner.encodeOne(b, c.ForwardedCommand)
	case protocol.CmdMemberConnected:
		b = varint.Append(b, uint64(c.SubjectMember))
	case protocol.CmdMemberDisconnected:
		b = varint.Append(b, uint64(c.SubjectMember))
		b = append(b, byte(c.Reason))
	default:
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "command.encodePayload", errUnknownCommandType)
	}
	if err != nil {
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "command.encodePayload", err)
	}
	return b, nil
}

func appendObjectID(b []byte, id protocol.GameObjectId) []byte {
	b = append(b, byte(id.Owner))
	if id.Owner == protocol.OwnerMember {
		b = varint.Append(b, uint64(id.MemberID))
	}
	return varint.Append(b, uint64(id.ID))
}

func appendFloat64(b []byte, v float64) []byte {
	bits := math.Float64bits(v)
	return append(b,
		byte(bits>>56), byte(bits>>48), byte(bits>>40), byte(bits>>32),
		byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
}
