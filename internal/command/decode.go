package command

import (
	"math"

	"github.com/coldirongames/relay/internal/protocol"
	"github.com/coldirongames/relay/internal/varint"
)

// Decoder parses a stream of Commands sharing one context, the counterpart
// to Encoder. A Decoder must not outlive the frame it was built for.
type Decoder struct {
	ctx context
}

// NewDecoder returns a Decoder with a fresh (empty) context.
func NewDecoder() *Decoder { return &Decoder{} }

// DecodeStream parses a frame body produced by Encoder.EncodeStream.
func (d *Decoder) DecodeStream(b []byte) ([]Command, error) {
	if len(b) < 1 {
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "command.DecodeStream", errTruncated)
	}
	count := int(b[0])
	rest := b[1:]
	cmds := make([]Command, 0, count)
	for i := 0; i < count; i++ {
		c, n, err := d.decodeOne(rest)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
		rest = rest[n:]
	}
	return cmds, nil
}

func (d *Decoder) decodeOne(b []byte) (Command, int, error) {
	var c Command
	if len(b) < 2 {
		return c, 0, protocol.NewError(protocol.ErrDecodeFailure, "command.decodeOne", errTruncated)
	}
	flags, typeByte := b[0], b[1]
	off := 2

	if !protocol.IsCommandType(typeByte) {
		return c, 0, protocol.NewError(protocol.ErrDecodeFailure, "command.decodeOne", errUnknownCommandType)
	}
	c.Type = protocol.CommandType(typeByte)
	c.ChannelType = protocol.ChannelType(flags & channelTypeMask)
	if !protocol.IsChannelType(byte(c.ChannelType)) {
		return c, 0, protocol.NewError(protocol.ErrDecodeFailure, "command.decodeOne", errUnknownCommandType)
	}

	newObj := flags&flagNewObject != 0
	newField := flags&flagNewField != 0
	newGroup := flags&flagNewGroup != 0
	newCreator := flags&flagNewCreator != 0

	next := d.ctx.current()

	if newObj {
		id, n, err := consumeObjectID(b[off:])
		if err != nil {
			return c, 0, err
		}
		next.objectID = id
		off += n
	}
	if newField {
		v, n, err := varint.Consume(b[off:])
		if err != nil {
			return c, 0, wrapDecode(err)
		}
		next.fieldID = protocol.FieldId(v)
		off += n
	}
	if newGroup {
		v, n, err := varint.Consume(b[off:])
		if err != nil {
			return c, 0, wrapDecode(err)
		}
		next.channelGroup = protocol.ChannelGroup(v)
		off += n
	}
	if newCreator {
		v, n, err := varint.Consume(b[off:])
		if err != nil {
			return c, 0, wrapDecode(err)
		}
		next.creator = protocol.RoomMemberId(v)
		off += n
	}
	d.ctx.diff(next)

	c.ObjectID = next.objectID
	c.FieldID = next.fieldID
	c.ChannelGroup = next.channelGroup
	c.Creator = next.creator

	if c.ChannelType == protocol.ChannelReliableSequence {
		v, n, err := varint.Consume(b[off:])
		if err != nil {
			return c, 0, wrapDecode(err)
		}
		c.Sequence = v
		off += n
	}

	n, err := d.decodePayload(b[off:], &c)
	if err != nil {
		return c, 0, err
	}
	return c, off + n, nil
}

func (d *Decoder) decodePayload(b []byte, c *Command) (int, error) {
	switch c.Type {
	case protocol.CmdCreateGameObject:
		tmpl, n1, err := varint.Consume(b)
		if err != nil {
			return 0, wrapDecode(err)
		}
		groups, n2, err := varint.Consume(b[n1:])
		if err != nil {
			return 0, wrapDecode(err)
		}
		c.TemplateID = uint32(tmpl)
		c.AccessGroups = protocol.AccessGroups(groups)
		return n1 + n2, nil

	case protocol.CmdCreatedGameObject, protocol.CmdDeleteObject, protocol.CmdAttachToRoom, protocol.CmdDetachFromRoom:
		return 0, nil

	case protocol.CmdSetLong, protocol.CmdIncrementLong:
		v, n, err := varint.ConsumeZigzag(b)
		if err != nil {
			return 0, wrapDecode(err)
		}
		c.LongValue = v
		return n, nil

	case protocol.CmdSetDouble, protocol.CmdIncrementDouble:
		if len(b) < 8 {
			return 0, protocol.NewError(protocol.ErrDecodeFailure, "command.decodePayload", errTruncated)
		}
		bits := uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
			uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
		c.DoubleValue = math.Float64frombits(bits)
		return 8, nil

	case protocol.CmdSetStructure, protocol.CmdEvent:
		data, n, err := varint.ConsumeLengthPrefixed(b, protocol.MaxStructureSize)
		if err != nil {
			return 0, wrapDecode(err)
		}
		c.Bytes = data
		return n, nil

	case protocol.CmdTargetEvent:
		member, n1, err := varint.Consume(b)
		if err != nil {
			return 0, wrapDecode(err)
		}
		data, n2, err := varint.ConsumeLengthPrefixed(b[n1:], protocol.MaxStructureSize)
		if err != nil {
			return 0, wrapDecode(err)
		}
		c.TargetMember = protocol.RoomMemberId(member)
		c.Bytes = data
		return n1 + n2, nil

	case protocol.CmdDeleteField:
		if len(b) < 1 {
			return 0, protocol.NewError(protocol.ErrDecodeFailure, "command.decodePayload", errTruncated)
		}
		ft := b[0]
		if ft > uint8(protocol.FieldEvent) {
			return 0, protocol.NewError(protocol.ErrDecodeFailure, "command.decodePayload", errBadFieldType)
		}
		c.DeleteFieldType = protocol.FieldType(ft)
		return 1, nil

	case protocol.CmdForwarded:
		member, n1, err := varint.Consume(b)
		if err != nil {
			return 0, wrapDecode(err)
		}
		inner := NewDecoder() // the inner command carries its own context, fresh per Encoder.encodeOne
		innerCmd, n2, err := inner.decodeOne(b[n1:])
		if err != nil {
			return 0, err
		}
		c.ForwardedMember = protocol.RoomMemberId(member)
		c.ForwardedCommand = &innerCmd
		return n1 + n2, nil

	case protocol.CmdMemberConnected:
		v, n, err := varint.Consume(b)
		if err != nil {
			return 0, wrapDecode(err)
		}
		c.SubjectMember = protocol.RoomMemberId(v)
		return n, nil

	case protocol.CmdMemberDisconnected:
		v, n, err := varint.Consume(b)
		if err != nil {
			return 0, wrapDecode(err)
		}
		if len(b) < n+1 {
			return 0, protocol.NewError(protocol.ErrDecodeFailure, "command.decodePayload", errTruncated)
		}
		c.SubjectMember = protocol.RoomMemberId(v)
		c.Reason = protocol.DisconnectReason(b[n])
		return n + 1, nil

	default:
		return 0, protocol.NewError(protocol.ErrDecodeFailure, "command.decodePayload", errUnknownCommandType)
	}
}

func consumeObjectID(b []byte) (protocol.GameObjectId, int, error) {
	if len(b) < 1 {
		return protocol.GameObjectId{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "command.consumeObjectID", errTruncated)
	}
	owner := protocol.RoomOwner(b[0])
	off := 1
	var memberID protocol.RoomMemberId
	if owner == protocol.OwnerMember {
		v, n, err := varint.Consume(b[off:])
		if err != nil {
			return protocol.GameObjectId{}, 0, wrapDecode(err)
		}
		memberID = protocol.RoomMemberId(v)
		off += n
	}
	id, n, err := varint.Consume(b[off:])
	if err != nil {
		return protocol.GameObjectId{}, 0, wrapDecode(err)
	}
	off += n
	return protocol.GameObjectId{Owner: owner, MemberID: memberID, ID: uint32(id)}, off, nil
}

func wrapDecode(err error) error {
	return protocol.NewError(protocol.ErrDecodeFailure, "command.decode", err)
}
