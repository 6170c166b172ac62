package main

import (
	"log/slog"

	"github.com/coldirongames/relay/internal/command"
	"github.com/coldirongames/relay/internal/protocol"
)

// Executor is the single writer for a room's state. It applies decoded
// commands, enforces access, and computes each command's S2C fan-out set.
type Executor struct {
	room *Room
	log  *slog.Logger

	// forwardExcluding, while non-nil, names a super member whose forwarded
	// command is being executed as the inner member — that super member is
	// excluded from the resulting fan-out even though it isn't the nominal
	// sender.
	forwardExcluding *protocol.RoomMemberId
}

// NewExecutor returns an Executor operating on room.
func NewExecutor(room *Room, log *slog.Logger) *Executor {
	return &Executor{room: room, log: log}
}

// Execute applies one command sent by sender, delivered on frameID (only
// passed on to a forwarded inner command here — per-group ordering is already
// resolved by the channel multiplexer before a command reaches the executor). Command
// rejections are logged and otherwise silent: only protocol-layer integrity
// failures close a connection, and those never reach the executor.
func (e *Executor) Execute(sender protocol.RoomMemberId, frameID uint64, c command.Command) {
	m, ok := e.room.Members[sender]
	if !ok {
		e.reject(protocol.ErrMemberNotFound, sender, c, "member not found")
		return
	}

	switch c.Type {
	case protocol.CmdCreateGameObject:
		e.applyCreateGameObject(m, c)
	case protocol.CmdCreatedGameObject:
		e.applyCreatedGameObject(m, c)
	case protocol.CmdSetLong, protocol.CmdIncrementLong:
		e.applyLongField(m, c)
	case protocol.CmdSetDouble, protocol.CmdIncrementDouble:
		e.applyDoubleField(m, c)
	case protocol.CmdSetStructure:
		e.applyStructureField(m, c)
	case protocol.CmdEvent:
		e.applyEvent(m, c)
	case protocol.CmdTargetEvent:
		e.applyTargetEvent(m, c)
	case protocol.CmdDeleteObject:
		e.applyDeleteObject(m, c)
	case protocol.CmdAttachToRoom:
		e.applyAttachToRoom(m)
	case protocol.CmdDetachFromRoom:
		e.applyDetachFromRoom(m, c)
	case protocol.CmdDeleteField:
		e.applyDeleteField(m, c)
	case protocol.CmdForwarded:
		e.applyForwarded(m, c, frameID)
	default:
		e.reject(protocol.ErrDecodeFailure, sender, c, "command type not valid as a client mutation")
	}
}

func (e *Executor) reject(kind protocol.ErrorKind, member protocol.RoomMemberId, c command.Command, msg string) {
	e.log.Warn("command rejected",
		"kind", kind.String(),
		"member", member,
		"command", c.Type.String(),
		"reason", msg,
	)
}

func (e *Executor) resolveObject(id protocol.GameObjectId) (*GameObject, bool) {
	obj, ok := e.room.Objects[id]
	return obj, ok
}

// canAccessField reports whether m may act on (templateID, fieldID,
// fieldType) at the given level, considering both object-level visibility
// (groups intersect) and the field-level permission rule.
func (e *Executor) canAccessField(m *Member, obj *GameObject, fieldID protocol.FieldId, fieldType protocol.FieldType, need protocol.AccessLevel) bool {
	if !m.AccessGroups.Intersects(obj.AccessGroups) {
		return false
	}
	return e.room.Permissions.Access(obj.TemplateID, fieldID, fieldType, m.AccessGroups) >= need
}

func (e *Executor) applyCreateGameObject(m *Member, c command.Command) {
	id := c.ObjectID
	if id.Owner == protocol.OwnerMember && id.MemberID != m.ID {
		e.reject(protocol.ErrAccessDenied, m.ID, c, "cannot create an object owned by another member")
		return
	}
	if _, exists := e.room.Objects[id]; exists {
		e.reject(protocol.ErrAccessDenied, m.ID, c, "object id already exists")
		return
	}
	obj := newGameObject(id, c.TemplateID, c.AccessGroups)
	e.room.Objects[id] = obj
	e.room.objectOrder = append(e.room.objectOrder, id)
	// Not created yet: invisible to everyone (including the owner's peers)
	// until CreatedGameObject arrives.
}

func (e *Executor) applyCreatedGameObject(m *Member, c command.Command) {
	obj, ok := e.resolveObject(c.ObjectID)
	if !ok {
		e.reject(protocol.ErrObjectNotFound, m.ID, c, "unknown object")
		return
	}
	if obj.Created {
		return // already created; no-op, no re-announcement
	}
	obj.Created = true
	out := command.Command{
		Type:         protocol.CmdCreateGameObject,
		ObjectID:     obj.ID,
		ChannelType:  c.ChannelType,
		ChannelGroup: c.ChannelGroup,
		Creator:      m.ID,
		TemplateID:   obj.TemplateID,
		AccessGroups: obj.AccessGroups,
	}
	e.fanOutIncludingSenderIfCreated(m.ID, obj, out)
}

func (e *Executor) applyLongField(m *Member, c command.Command) {
	obj, ok := e.resolveObject(c.ObjectID)
	if !ok {
		e.reject(protocol.ErrObjectNotFound, m.ID, c, "unknown object")
		return
	}
	if !e.canAccessField(m, obj, c.FieldID, protocol.FieldLong, protocol.AccessReadWrite) {
		e.reject(protocol.ErrAccessDenied, m.ID, c, "no write access to long field")
		return
	}
	value := c.LongValue
	if c.Type == protocol.CmdIncrementLong {
		value = obj.Longs[c.FieldID] + c.LongValue // wraps on int64 overflow, matching two's-complement semantics
	}
	obj.Longs[c.FieldID] = value

	out := command.Command{
		Type:         protocol.CmdSetLong,
		ObjectID:     obj.ID,
		FieldID:      c.FieldID,
		ChannelType:  c.ChannelType,
		ChannelGroup: c.ChannelGroup,
		Creator:      m.ID,
		LongValue:    value,
	}
	e.fanOutExcludingSender(m.ID, obj, out)
}

func (e *Executor) applyDoubleField(m *Member, c command.Command) {
	obj, ok := e.resolveObject(c.ObjectID)
	if !ok {
		e.reject(protocol.ErrObjectNotFound, m.ID, c, "unknown object")
		return
	}
	if !e.canAccessField(m, obj, c.FieldID, protocol.FieldDouble, protocol.AccessReadWrite) {
		e.reject(protocol.ErrAccessDenied, m.ID, c, "no write access to double field")
		return
	}
	value := c.DoubleValue
	if c.Type == protocol.CmdIncrementDouble {
		value = obj.Doubles[c.FieldID] + c.DoubleValue
	}
	obj.Doubles[c.FieldID] = value

	out := command.Command{
		Type:         protocol.CmdSetDouble,
		ObjectID:     obj.ID,
		FieldID:      c.FieldID,
		ChannelType:  c.ChannelType,
		ChannelGroup: c.ChannelGroup,
		Creator:      m.ID,
		DoubleValue:  value,
	}
	e.fanOutExcludingSender(m.ID, obj, out)
}

func (e *Executor) applyStructureField(m *Member, c command.Command) {
	obj, ok := e.resolveObject(c.ObjectID)
	if !ok {
		e.reject(protocol.ErrObjectNotFound, m.ID, c, "unknown object")
		return
	}
	if !e.canAccessField(m, obj, c.FieldID, protocol.FieldStructure, protocol.AccessReadWrite) {
		e.reject(protocol.ErrAccessDenied, m.ID, c, "no write access to structure field")
		return
	}
	obj.Structures[c.FieldID] = c.Bytes

	out := command.Command{
		Type:         protocol.CmdSetStructure,
		ObjectID:     obj.ID,
		FieldID:      c.FieldID,
		ChannelType:  c.ChannelType,
		ChannelGroup: c.ChannelGroup,
		Creator:      m.ID,
		Bytes:        c.Bytes,
	}
	e.fanOutExcludingSender(m.ID, obj, out)
}

func (e *Executor) applyEvent(m *Member, c command.Command) {
	obj, ok := e.resolveObject(c.ObjectID)
	if !ok {
		e.reject(protocol.ErrObjectNotFound, m.ID, c, "unknown object")
		return
	}
	if !e.canAccessField(m, obj, c.FieldID, protocol.FieldEvent, protocol.AccessReadWrite) {
		e.reject(protocol.ErrAccessDenied, m.ID, c, "no write access to event field")
		return
	}
	out := command.Command{
		Type:         protocol.CmdEvent,
		ObjectID:     obj.ID,
		FieldID:      c.FieldID,
		ChannelType:  c.ChannelType,
		ChannelGroup: c.ChannelGroup,
		Creator:      m.ID,
		Bytes:        c.Bytes,
	}
	e.fanOutExcludingSender(m.ID, obj, out)
}

func (e *Executor) applyTargetEvent(m *Member, c command.Command) {
	obj, ok := e.resolveObject(c.ObjectID)
	if !ok {
		e.reject(protocol.ErrObjectNotFound, m.ID, c, "unknown object")
		return
	}
	if !e.canAccessField(m, obj, c.FieldID, protocol.FieldEvent, protocol.AccessReadWrite) {
		e.reject(protocol.ErrAccessDenied, m.ID, c, "no write access to event field")
		return
	}
	target, ok := e.room.Members[c.TargetMember]
	if !ok || !target.Attached() || !target.AccessGroups.Intersects(obj.AccessGroups) {
		return // target cannot see this object; silently drop, per access-group closure
	}
	out := command.Command{
		Type:         protocol.CmdTargetEvent,
		ObjectID:     obj.ID,
		FieldID:      c.FieldID,
		ChannelType:  c.ChannelType,
		ChannelGroup: c.ChannelGroup,
		Creator:      m.ID,
		TargetMember: c.TargetMember,
		Bytes:        c.Bytes,
	}
	e.deliver(target, out)
}

func (e *Executor) applyDeleteObject(m *Member, c command.Command) {
	obj, ok := e.resolveObject(c.ObjectID)
	if !ok {
		e.reject(protocol.ErrObjectNotFound, m.ID, c, "unknown object")
		return
	}
	if !m.AccessGroups.Intersects(obj.AccessGroups) {
		e.reject(protocol.ErrAccessDenied, m.ID, c, "no visibility into object")
		return
	}
	delete(e.room.Objects, obj.ID)
	if !obj.Created {
		return // never announced; nothing to fan out
	}
	out := command.Command{
		Type:         protocol.CmdDeleteObject,
		ObjectID:     obj.ID,
		ChannelType:  c.ChannelType,
		ChannelGroup: c.ChannelGroup,
		Creator:      m.ID,
	}
	e.fanOutIncludingSenderIfCreated(m.ID, obj, out)
}

func (e *Executor) applyAttachToRoom(m *Member) {
	if first := m.MarkAttached(); !first {
		return // idempotent: later attaches are no-ops
	}
	// Catch-up replay: bring the newly attached member up to date with every
	// created, visible object in the room, in creation order.
	for _, id := range e.room.objectOrder {
		obj, ok := e.room.Objects[id]
		if !ok || !obj.Created || !m.AccessGroups.Intersects(obj.AccessGroups) {
			continue
		}
		e.deliver(m, command.Command{
			Type:         protocol.CmdCreateGameObject,
			ObjectID:     obj.ID,
			ChannelType:  protocol.ChannelReliableUnordered,
			TemplateID:   obj.TemplateID,
			AccessGroups: obj.AccessGroups,
		})
		for fieldID, v := range obj.Longs {
			e.deliver(m, command.Command{Type: protocol.CmdSetLong, ObjectID: obj.ID, FieldID: fieldID, ChannelType: protocol.ChannelReliableUnordered, LongValue: v})
		}
		for fieldID, v := range obj.Doubles {
			e.deliver(m, command.Command{Type: protocol.CmdSetDouble, ObjectID: obj.ID, FieldID: fieldID, ChannelType: protocol.ChannelReliableUnordered, DoubleValue: v})
		}
		for fieldID, v := range obj.Structures {
			e.deliver(m, command.Command{Type: protocol.CmdSetStructure, ObjectID: obj.ID, FieldID: fieldID, ChannelType: protocol.ChannelReliableUnordered, Bytes: v})
		}
	}
}

// applyDetachFromRoom removes m from fan-out and replication without
// destroying anything it owns; a later AttachToRoom replays current state
// from scratch, same as a first attach.
func (e *Executor) applyDetachFromRoom(m *Member, c command.Command) {
	if !m.MarkDetached() {
		return // already detached; no-op
	}
	out := command.Command{
		Type:         protocol.CmdDetachFromRoom,
		ChannelType:  c.ChannelType,
		ChannelGroup: c.ChannelGroup,
		Creator:      m.ID,
	}
	for _, other := range e.room.Members {
		if other.ID == m.ID || !other.Attached() {
			continue
		}
		e.deliver(other, out)
	}
}

func (e *Executor) applyDeleteField(m *Member, c command.Command) {
	obj, ok := e.resolveObject(c.ObjectID)
	if !ok {
		e.reject(protocol.ErrObjectNotFound, m.ID, c, "unknown object")
		return
	}
	if !e.canAccessField(m, obj, c.FieldID, c.DeleteFieldType, protocol.AccessReadWrite) {
		e.reject(protocol.ErrAccessDenied, m.ID, c, "no write access to field")
		return
	}
	switch c.DeleteFieldType {
	case protocol.FieldLong:
		delete(obj.Longs, c.FieldID)
	case protocol.FieldDouble:
		delete(obj.Doubles, c.FieldID)
	case protocol.FieldStructure:
		delete(obj.Structures, c.FieldID)
	case protocol.FieldEvent:
		// events are never stored; nothing to delete.
	}
	out := command.Command{
		Type:            protocol.CmdDeleteField,
		ObjectID:        obj.ID,
		ChannelType:     c.ChannelType,
		ChannelGroup:    c.ChannelGroup,
		Creator:         m.ID,
		DeleteFieldType: c.DeleteFieldType,
	}
	e.fanOutExcludingSender(m.ID, obj, out)
}

func (e *Executor) applyForwarded(outer *Member, c command.Command, frameID uint64) {
	if !outer.SuperMember {
		e.reject(protocol.ErrForwardedPermissionDenied, outer.ID, c, "forwarding requires a super member")
		return
	}
	inner, ok := e.room.Members[c.ForwardedMember]
	if !ok {
		e.reject(protocol.ErrForwardedPermissionDenied, outer.ID, c, "forwarded member not found")
		return
	}
	if inner.ID == outer.ID || inner.SuperMember {
		e.reject(protocol.ErrForwardedPermissionDenied, outer.ID, c, "cannot forward as self or another super member")
		return
	}
	if c.ForwardedCommand == nil {
		e.reject(protocol.ErrForwardedPermissionDenied, outer.ID, c, "forwarded command missing inner command")
		return
	}
	outerID := outer.ID
	e.forwardExcluding = &outerID
	e.Execute(inner.ID, frameID, *c.ForwardedCommand)
	e.forwardExcluding = nil
}

// fanOutExcludingSender delivers out to every attached member whose access
// groups intersect obj's, excluding sender. Mutations are never echoed back
// to their own sender.
func (e *Executor) fanOutExcludingSender(sender protocol.RoomMemberId, obj *GameObject, out command.Command) {
	for _, m := range e.room.Members {
		if m.ID == sender || e.excludedFromForward(m.ID) {
			continue
		}
		if !m.Attached() || !m.AccessGroups.Intersects(obj.AccessGroups) {
			continue
		}
		e.deliver(m, out)
	}
}

// fanOutIncludingSenderIfCreated delivers out to every attached member whose
// access groups intersect obj's, including the sender — used for
// Create*/Delete* commands once the object has transitioned to created.
func (e *Executor) fanOutIncludingSenderIfCreated(sender protocol.RoomMemberId, obj *GameObject, out command.Command) {
	for _, m := range e.room.Members {
		if e.excludedFromForward(m.ID) {
			continue
		}
		if !m.Attached() || !m.AccessGroups.Intersects(obj.AccessGroups) {
			continue
		}
		e.deliver(m, out)
	}
}

func (e *Executor) excludedFromForward(id protocol.RoomMemberId) bool {
	return e.forwardExcluding != nil && *e.forwardExcluding == id
}

func (e *Executor) deliver(m *Member, out command.Command) {
	select {
	case m.Outbound <- S2CMessage{Command: out}:
	default:
		e.log.Warn("outbound queue full, dropping S2C command", "member", m.ID, "command", out.Type.String())
	}
}
