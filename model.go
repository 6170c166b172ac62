package main

import (
	"sync"

	"github.com/coldirongames/relay/internal/command"
	"github.com/coldirongames/relay/internal/protocol"
)

// RoomId identifies a room, unique across the relay.
type RoomId uint64

// FieldRule is one permission entry in a PermissionTable: for a given
// (template_id, field_id, field_type), which access groups may read or
// read-write the field.
type FieldRule struct {
	Groups protocol.AccessGroups
	Level  protocol.AccessLevel
}

type fieldKey struct {
	templateID uint32
	fieldID    protocol.FieldId
	fieldType  protocol.FieldType
}

// PermissionTable maps (template, field) to field rules. Immutable after
// room creation, so it needs no locking once built.
type PermissionTable struct {
	rules map[fieldKey][]FieldRule

	// RoomPersistentTemplates names template ids whose member-owned objects
	// survive the owning member's disconnect instead of being destroyed.
	RoomPersistentTemplates map[uint32]bool
}

// NewPermissionTable returns an empty table ready to have rules added.
func NewPermissionTable() *PermissionTable {
	return &PermissionTable{
		rules:                   make(map[fieldKey][]FieldRule),
		RoomPersistentTemplates: make(map[uint32]bool),
	}
}

// AddRule registers a field rule for (templateID, fieldID, fieldType).
func (t *PermissionTable) AddRule(templateID uint32, fieldID protocol.FieldId, fieldType protocol.FieldType, groups protocol.AccessGroups, level protocol.AccessLevel) {
	k := fieldKey{templateID, fieldID, fieldType}
	t.rules[k] = append(t.rules[k], FieldRule{Groups: groups, Level: level})
}

// Access returns the highest access level any rule grants to a member whose
// mask is memberGroups, for (templateID, fieldID, fieldType). Returns
// AccessNone if no rule matches.
func (t *PermissionTable) Access(templateID uint32, fieldID protocol.FieldId, fieldType protocol.FieldType, memberGroups protocol.AccessGroups) protocol.AccessLevel {
	best := protocol.AccessNone
	for _, r := range t.rules[fieldKey{templateID, fieldID, fieldType}] {
		if !memberGroups.Intersects(r.Groups) {
			continue
		}
		if r.Level > best {
			best = r.Level
		}
	}
	return best
}

// IsRoomPersistent reports whether objects of templateID survive their
// owning member's disconnect.
func (t *PermissionTable) IsRoomPersistent(templateID uint32) bool {
	return t.RoomPersistentTemplates[templateID]
}

// Member is a client connection authorized to participate in one room.
type Member struct {
	ID           protocol.RoomMemberId
	PrivateKey   [32]byte
	AccessGroups protocol.AccessGroups
	SuperMember  bool

	attached bool // toggled by AttachToRoom/DetachFromRoom; starts false

	// Outbound is this member's S2C queue, drained by the I/O thread. Buffered
	// so the executor's single-writer loop never blocks on a slow reader.
	Outbound chan S2CMessage
}

// MarkAttached performs the idempotent AttachToRoom transition, reporting
// whether this call was the one that flipped it (a no-op if already
// attached).
func (m *Member) MarkAttached() (first bool) {
	if m.attached {
		return false
	}
	m.attached = true
	return true
}

// MarkDetached performs the idempotent DetachFromRoom transition, reporting
// whether this call was the one that flipped it.
func (m *Member) MarkDetached() (changed bool) {
	if !m.attached {
		return false
	}
	m.attached = false
	return true
}

// Attached reports whether the member is currently attached to the room:
// visible in fan-out and eligible to receive replicated state. Detaching
// does not destroy anything the member owns — only disconnect does.
func (m *Member) Attached() bool { return m.attached }

// GameObject is a versioned record of typed fields, owned by the room or a
// specific member.
type GameObject struct {
	ID           protocol.GameObjectId
	TemplateID   uint32
	AccessGroups protocol.AccessGroups
	Created      bool

	Longs      map[protocol.FieldId]int64
	Doubles    map[protocol.FieldId]float64
	Structures map[protocol.FieldId][]byte
}

func newGameObject(id protocol.GameObjectId, templateID uint32, groups protocol.AccessGroups) *GameObject {
	return &GameObject{
		ID:           id,
		TemplateID:   templateID,
		AccessGroups: groups,
		Longs:        make(map[protocol.FieldId]int64),
		Doubles:      make(map[protocol.FieldId]float64),
		Structures:   make(map[protocol.FieldId][]byte),
	}
}

// Room is a bounded session holding shared object state and a set of
// members. The executor is the single writer to a Room; callers external to
// the owning room thread must not mutate it directly.
type Room struct {
	ID RoomId

	mu sync.Mutex // guards only membership bookkeeping consulted from other goroutines (e.g. metrics)

	Members     map[protocol.RoomMemberId]*Member
	Objects     map[protocol.GameObjectId]*GameObject
	objectOrder []protocol.GameObjectId // insertion order, preserved for AttachToRoom replay

	Permissions *PermissionTable

	nextMemberObjectID map[protocol.RoomMemberId]uint32
	nextRoomObjectID   uint32
}

// NewRoom returns an empty room governed by permissions.
func NewRoom(id RoomId, permissions *PermissionTable) *Room {
	return &Room{
		ID:                 id,
		Members:            make(map[protocol.RoomMemberId]*Member),
		Objects:            make(map[protocol.GameObjectId]*GameObject),
		Permissions:        permissions,
		nextMemberObjectID: make(map[protocol.RoomMemberId]uint32),
	}
}

// AddMember registers a newly-joined member.
func (r *Room) AddMember(m *Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Members[m.ID] = m
}

// RemoveMember deletes a member and, unless the owning template is
// room-persistent, destroys every object that member owned.
func (r *Room) RemoveMember(id protocol.RoomMemberId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Members, id)
	for _, oid := range r.objectOrder {
		obj, ok := r.Objects[oid]
		if !ok || oid.Owner != protocol.OwnerMember || oid.MemberID != id {
			continue
		}
		if r.Permissions.IsRoomPersistent(obj.TemplateID) {
			continue
		}
		delete(r.Objects, oid)
	}
}

// MemberCount reports how many members are currently registered.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Members)
}

// S2CMessage is one outbound command queued for delivery to a member.
type S2CMessage struct {
	Command command.Command
}
