package command

import "github.com/coldirongames/relay/internal/protocol"

// context tracks the object id, field id, channel group, and creator shared
// by adjacent commands in a frame's command stream, so repeats don't need to
// be re-serialized. Both the encoder and decoder hold one and must stay in
// lockstep.
type context struct {
	set          bool
	objectID     protocol.GameObjectId
	fieldID      protocol.FieldId
	channelGroup protocol.ChannelGroup
	creator      protocol.RoomMemberId
}

// current returns the context's present object id, field id, channel group,
// and creator — used by the decoder to seed fields a command doesn't replace.
func (c *context) current() context {
	return context{objectID: c.objectID, fieldID: c.fieldID, channelGroup: c.channelGroup, creator: c.creator}
}

// diff reports which parts of next differ from the context (or everything,
// if the context has never been set), then updates the context to next.
func (c *context) diff(next context) (newObject, newField, newGroup, newCreator bool) {
	if !c.set {
		c.set = true
		c.objectID, c.fieldID, c.channelGroup, c.creator = next.objectID, next.fieldID, next.channelGroup, next.creator
		return true, true, true, true
	}
	newObject = c.objectID != next.objectID
	newField = c.fieldID != next.fieldID
	newGroup = c.channelGroup != next.channelGroup
	newCreator = c.creator != next.creator
	c.objectID, c.fieldID, c.channelGroup, c.creator = next.objectID, next.fieldID, next.channelGroup, next.creator
	return
}
