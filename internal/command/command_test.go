package command

import (
	"bytes"
	"testing"

	"github.com/coldirongames/relay/internal/protocol"
)

func oid(owner protocol.RoomOwner, member protocol.RoomMemberId, id uint32) protocol.GameObjectId {
	return protocol.GameObjectId{Owner: owner, MemberID: member, ID: id}
}

func sampleStream() []Command {
	return []Command{
		{
			Type:         protocol.CmdCreateGameObject,
			ObjectID:     oid(protocol.OwnerMember, 7, 1),
			ChannelType:  protocol.ChannelReliableUnordered,
			Creator:      7,
			TemplateID:   42,
			AccessGroups: 0b1011,
		},
		{
			// same object id, field id differs — exercises delta compression.
			Type:        protocol.CmdSetLong,
			ObjectID:    oid(protocol.OwnerMember, 7, 1),
			FieldID:     3,
			ChannelType: protocol.ChannelReliableUnordered,
			Creator:     7,
			LongValue:   -91,
		},
		{
			Type:        protocol.CmdSetDouble,
			ObjectID:    oid(protocol.OwnerMember, 7, 1),
			FieldID:     4,
			ChannelType: protocol.ChannelUnreliableUnordered,
			Creator:     7,
			DoubleValue: 3.5,
		},
		{
			Type:         protocol.CmdSetStructure,
			ObjectID:     oid(protocol.OwnerRoom, 0, 9),
			FieldID:      1,
			ChannelType:  protocol.ChannelReliableOrdered,
			ChannelGroup: 2,
			Creator:      7,
			Bytes:        []byte{1, 2, 3, 4, 5},
		},
		{
			Type:         protocol.CmdTargetEvent,
			ObjectID:     oid(protocol.OwnerRoom, 0, 9),
			FieldID:      1,
			ChannelType:  protocol.ChannelReliableSequence,
			ChannelGroup: 2,
			Creator:      7,
			Sequence:     12,
			TargetMember: 3,
			Bytes:        []byte("hello"),
		},
		{
			Type:            protocol.CmdDeleteField,
			ObjectID:        oid(protocol.OwnerRoom, 0, 9),
			FieldID:         1,
			ChannelType:     protocol.ChannelReliableOrdered,
			ChannelGroup:    2,
			Creator:         7,
			DeleteFieldType: protocol.FieldStructure,
		},
		{
			Type:        protocol.CmdForwarded,
			ChannelType: protocol.ChannelReliableUnordered,
			ForwardedMember: 5,
			ForwardedCommand: &Command{
				Type:        protocol.CmdSetLong,
				ObjectID:    oid(protocol.OwnerMember, 2, 6),
				FieldID:     9,
				ChannelType: protocol.ChannelReliableUnordered,
				Creator:     2,
				LongValue:   100,
			},
		},
		{
			Type:          protocol.CmdMemberDisconnected,
			ChannelType:   protocol.ChannelReliableUnordered,
			SubjectMember: 5,
			Reason:        protocol.DisconnectClientRequested,
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cmds := sampleStream()

	enc := NewEncoder()
	wire, err := enc.EncodeStream(cmds)
	if err != nil {
		t.Fatalf("EncodeStream: %v", err)
	}

	dec := NewDecoder()
	got, err := dec.DecodeStream(wire)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}

	if len(got) != len(cmds) {
		t.Fatalf("got %d commands, want %d", len(got), len(cmds))
	}
	for i := range cmds {
		assertCommandEqual(t, i, cmds[i], got[i])
	}
}

func TestEncodeDecodeStable(t *testing.T) {
	cmds := sampleStream()

	first, err := NewEncoder().EncodeStream(cmds)
	if err != nil {
		t.Fatalf("first EncodeStream: %v", err)
	}
	second, err := NewEncoder().EncodeStream(cmds)
	if err != nil {
		t.Fatalf("second EncodeStream: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("encoding the same stream twice produced different bytes")
	}
}

func TestDecodeEmptyStream(t *testing.T) {
	wire, err := NewEncoder().EncodeStream(nil)
	if err != nil {
		t.Fatalf("EncodeStream: %v", err)
	}
	got, err := NewDecoder().DecodeStream(wire)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d commands, want 0", len(got))
	}
}

func TestDecodeTruncatedStreamFails(t *testing.T) {
	wire, err := NewEncoder().EncodeStream(sampleStream())
	if err != nil {
		t.Fatalf("EncodeStream: %v", err)
	}
	for cut := 1; cut < len(wire); cut++ {
		if _, err := NewDecoder().DecodeStream(wire[:cut]); err == nil {
			t.Fatalf("DecodeStream on truncated input (len %d) unexpectedly succeeded", cut)
		}
	}
}

func TestDecodeRejectsUnknownCommandType(t *testing.T) {
	wire := []byte{1, 0x00, 0xFF} // flags=0, type=0xFF (unknown)
	if _, err := NewDecoder().DecodeStream(wire); err == nil {
		t.Fatal("expected an error for an unknown command type")
	}
}

func assertCommandEqual(t *testing.T, i int, want, got Command) {
	t.Helper()
	if want.Type != got.Type {
		t.Errorf("cmd %d: Type = %v, want %v", i, got.Type, want.Type)
	}
	if want.ObjectID != got.ObjectID {
		t.Errorf("cmd %d: ObjectID = %v, want %v", i, got.ObjectID, want.ObjectID)
	}
	if want.FieldID != got.FieldID {
		t.Errorf("cmd %d: FieldID = %v, want %v", i, got.FieldID, want.FieldID)
	}
	if want.ChannelType != got.ChannelType {
		t.Errorf("cmd %d: ChannelType = %v, want %v", i, got.ChannelType, want.ChannelType)
	}
	if want.ChannelGroup != got.ChannelGroup {
		t.Errorf("cmd %d: ChannelGroup = %v, want %v", i, got.ChannelGroup, want.ChannelGroup)
	}
	if want.Sequence != got.Sequence {
		t.Errorf("cmd %d: Sequence = %v, want %v", i, got.Sequence, want.Sequence)
	}
	if want.Creator != got.Creator {
		t.Errorf("cmd %d: Creator = %v, want %v", i, got.Creator, want.Creator)
	}
	if want.LongValue != got.LongValue {
		t.Errorf("cmd %d: LongValue = %v, want %v", i, got.LongValue, want.LongValue)
	}
	if want.DoubleValue != got.DoubleValue {
		t.Errorf("cmd %d: DoubleValue = %v, want %v", i, got.DoubleValue, want.DoubleValue)
	}
	if !bytes.Equal(want.Bytes, got.Bytes) {
		t.Errorf("cmd %d: Bytes = %v, want %v", i, got.Bytes, want.Bytes)
	}
	if want.TargetMember != got.TargetMember {
		t.Errorf("cmd %d: TargetMember = %v, want %v", i, got.TargetMember, want.TargetMember)
	}
	if want.DeleteFieldType != got.DeleteFieldType {
		t.Errorf("cmd %d: DeleteFieldType = %v, want %v", i, got.DeleteFieldType, want.DeleteFieldType)
	}
	if want.ForwardedMember != got.ForwardedMember {
		t.Errorf("cmd %d: ForwardedMember = %v, want %v", i, got.ForwardedMember, want.ForwardedMember)
	}
	if (want.ForwardedCommand == nil) != (got.ForwardedCommand == nil) {
		t.Fatalf("cmd %d: ForwardedCommand nilness mismatch", i)
	}
	if want.ForwardedCommand != nil {
		assertCommandEqual(t, i, *want.ForwardedCommand, *got.ForwardedCommand)
	}
	if want.SubjectMember != got.SubjectMember {
		t.Errorf("cmd %d: SubjectMember = %v, want %v", i, got.SubjectMember, want.SubjectMember)
	}
	if want.Reason != got.Reason {
		t.Errorf("cmd %d: Reason = %v, want %v", i, got.Reason, want.Reason)
	}
}
