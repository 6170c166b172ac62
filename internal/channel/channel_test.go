package channel

import (
	"testing"

	"github.com/coldirongames/relay/internal/command"
	"github.com/coldirongames/relay/internal/protocol"
)

func seqCmd(group protocol.ChannelGroup, seq uint64) command.Command {
	return command.Command{
		Type:         protocol.CmdSetLong,
		ChannelType:  protocol.ChannelReliableSequence,
		ChannelGroup: group,
		Sequence:     seq,
		LongValue:    int64(seq),
	}
}

func TestSenderAssignsPerGroupSequences(t *testing.T) {
	s := NewSender()
	if got := s.NextSequence(1); got != 0 {
		t.Fatalf("first sequence for group 1 = %d, want 0", got)
	}
	if got := s.NextSequence(1); got != 1 {
		t.Fatalf("second sequence for group 1 = %d, want 1", got)
	}
	if got := s.NextSequence(2); got != 0 {
		t.Fatalf("first sequence for group 2 = %d, want 0 (independent counter)", got)
	}
}

func TestReceiverDeliversInOrder(t *testing.T) {
	r := NewReceiver()

	ready, err := r.Accept(0, seqCmd(1, 0))
	if err != nil || len(ready) != 1 {
		t.Fatalf("seq 0: ready=%v err=%v", ready, err)
	}

	// seq 2 arrives before seq 1 — must be held back.
	ready, err = r.Accept(0, seqCmd(1, 2))
	if err != nil || len(ready) != 0 {
		t.Fatalf("seq 2 early: ready=%v err=%v", ready, err)
	}

	ready, err = r.Accept(0, seqCmd(1, 1))
	if err != nil {
		t.Fatalf("seq 1: err=%v", err)
	}
	if len(ready) != 2 || ready[0].Sequence != 1 || ready[1].Sequence != 2 {
		t.Fatalf("seq 1 release = %v, want [1,2]", ready)
	}
}

func TestReceiverDropsOldAndDuplicate(t *testing.T) {
	r := NewReceiver()
	if _, err := r.Accept(0, seqCmd(1, 0)); err != nil {
		t.Fatalf("seq 0: %v", err)
	}
	if _, err := r.Accept(0, seqCmd(1, 1)); err != nil {
		t.Fatalf("seq 1: %v", err)
	}

	ready, err := r.Accept(0, seqCmd(1, 0)) // stale retransmit
	if err != nil || len(ready) != 0 {
		t.Fatalf("stale replay: ready=%v err=%v", ready, err)
	}
}

func TestReceiverGroupsAreIndependent(t *testing.T) {
	r := NewReceiver()
	ready, err := r.Accept(0, seqCmd(5, 0))
	if err != nil || len(ready) != 1 {
		t.Fatalf("group 5 seq 0: ready=%v err=%v", ready, err)
	}
	ready, err = r.Accept(0, seqCmd(9, 0))
	if err != nil || len(ready) != 1 {
		t.Fatalf("group 9 seq 0: ready=%v err=%v", ready, err)
	}
}

func TestReceiverOverflowReportsChannelOverflow(t *testing.T) {
	r := NewReceiver()
	// Hold seq 0 back by never sending it, filling the buffer with later
	// sequence numbers until it exceeds capacity.
	var lastErr error
	for i := uint64(1); i <= reorderCapacity+1; i++ {
		_, lastErr = r.Accept(0, seqCmd(1, i))
		if lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatal("expected an overflow error once the reorder buffer exceeds capacity")
	}
	relayErr, ok := lastErr.(*protocol.RelayError)
	if !ok {
		t.Fatalf("error type = %T, want *protocol.RelayError", lastErr)
	}
	if relayErr.Kind != protocol.ErrChannelOverflow {
		t.Fatalf("error kind = %v, want ErrChannelOverflow", relayErr.Kind)
	}
}

func TestReceiverOrderedDropsOlderFrames(t *testing.T) {
	r := NewReceiver()
	c := command.Command{Type: protocol.CmdSetLong, ChannelType: protocol.ChannelReliableOrdered, ChannelGroup: 1}

	if ready, err := r.Accept(10, c); err != nil || len(ready) != 1 {
		t.Fatalf("frame 10: ready=%v err=%v", ready, err)
	}
	if ready, err := r.Accept(7, c); err != nil || len(ready) != 0 {
		t.Fatalf("frame 7 (older, out of order): ready=%v err=%v, want dropped", ready, err)
	}
	if ready, err := r.Accept(11, c); err != nil || len(ready) != 1 {
		t.Fatalf("frame 11 (newer): ready=%v err=%v", ready, err)
	}
}

func TestReceiverPassesThroughNonSequencedChannels(t *testing.T) {
	r := NewReceiver()
	c := command.Command{Type: protocol.CmdEvent, ChannelType: protocol.ChannelUnreliableUnordered}
	ready, err := r.Accept(0, c)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if len(ready) != 1 || ready[0].Type != protocol.CmdEvent {
		t.Fatalf("ready = %v, want the command passed straight through", ready)
	}
}
