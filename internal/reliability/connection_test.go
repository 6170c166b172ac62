package reliability

import (
	"testing"
	"time"

	"github.com/coldirongames/relay/internal/protocol"
	"github.com/coldirongames/relay/internal/wire"
)

func testKey() wire.MemberPrivateKey {
	var k wire.MemberPrivateKey
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestNextFrameIDNeverRepeats(t *testing.T) {
	c := New(testKey(), time.Now())
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		id := c.NextFrameID()
		if seen[id] {
			t.Fatalf("frame id %d repeated", id)
		}
		seen[id] = true
	}
}

func TestDuplicateFrameSuppressed(t *testing.T) {
	c := New(testKey(), time.Now())
	now := time.Now()

	if dup := c.ObserveInbound(5, now); dup {
		t.Fatal("first delivery of frame 5 reported as duplicate")
	}
	if dup := c.ObserveInbound(5, now); !dup {
		t.Fatal("second delivery of frame 5 not detected as duplicate")
	}
	if dup := c.ObserveInbound(6, now); dup {
		t.Fatal("frame 6 incorrectly reported as duplicate")
	}
}

func TestAckRemovesPendingAndUpdatesRTT(t *testing.T) {
	c := New(testKey(), time.Now())
	now := time.Now()

	c.TrackForRetransmit(1, []byte("payload"), now)
	if got := c.PendingRetransmits(now.Add(time.Hour)); len(got) != 1 {
		t.Fatalf("expected 1 pending retransmit before ack, got %d", len(got))
	}

	// PendingRetransmits above resent the frame at now+1h, so the ack
	// arrives 50ms after that send.
	c.Ack([]uint64{1}, now.Add(time.Hour+50*time.Millisecond))

	if got := c.PendingRetransmits(now.Add(time.Hour)); len(got) != 0 {
		t.Fatalf("expected 0 pending retransmits after ack, got %d", len(got))
	}
	if c.SmoothedRTT() != 50*time.Millisecond {
		t.Fatalf("SmoothedRTT = %v, want 50ms on first sample", c.SmoothedRTT())
	}
}

func TestPendingRetransmitsRespectsInterval(t *testing.T) {
	c := New(testKey(), time.Now())
	now := time.Now()
	c.TrackForRetransmit(1, []byte("payload"), now)

	if got := c.PendingRetransmits(now.Add(10 * time.Millisecond)); len(got) != 0 {
		t.Fatalf("expected no retransmit before interval elapses, got %d", len(got))
	}
	if got := c.PendingRetransmits(now.Add(baseRetransmitInterval + time.Millisecond)); len(got) != 1 {
		t.Fatalf("expected 1 retransmit once interval elapses, got %d", len(got))
	}
}

func TestShouldTimeOutAfterIdle(t *testing.T) {
	c := New(testKey(), time.Now())
	now := time.Now()
	c.ObserveInbound(1, now)

	if c.ShouldTimeOut(now.Add(idleTimeout - time.Second)) {
		t.Fatal("reported timeout before idleTimeout elapsed")
	}
	if !c.ShouldTimeOut(now.Add(idleTimeout + time.Second)) {
		t.Fatal("did not report timeout after idleTimeout elapsed")
	}
}

func TestDisconnectIsIdempotentToFirstReason(t *testing.T) {
	c := New(testKey(), time.Now())
	c.Disconnect(protocol.DisconnectTimeout)
	c.Disconnect(protocol.DisconnectClientRequested)

	if got := c.DisconnectReason(); got != protocol.DisconnectTimeout {
		t.Fatalf("DisconnectReason = %v, want the first reason (timeout)", got)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("State = %v, want disconnected", c.State())
	}
}

func TestMarkConnectedTransitionsOnce(t *testing.T) {
	c := New(testKey(), time.Now())
	if c.State() != StateConnecting {
		t.Fatalf("initial state = %v, want connecting", c.State())
	}
	c.MarkConnected()
	if c.State() != StateConnected {
		t.Fatalf("state after MarkConnected = %v, want connected", c.State())
	}
	c.Disconnect(protocol.DisconnectRoomDeleted)
	c.MarkConnected()
	if c.State() != StateDisconnected {
		t.Fatal("MarkConnected resurrected a disconnected connection")
	}
}

func TestRTTProbeCadenceAndEcho(t *testing.T) {
	c := New(testKey(), time.Now())
	now := time.Now()

	if !c.NeedsRTTProbe(now) {
		t.Fatal("a fresh connection should need an initial RTT probe")
	}
	c.MarkRTTProbeSent(now)
	if c.NeedsRTTProbe(now.Add(time.Second)) {
		t.Fatal("should not need another probe before rttProbeInterval elapses")
	}
	if !c.NeedsRTTProbe(now.Add(rttProbeInterval + time.Millisecond)) {
		t.Fatal("should need another probe once rttProbeInterval elapses")
	}

	sentAt := now.UnixNano()
	c.ObserveRTTEcho(sentAt, now.Add(30*time.Millisecond))
	if got := c.SmoothedRTT(); got != 30*time.Millisecond {
		t.Fatalf("SmoothedRTT after echo = %v, want 30ms", got)
	}
}

func TestPendingAcksWindowed(t *testing.T) {
	c := New(testKey(), time.Now())
	now := time.Now()
	for i := uint64(0); i < uint64(protocol.AckWindowSize)+5; i++ {
		c.ObserveInbound(i, now)
	}
	acks := c.PendingAcks()
	if len(acks) != protocol.AckWindowSize {
		t.Fatalf("PendingAcks returned %d ids, want %d", len(acks), protocol.AckWindowSize)
	}
}
