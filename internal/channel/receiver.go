package channel

import (
	"sync"

	"github.com/coldirongames/relay/internal/command"
	"github.com/coldirongames/relay/internal/protocol"
)

// reorderCapacity bounds how many out-of-order commands a group's reorder
// buffer will hold before giving up and reporting overflow.
const reorderCapacity = 64

// groupBuffer reassembles one channel group's reliable-sequence stream into
// send order.
type groupBuffer struct {
	nextSeq  uint64
	buffered map[uint64]command.Command
}

// orderedGroup tracks drop-older state for *Ordered(group) channels, which
// are ordered by the enclosing frame's id rather than an explicit per-group
// sequence number.
type orderedGroup struct {
	highestFrameID uint64
	seen           bool
}

// Receiver restores per-group delivery order. ReliableSequence groups are
// reassembled into strict send order by a bounded reorder buffer; *Ordered
// groups use a simpler drop-older-than-latest rule keyed by frame id, since
// the channels share the frame counter for ordering rather than minting
// their own per-group sequence. Unordered channels pass straight through.
type Receiver struct {
	mu      sync.Mutex
	groups  map[protocol.ChannelGroup]*groupBuffer
	ordered map[protocol.ChannelGroup]*orderedGroup
}

// NewReceiver returns an empty Receiver.
func NewReceiver() *Receiver {
	return &Receiver{
		groups:  make(map[protocol.ChannelGroup]*groupBuffer),
		ordered: make(map[protocol.ChannelGroup]*orderedGroup),
	}
}

// Accept feeds one decoded command, carried by the frame with id frameID,
// through the multiplexer, returning the commands now ready for delivery in
// order (zero, one, or many — a single late arrival on a sequence channel
// can release a run of already-buffered successors).
func (r *Receiver) Accept(frameID uint64, c command.Command) ([]command.Command, error) {
	switch c.ChannelType {
	case protocol.ChannelReliableSequence:
		return r.acceptSequenced(c)
	case protocol.ChannelReliableOrdered, protocol.ChannelUnreliableOrdered:
		return r.acceptOrdered(frameID, c)
	default:
		return []command.Command{c}, nil
	}
}

func (r *Receiver) acceptOrdered(frameID uint64, c command.Command) ([]command.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.ordered[c.ChannelGroup]
	if !ok {
		g = &orderedGroup{}
		r.ordered[c.ChannelGroup] = g
	}
	if g.seen && frameID < g.highestFrameID {
		return nil, nil
	}
	g.highestFrameID = frameID
	g.seen = true
	return []command.Command{c}, nil
}

func (r *Receiver) acceptSequenced(c command.Command) ([]command.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[c.ChannelGroup]
	if !ok {
		g = &groupBuffer{buffered: make(map[uint64]command.Command)}
		r.groups[c.ChannelGroup] = g
	}

	if c.Sequence < g.nextSeq {
		// Already delivered (a retransmit racing the original); drop.
		return nil, nil
	}
	if _, dup := g.buffered[c.Sequence]; dup {
		return nil, nil
	}
	if len(g.buffered) >= reorderCapacity && c.Sequence != g.nextSeq {
		return nil, protocol.NewError(protocol.ErrChannelOverflow, "channel.Accept", errReorderBufferFull)
	}
	g.buffered[c.Sequence] = c

	var ready []command.Command
	for {
		next, ok := g.buffered[g.nextSeq]
		if !ok {
			break
		}
		delete(g.buffered, g.nextSeq)
		ready = append(ready, next)
		g.nextSeq++
	}
	return ready, nil
}
