// Package channel implements the channel multiplexer: per-group sequence
// numbering for the reliable-sequence delivery guarantee, and the matching
// receive-side reorder buffer that restores send order from a wire that can
// still reorder individual reliable frames relative to each other.
package channel

import (
	"sync"

	"github.com/coldirongames/relay/internal/protocol"
)

// Sender hands out monotonically increasing sequence numbers, one counter
// per channel group, for commands sent on the reliable-sequence channel.
type Sender struct {
	mu   sync.Mutex
	next map[protocol.ChannelGroup]uint64
}

// NewSender returns an empty Sender.
func NewSender() *Sender {
	return &Sender{next: make(map[protocol.ChannelGroup]uint64)}
}

// NextSequence returns the next sequence number for group and advances its
// counter.
func (s *Sender) NextSequence(group protocol.ChannelGroup) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.next[group]
	s.next[group]++
	return seq
}
