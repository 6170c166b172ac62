package reliability

import "github.com/coldirongames/relay/internal/protocol"

// PendingAcks returns up to AckWindowSize of the most recently received
// frame ids, suitable for attaching as a wire.AckHeader on the next
// outbound frame to this peer.
func (c *Connection) PendingAcks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.recentSeq)
	if n > protocol.AckWindowSize {
		n = protocol.AckWindowSize
	}
	out := make([]uint64, n)
	copy(out, c.recentSeq[len(c.recentSeq)-n:])
	return out
}
