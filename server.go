package main

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coldirongames/relay/internal/channel"
	"github.com/coldirongames/relay/internal/command"
	"github.com/coldirongames/relay/internal/metrics"
	"github.com/coldirongames/relay/internal/protocol"
	"github.com/coldirongames/relay/internal/reliability"
	"github.com/coldirongames/relay/internal/trace"
	"github.com/coldirongames/relay/internal/wire"
)

const (
	tickRate        = 60
	tickInterval    = time.Second / tickRate
	maxDatagramSize = 2048
	outboundBatch   = 64 // max S2C commands folded into one outbound frame per tick
)

// Circuit breaker constants for per-peer datagram fan-out: after
// sendCircuitBreakerThreshold consecutive WriteToUDP failures, the breaker
// opens and the peer is skipped until a probe send succeeds again.
const (
	sendCircuitBreakerThreshold     uint32 = 20
	sendCircuitBreakerProbeInterval uint32 = 25
)

// sendHealth tracks per-peer datagram send success and implements a
// lightweight circuit breaker so the I/O thread stops wasting effort writing
// to an unreachable address.
type sendHealth struct {
	failures atomic.Uint32
	skips    atomic.Uint32
}

func (h *sendHealth) shouldSkip() bool {
	if h.failures.Load() < sendCircuitBreakerThreshold {
		return false
	}
	s := h.skips.Add(1)
	return s%sendCircuitBreakerProbeInterval != 0
}

func (h *sendHealth) recordFailure() uint32 {
	return h.failures.Add(1)
}

func (h *sendHealth) recordSuccess() bool {
	wasTripped := h.failures.Swap(0) >= sendCircuitBreakerThreshold
	if wasTripped {
		h.skips.Store(0)
	}
	return wasTripped
}

// Peer binds one connected Member to the reliability, channel-multiplexer,
// and addressing state the I/O thread needs to talk to it. Peers are
// provisioned out of band (the member's key is known before its first
// datagram arrives) and registered with AddPeer before the server starts
// routing for them.
type Peer struct {
	Member *Member
	RoomID RoomId
	Addr   *net.UDPAddr

	Conn     *reliability.Connection
	Sender   *channel.Sender
	Receiver *channel.Receiver

	health sendHealth
}

// NewPeer returns a Peer for member, addressed at addr, authenticated under
// key, not yet connected.
func NewPeer(member *Member, roomID RoomId, addr *net.UDPAddr, key wire.MemberPrivateKey, now time.Time) *Peer {
	return &Peer{
		Member:   member,
		RoomID:   roomID,
		Addr:     addr,
		Conn:     reliability.New(key, now),
		Sender:   channel.NewSender(),
		Receiver: channel.NewReceiver(),
	}
}

// inboundExecute is one ready-to-apply command, released by a peer's channel
// receiver, queued to its room's worker goroutine.
type inboundExecute struct {
	sender  protocol.RoomMemberId
	frameID uint64
	cmd     command.Command
}

// leaveEvent asks the room thread to disconnect peer — used so a peer's
// Disconnect header, observed on the I/O thread, still only mutates room
// state from the single goroutine that owns it.
type leaveEvent struct {
	peer   *Peer
	reason protocol.DisconnectReason
}

// RoomWorker is the "room thread": the single goroutine that owns one room
// and runs its executor, channel reassembly hookup, and tick-driven
// reliability housekeeping serially, so no locking is needed inside Execute.
type RoomWorker struct {
	room   *Room
	exec   *Executor
	log    *slog.Logger
	mtr    *metrics.Metrics
	tracer *trace.CommandTracer
	send   func(peer *Peer, datagram []byte, reliable bool)

	mu    sync.Mutex
	peers map[protocol.RoomMemberId]*Peer

	inbox  chan inboundExecute
	leaves chan leaveEvent
}

// NewRoomWorker returns a worker for room, not yet running.
func NewRoomWorker(room *Room, log *slog.Logger, mtr *metrics.Metrics, send func(peer *Peer, datagram []byte, reliable bool)) *RoomWorker {
	return &RoomWorker{
		room:   room,
		exec:   NewExecutor(room, log),
		log:    log,
		mtr:    mtr,
		tracer: trace.New(log),
		send:   send,
		peers:  make(map[protocol.RoomMemberId]*Peer),
	}
}

// AddPeer registers peer with the worker and the underlying room. Must be
// called before Run starts the room thread — joins arriving while the room
// is live are expected to come in as a command on an already-registered
// peer's connection (CmdAttachToRoom), not as a new Peer.
func (w *RoomWorker) AddPeer(peer *Peer) {
	w.mu.Lock()
	w.peers[peer.Member.ID] = peer
	w.mu.Unlock()
	w.room.AddMember(peer.Member)
	if w.mtr != nil {
		w.mtr.MembersConnected.Inc()
	}
}

// RemovePeer disconnects peer, fans out MemberDisconnected, and — unless the
// owning templates are room-persistent — drops the member's objects.
func (w *RoomWorker) RemovePeer(peer *Peer, reason protocol.DisconnectReason) {
	w.mu.Lock()
	_, present := w.peers[peer.Member.ID]
	delete(w.peers, peer.Member.ID)
	w.mu.Unlock()
	peer.Conn.Disconnect(reason)
	w.room.RemoveMember(peer.Member.ID)
	if present && w.mtr != nil {
		w.mtr.MembersConnected.Dec()
	}
	if present {
		out := command.Command{
			Type:          protocol.CmdMemberDisconnected,
			ChannelType:   protocol.ChannelReliableUnordered,
			SubjectMember: peer.Member.ID,
			Reason:        reason,
		}
		for _, other := range w.room.Members {
			if other.Attached() {
				w.exec.deliver(other, out)
			}
		}
	}
}

// Deliver feeds frameID's already-reordered command c into the executor.
// Called from the I/O thread's decode path; this and Leave are the only
// entry points into room state other than the tick loop, so the worker
// goroutine that drains inbox/leaves is the sole writer of room.
func (w *RoomWorker) Deliver(sender protocol.RoomMemberId, frameID uint64, c command.Command) {
	w.inbox <- inboundExecute{sender: sender, frameID: frameID, cmd: c}
}

// Leave asks the room thread to disconnect peer with reason. Called from
// the I/O thread when a peer's Disconnect header arrives.
func (w *RoomWorker) Leave(peer *Peer, reason protocol.DisconnectReason) {
	w.leaves <- leaveEvent{peer: peer, reason: reason}
}

// Run drives the room thread until ctx is canceled: applies inbound
// commands as they arrive and, on a fixed 60Hz tick, retransmits unacked
// reliable frames, sends keep-alives, disconnects idle peers, and flushes
// each peer's queued S2C commands into outbound frames.
func (w *RoomWorker) Run(ctx context.Context) {
	w.inbox = make(chan inboundExecute, 1024)
	w.leaves = make(chan leaveEvent, 64)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drainOnShutdown()
			return
		case item := <-w.inbox:
			w.tracer.Trace(item.sender, item.cmd)
			w.exec.Execute(item.sender, item.frameID, item.cmd)
			if w.mtr != nil {
				w.mtr.CommandsApplied.WithLabelValues(item.cmd.Type.String()).Inc()
			}
		case ev := <-w.leaves:
			w.RemovePeer(ev.peer, ev.reason)
		case now := <-ticker.C:
			w.tick(now)
		}
	}
}

func (w *RoomWorker) tick(now time.Time) {
	w.mu.Lock()
	peers := make([]*Peer, 0, len(w.peers))
	for _, p := range w.peers {
		peers = append(peers, p)
	}
	w.mu.Unlock()

	for _, peer := range peers {
		if peer.Conn.ShouldTimeOut(now) {
			w.RemovePeer(peer, protocol.DisconnectTimeout)
			continue
		}
		for _, datagram := range peer.Conn.PendingRetransmits(now) {
			w.send(peer, datagram, true)
			if w.mtr != nil {
				w.mtr.Retransmits.Inc()
			}
		}
		w.flushOutbound(peer, now)
	}
}

// flushOutbound drains peer.Member.Outbound, encodes whatever is queued
// (up to outboundBatch commands, or a keep-alive frame with none) into one
// frame, and hands it to the I/O thread.
func (w *RoomWorker) flushOutbound(peer *Peer, now time.Time) {
	var batch []command.Command
	reliable := false
drain:
	for len(batch) < outboundBatch {
		select {
		case msg := <-peer.Member.Outbound:
			c := msg.Command
			if c.ChannelType == protocol.ChannelReliableSequence {
				c.Sequence = peer.Sender.NextSequence(c.ChannelGroup)
			}
			if c.ChannelType.Reliable() {
				reliable = true
			}
			batch = append(batch, c)
		default:
			break drain
		}
	}
	if len(batch) == 0 && !peer.Conn.NeedsKeepAlive(now) {
		return
	}

	enc := command.NewEncoder()
	body, err := enc.EncodeStream(batch)
	if err != nil {
		w.log.Error("encode outbound command stream", "member", peer.Member.ID, "err", err)
		return
	}

	frameID := peer.Conn.NextFrameID()
	headers := []wire.Header{{Tag: protocol.HeaderAck, Ack: wire.AckHeader{FrameIDs: peer.Conn.PendingAcks()}}}
	if peer.Conn.NeedsRTTProbe(now) {
		headers = append(headers, wire.Header{Tag: protocol.HeaderRoundTripTimeRequest, RTTRequestTimestamp: now.UnixNano()})
		peer.Conn.MarkRTTProbeSent(now)
	}
	frame := &wire.Frame{
		ConnectionID: uint64(peer.Member.ID),
		FrameID:      frameID,
		Reliable:     reliable,
		Headers:      headers,
		Body:         body,
	}
	datagram, err := wire.Encode(frame, peer.Conn.Key())
	if err != nil {
		w.log.Error("encode outbound frame", "member", peer.Member.ID, "err", err)
		return
	}
	if reliable {
		peer.Conn.TrackForRetransmit(frameID, datagram, now)
	}
	w.send(peer, datagram, reliable)
}

// drainOnShutdown gives every peer one last flush so a graceful shutdown
// doesn't strand commands queued right before the signal arrived.
func (w *RoomWorker) drainOnShutdown() {
	now := time.Now()
	w.mu.Lock()
	peers := make([]*Peer, 0, len(w.peers))
	for _, p := range w.peers {
		peers = append(peers, p)
	}
	w.mu.Unlock()
	for _, peer := range peers {
		w.flushOutbound(peer, now)
	}
}

// Server is the relay's single I/O thread: one blocking UDP socket shared by
// every room, routing inbound datagrams to the right RoomWorker and writing
// outbound datagrams handed back by them.
type Server struct {
	conn *net.UDPConn
	log  *slog.Logger
	mtr  *metrics.Metrics

	mu          sync.RWMutex
	peersByAddr map[string]*Peer
	rooms       map[RoomId]*RoomWorker
}

// NewServer returns a Server bound to conn.
func NewServer(conn *net.UDPConn, log *slog.Logger, mtr *metrics.Metrics) *Server {
	return &Server{
		conn:        conn,
		log:         log,
		mtr:         mtr,
		peersByAddr: make(map[string]*Peer),
		rooms:       make(map[RoomId]*RoomWorker),
	}
}

// AddRoom registers a room worker and starts its goroutine.
func (s *Server) AddRoom(ctx context.Context, id RoomId, w *RoomWorker) {
	s.mu.Lock()
	s.rooms[id] = w
	s.mu.Unlock()
	if s.mtr != nil {
		s.mtr.RoomsActive.Inc()
	}
	go w.Run(ctx)
}

// RegisterPeer binds peer's address so inbound datagrams from it route to
// its room. Must be called (out of band — e.g. from a join/provisioning
// flow not modeled here) before the peer's first datagram arrives.
func (s *Server) RegisterPeer(peer *Peer) {
	s.mu.Lock()
	s.peersByAddr[peer.Addr.String()] = peer
	s.mu.Unlock()
}

func (s *Server) roomFor(id RoomId) (*RoomWorker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.rooms[id]
	return w, ok
}

// Run blocks reading datagrams off the socket until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("udp read", "err", err)
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		if s.mtr != nil {
			s.mtr.BytesReceived.Add(float64(n))
		}
		s.handleDatagram(datagram, addr)
	}
}

func (s *Server) handleDatagram(datagram []byte, addr *net.UDPAddr) {
	s.mu.RLock()
	peer, ok := s.peersByAddr[addr.String()]
	s.mu.RUnlock()
	if !ok {
		routing, found, err := wire.PeekRouting(datagram)
		if err != nil || !found {
			s.log.Warn("datagram from unrecognized address dropped", "addr", addr)
			return
		}
		s.log.Warn("datagram claims unregistered member", "room", routing.RoomID, "member", routing.MemberID, "addr", addr)
		return
	}

	frame, err := wire.Decode(datagram, peer.Conn.Key())
	if err != nil {
		if s.mtr != nil {
			s.mtr.FramesDropped.WithLabelValues(kindLabel(err)).Inc()
		}
		return
	}
	now := time.Now()
	peer.Conn.MarkConnected()

	if dup := peer.Conn.ObserveInbound(frame.FrameID, now); dup {
		if s.mtr != nil {
			s.mtr.DuplicateFrames.Inc()
		}
		return
	}
	if s.mtr != nil {
		s.mtr.FramesReceived.WithLabelValues(boolLabel(frame.Reliable)).Inc()
	}

	if ack, ok := frame.HasHeader(protocol.HeaderAck); ok {
		peer.Conn.Ack(ack.Ack.FrameIDs, now)
	}
	if req, ok := frame.HasHeader(protocol.HeaderRoundTripTimeRequest); ok {
		s.echoRTT(peer, req.RTTRequestTimestamp)
	}
	if resp, ok := frame.HasHeader(protocol.HeaderRoundTripTimeResponse); ok {
		peer.Conn.ObserveRTTEcho(resp.RTTResponseTimestamp, now)
		if s.mtr != nil {
			s.mtr.RoundTripTime.Observe(peer.Conn.SmoothedRTT().Seconds())
		}
	}
	if dr, ok := frame.HasHeader(protocol.HeaderDisconnect); ok {
		if w, ok := s.roomFor(peer.RoomID); ok {
			w.Leave(peer, dr.DisconnectReason)
		}
		s.mu.Lock()
		delete(s.peersByAddr, addr.String())
		s.mu.Unlock()
		return
	}

	w, ok := s.roomFor(peer.RoomID)
	if !ok {
		return
	}

	// A malformed command stream or a reorder-buffer overflow is a
	// protocol-layer integrity failure: the peer's connection is closed.
	closeForProtocolError := func() {
		w.Leave(peer, protocol.DisconnectProtocolError)
		s.mu.Lock()
		delete(s.peersByAddr, addr.String())
		s.mu.Unlock()
	}

	dec := command.NewDecoder()
	cmds, err := dec.DecodeStream(frame.Body)
	if err != nil {
		s.log.Warn("decode command stream", "member", peer.Member.ID, "err", err)
		closeForProtocolError()
		return
	}
	for _, c := range cmds {
		ready, err := peer.Receiver.Accept(frame.FrameID, c)
		if err != nil {
			s.log.Warn("channel reassembly", "member", peer.Member.ID, "err", err)
			if s.mtr != nil {
				s.mtr.ChannelOverflows.WithLabelValues(strconv.Itoa(int(c.ChannelGroup))).Inc()
			}
			closeForProtocolError()
			return
		}
		for _, rc := range ready {
			w.Deliver(peer.Member.ID, frame.FrameID, rc)
		}
	}
}

// echoRTT replies to a RoundTripTimeRequest with the matching Response,
// carrying the same timestamp back so the sender can measure elapsed time.
// Built and sent directly from the I/O thread: it touches only the
// connection's frame-id counter, not room state.
func (s *Server) echoRTT(peer *Peer, requestTimestamp int64) {
	frame := &wire.Frame{
		ConnectionID: uint64(peer.Member.ID),
		FrameID:      peer.Conn.NextFrameID(),
		Headers:      []wire.Header{{Tag: protocol.HeaderRoundTripTimeResponse, RTTResponseTimestamp: requestTimestamp}},
	}
	datagram, err := wire.Encode(frame, peer.Conn.Key())
	if err != nil {
		s.log.Error("encode rtt echo", "member", peer.Member.ID, "err", err)
		return
	}
	s.sendTo(peer, datagram, false)
}

// sendTo writes datagram to peer's address, honoring its circuit breaker and
// feeding send/failure counters back into it.
func (s *Server) sendTo(peer *Peer, datagram []byte, reliable bool) {
	if peer.health.shouldSkip() {
		if s.mtr != nil {
			s.mtr.FramesDropped.WithLabelValues("circuit_open").Inc()
		}
		return
	}
	_, err := s.conn.WriteToUDP(datagram, peer.Addr)
	if err != nil {
		n := peer.health.recordFailure()
		if n == sendCircuitBreakerThreshold {
			s.log.Warn("circuit breaker open for peer", "member", peer.Member.ID, "failures", n)
		}
		return
	}
	peer.health.recordSuccess()
	if s.mtr != nil {
		s.mtr.FramesSent.WithLabelValues(boolLabel(reliable)).Inc()
		s.mtr.BytesSent.Add(float64(len(datagram)))
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func kindLabel(err error) string {
	if re, ok := err.(*protocol.RelayError); ok {
		return re.Kind.String()
	}
	return "unknown"
}
