// Package wire implements the frame codec: the framing, compression, and
// AEAD encryption layer that turns a UDP datagram into an authenticated
// Frame, and back.
package wire

import (
	"github.com/pierrec/lz4/v4"

	"github.com/coldirongames/relay/internal/protocol"
)

// protocolVersion is the only version this codec understands — encoded in
// the high bit of the reliability byte.
const protocolVersion = 0

const reliableFlagBit = 1 << 0

// Encode serializes a Frame to a single UDP datagram: an authenticated
// cleartext prefix followed by an AEAD-sealed, LZ4-compressed body.
func Encode(f *Frame, key MemberPrivateKey) ([]byte, error) {
	prefix := make([]byte, 0, 32)
	prefix = appendVarint(prefix, f.ConnectionID)
	prefix = appendVarint(prefix, f.FrameID)

	var relByte byte
	if f.Reliable {
		relByte |= reliableFlagBit
	}
	prefix = append(prefix, relByte)

	if len(f.Headers) > 255 {
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "wire.Encode", errBufferCap)
	}
	prefix = append(prefix, byte(len(f.Headers)))
	for _, h := range f.Headers {
		var err error
		prefix, err = encodeHeader(prefix, h)
		if err != nil {
			return nil, err
		}
	}

	// f.Body already begins with the commands_count byte — see the command
	// package, which packs that prefix when it builds a frame's body.
	plain := f.Body

	bound := lz4.CompressBlockBound(len(plain))
	compressed := make([]byte, bound)
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(plain, compressed)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "wire.Encode.compress", err)
	}
	compressed = compressed[:n]
	// lz4 returns n==0 when the input is incompressible; store raw in that case.
	stored := compressed
	storedIsRaw := n == 0
	if storedIsRaw {
		stored = plain
	}

	toEncrypt := make([]byte, 0, len(stored)+10+1)
	toEncrypt = appendVarint(toEncrypt, uint64(len(plain)))
	if storedIsRaw {
		toEncrypt = append(toEncrypt, 0)
	} else {
		toEncrypt = append(toEncrypt, 1)
	}
	toEncrypt = append(toEncrypt, stored...)

	if len(toEncrypt) > protocol.MaxScratchSize {
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "wire.Encode", errBufferCap)
	}

	ciphertext, err := seal(key, f.FrameID, prefix, toEncrypt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(prefix)+len(ciphertext))
	out = append(out, prefix...)
	out = append(out, ciphertext...)
	return out, nil
}

// cleartextPrefix holds the fields readable from a datagram without the
// AEAD key: everything up through the header list. Decode uses it to build
// the associated data before authenticating; PeekRouting exposes the same
// parse to callers that need to find a connection's key before they can
// call Decode.
type cleartextPrefix struct {
	connID     uint64
	frameID    uint64
	reliable   bool
	headers    []Header
	ciphertext []byte // the remaining, still-encrypted tail of the datagram
}

func parseCleartextPrefix(datagram []byte) (cleartextPrefix, error) {
	rest := datagram
	connID, n, ok := consumeVarint(rest)
	if !ok {
		return cleartextPrefix{}, protocol.NewError(protocol.ErrDecodeFailure, "wire.parseCleartextPrefix", errVarintOverflow)
	}
	rest = rest[n:]

	frameID, n, ok := consumeVarint(rest)
	if !ok {
		return cleartextPrefix{}, protocol.NewError(protocol.ErrDecodeFailure, "wire.parseCleartextPrefix", errVarintOverflow)
	}
	rest = rest[n:]

	if len(rest) < 2 {
		return cleartextPrefix{}, protocol.NewError(protocol.ErrDecodeFailure, "wire.parseCleartextPrefix", errTruncated)
	}
	relByte := rest[0]
	if relByte&0x80 != 0 {
		return cleartextPrefix{}, protocol.NewError(protocol.ErrDecodeFailure, "wire.parseCleartextPrefix", errProtocolMismatch)
	}
	reliable := relByte&reliableFlagBit != 0
	headerCount := int(rest[1])
	rest = rest[2:]

	headers := make([]Header, 0, headerCount)
	for i := 0; i < headerCount; i++ {
		h, consumed, err := decodeHeader(rest)
		if err != nil {
			return cleartextPrefix{}, err
		}
		headers = append(headers, h)
		rest = rest[consumed:]
	}

	return cleartextPrefix{connID: connID, frameID: frameID, reliable: reliable, headers: headers, ciphertext: rest}, nil
}

// PeekRouting parses the unencrypted prefix of a datagram far enough to
// recover its MemberAndRoomId header, without needing the AEAD key — used to
// look up which connection (and key) should decode the rest of the frame.
func PeekRouting(datagram []byte) (MemberAndRoomId, bool, error) {
	p, err := parseCleartextPrefix(datagram)
	if err != nil {
		return MemberAndRoomId{}, false, err
	}
	for _, h := range p.headers {
		if h.Tag == protocol.HeaderMemberAndRoomId {
			return h.MemberAndRoomID, true, nil
		}
	}
	return MemberAndRoomId{}, false, nil
}

// Decode parses and authenticates a UDP datagram into a Frame. Any failure —
// varint overflow, truncated buffer, AEAD mismatch, oversize decompression,
// or an unknown header tag — is reported as a *protocol.RelayError and the
// caller (the reliability engine) must drop the frame (or, for decode
// failures that are not auth failures, close the connection).
func Decode(datagram []byte, key MemberPrivateKey) (*Frame, error) {
	p, err := parseCleartextPrefix(datagram)
	if err != nil {
		return nil, err
	}
	connID, frameID, reliable, headers, rest := p.connID, p.frameID, p.reliable, p.headers, p.ciphertext

	// ad is the full cleartext prefix: connection_id .. the last header byte.
	ad := datagram[:len(datagram)-len(rest)]

	plainWrapped, err := open(key, frameID, ad, rest)
	if err != nil {
		return nil, err
	}

	uncompLen, n, ok := consumeVarint(plainWrapped)
	if !ok {
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "wire.Decode", errVarintOverflow)
	}
	if uncompLen > protocol.MaxScratchSize {
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "wire.Decode", errDecompressedSize)
	}
	plainWrapped = plainWrapped[n:]
	if len(plainWrapped) < 1 {
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "wire.Decode", errTruncated)
	}
	isRaw := plainWrapped[0] == 0
	stored := plainWrapped[1:]

	var body []byte
	if isRaw {
		body = stored
	} else {
		body = make([]byte, uncompLen)
		nn, err := lz4.UncompressBlock(stored, body)
		if err != nil {
			return nil, protocol.NewError(protocol.ErrDecodeFailure, "wire.Decode.decompress", err)
		}
		if uint64(nn) != uncompLen {
			return nil, protocol.NewError(protocol.ErrDecodeFailure, "wire.Decode", errDecompressedSize)
		}
	}

	return &Frame{
		ConnectionID: connID,
		FrameID:      frameID,
		Reliable:     reliable,
		Headers:      headers,
		Body:         body,
	}, nil
}

func encodeHeader(b []byte, h Header) ([]byte, error) {
	b = append(b, byte(h.Tag))
	switch h.Tag {
	case protocol.HeaderMemberAndRoomId:
		b = appendVarint(b, h.MemberAndRoomID.RoomID)
		b = appendVarint(b, uint64(h.MemberAndRoomID.MemberID))
	case protocol.HeaderAck:
		if len(h.Ack.FrameIDs) > protocol.AckWindowSize {
			return nil, protocol.NewError(protocol.ErrDecodeFailure, "wire.encodeHeader", errBufferCap)
		}
		b = append(b, byte(len(h.Ack.FrameIDs)))
		for _, id := range h.Ack.FrameIDs {
			b = appendVarint(b, id)
		}
	case protocol.HeaderDisconnect:
		b = append(b, byte(h.DisconnectReason))
	case protocol.HeaderRoundTripTimeRequest:
		b = appendVarint(b, uint64(h.RTTRequestTimestamp))
	case protocol.HeaderRoundTripTimeResponse:
		b = appendVarint(b, uint64(h.RTTResponseTimestamp))
	case protocol.HeaderRetransmit:
		b = appendVarint(b, h.Retransmit.OriginalFrameID)
	case protocol.HeaderHello:
		// no payload
	default:
		return nil, protocol.NewError(protocol.ErrDecodeFailure, "wire.encodeHeader", errUnknownHeaderTag)
	}
	return b, nil
}

func decodeHeader(b []byte) (Header, int, error) {
	if len(b) < 1 {
		return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errTruncated)
	}
	tag := protocol.HeaderTag(b[0])
	rest := b[1:]
	consumed := 1

	switch tag {
	case protocol.HeaderMemberAndRoomId:
		roomID, n, ok := consumeVarint(rest)
		if !ok {
			return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errVarintOverflow)
		}
		rest = rest[n:]
		consumed += n
		memberID, n, ok := consumeVarint(rest)
		if !ok {
			return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errVarintOverflow)
		}
		consumed += n
		return Header{Tag: tag, MemberAndRoomID: MemberAndRoomId{RoomID: roomID, MemberID: protocol.RoomMemberId(memberID)}}, consumed, nil

	case protocol.HeaderAck:
		if len(rest) < 1 {
			return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errTruncated)
		}
		count := int(rest[0])
		rest = rest[1:]
		consumed++
		if count > protocol.AckWindowSize {
			return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errBufferCap)
		}
		ids := make([]uint64, 0, count)
		for i := 0; i < count; i++ {
			id, n, ok := consumeVarint(rest)
			if !ok {
				return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errVarintOverflow)
			}
			ids = append(ids, id)
			rest = rest[n:]
			consumed += n
		}
		return Header{Tag: tag, Ack: AckHeader{FrameIDs: ids}}, consumed, nil

	case protocol.HeaderDisconnect:
		if len(rest) < 1 {
			return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errTruncated)
		}
		return Header{Tag: tag, DisconnectReason: protocol.DisconnectReason(rest[0])}, consumed + 1, nil

	case protocol.HeaderRoundTripTimeRequest:
		ts, n, ok := consumeVarint(rest)
		if !ok {
			return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errVarintOverflow)
		}
		return Header{Tag: tag, RTTRequestTimestamp: int64(ts)}, consumed + n, nil

	case protocol.HeaderRoundTripTimeResponse:
		ts, n, ok := consumeVarint(rest)
		if !ok {
			return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errVarintOverflow)
		}
		return Header{Tag: tag, RTTResponseTimestamp: int64(ts)}, consumed + n, nil

	case protocol.HeaderRetransmit:
		id, n, ok := consumeVarint(rest)
		if !ok {
			return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errVarintOverflow)
		}
		return Header{Tag: tag, Retransmit: RetransmitInfo{OriginalFrameID: id}}, consumed + n, nil

	case protocol.HeaderHello:
		return Header{Tag: tag}, consumed, nil

	default:
		return Header{}, 0, protocol.NewError(protocol.ErrDecodeFailure, "wire.decodeHeader", errUnknownHeaderTag)
	}
}
