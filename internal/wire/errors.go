package wire

import "errors"

var (
	errVarintOverflow   = errors.New("varint overflow")
	errTruncated        = errors.New("truncated buffer")
	errAuthFailed       = errors.New("AEAD authentication failed")
	errDecompressedSize = errors.New("decompressed length exceeds scratch buffer")
	errUnknownHeaderTag = errors.New("unknown header tag")
	errBufferCap        = errors.New("buffer exceeds hard cap")
	errProtocolMismatch = errors.New("protocol version mismatch")
)
