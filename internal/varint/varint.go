// Package varint provides the variable-length integer encoding shared by the
// frame codec and the command codec: unsigned LEB128 varints (reusing
// protobuf's implementation, since this codebase already depends on
// google.golang.org/protobuf elsewhere), zig-zag signed varints, and
// length-prefixed byte buffers with a hard size cap.
package varint

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrOverflow is returned when a varint is malformed or would overflow.
var ErrOverflow = errors.New("varint overflow")

// ErrTruncated is returned when fewer bytes remain than a declared length.
var ErrTruncated = errors.New("truncated buffer")

// ErrCap is returned when a declared length exceeds a caller-supplied cap.
var ErrCap = errors.New("buffer exceeds cap")

// Append appends v as an unsigned LEB128 varint.
func Append(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

// Consume reads an unsigned varint from b.
func Consume(b []byte) (v uint64, n int, err error) {
	v, n = protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, ErrOverflow
	}
	return v, n, nil
}

// AppendZigzag appends a signed integer zig-zag-encoded as an unsigned
// varint, so small negative values stay compact.
func AppendZigzag(b []byte, v int64) []byte {
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

// ConsumeZigzag reads a zig-zag-encoded signed varint.
func ConsumeZigzag(b []byte) (v int64, n int, err error) {
	u, n, err := Consume(b)
	if err != nil {
		return 0, 0, err
	}
	return protowire.DecodeZigZag(u), n, nil
}

// AppendLengthPrefixed appends a varint length followed by data, rejecting
// buffers over cap.
func AppendLengthPrefixed(b []byte, data []byte, cap_ int) ([]byte, error) {
	if len(data) > cap_ {
		return nil, ErrCap
	}
	b = Append(b, uint64(len(data)))
	return append(b, data...), nil
}

// ConsumeLengthPrefixed reads a varint length then that many bytes from b.
func ConsumeLengthPrefixed(b []byte, cap_ int) (data []byte, n int, err error) {
	l, ln, err := Consume(b)
	if err != nil {
		return nil, 0, err
	}
	if l > uint64(cap_) {
		return nil, 0, ErrCap
	}
	rest := b[ln:]
	if uint64(len(rest)) < l {
		return nil, 0, ErrTruncated
	}
	return rest[:l], ln + int(l), nil
}
