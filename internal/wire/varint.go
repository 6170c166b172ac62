package wire

import "github.com/coldirongames/relay/internal/varint"

func appendVarint(b []byte, v uint64) []byte { return varint.Append(b, v) }

func consumeVarint(b []byte) (v uint64, n int, ok bool) {
	v, n, err := varint.Consume(b)
	return v, n, err == nil
}
