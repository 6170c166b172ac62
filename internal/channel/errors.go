package channel

import "errors"

var errReorderBufferFull = errors.New("reorder buffer exceeds capacity")
