package protocol

import "fmt"

// ErrorKind is the closed set of error kinds the relay can report.
// Each variant is a distinct failure mode; no string-matched variants.
type ErrorKind uint8

const (
	ErrDecryptFailure ErrorKind = iota
	ErrDecodeFailure
	ErrDuplicateFrame
	ErrChannelOverflow
	ErrMemberNotFound
	ErrObjectNotFound
	ErrAccessDenied
	ErrForwardedPermissionDenied
	ErrTimeout
	ErrRoomOrMemberDeleted
)

func (k ErrorKind) String() string {
	names := [...]string{
		"decrypt_failure", "decode_failure", "duplicate_frame", "channel_overflow",
		"member_not_found", "object_not_found", "access_denied",
		"forwarded_permission_denied", "timeout", "room_or_member_deleted",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// FatalToConnection reports whether an error of this kind must close the
// connection (protocol-layer integrity failure) as opposed to being silently
// recovered (a command-layer rejection).
func (k ErrorKind) FatalToConnection() bool {
	switch k {
	case ErrDecodeFailure, ErrChannelOverflow, ErrTimeout, ErrRoomOrMemberDeleted:
		return true
	default:
		return false
	}
}

// RelayError is the single error type used across the relay. It carries a
// closed Kind plus a free-form message for logs; callers should switch on
// Kind, never on the message string.
type RelayError struct {
	Kind ErrorKind
	Op   string // the operation that failed, e.g. "wire.Decode"
	Err  error  // wrapped cause, may be nil
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *RelayError) Unwrap() error { return e.Err }

// NewError constructs a RelayError.
func NewError(kind ErrorKind, op string, err error) *RelayError {
	return &RelayError{Kind: kind, Op: op, Err: err}
}
