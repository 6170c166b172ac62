// Package trace gives each inbound command a short-lived correlation id so
// an operator can grep one id across every log line a single command
// produced, without threading a request-scoped context through the executor.
package trace

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/coldirongames/relay/internal/command"
	"github.com/coldirongames/relay/internal/protocol"
)

// CommandTracer mints and logs correlation ids for commands entering the
// room executor.
type CommandTracer struct {
	log *slog.Logger
}

// New returns a CommandTracer that logs through log.
func New(log *slog.Logger) *CommandTracer {
	return &CommandTracer{log: log}
}

// Trace logs sender and c under a fresh correlation id and returns it, for
// the caller to attach to whatever else it logs about this command.
func (t *CommandTracer) Trace(sender protocol.RoomMemberId, c command.Command) string {
	id := uuid.New().String()
	t.log.Debug("command traced", "trace_id", id, "member", sender, "command", c.Type.String())
	return id
}
