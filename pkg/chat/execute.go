package chat

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/events"
)

// ExecOpFunc runs one allow-listed client operation on behalf of the
// backend. The returned value travels back through the prompt
// acknowledgement channel.
type ExecOpFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ExecRegistry maps operation names to their handlers. There is no dynamic
// evaluation: an op the client never registered is logged and dropped, and
// its request is never acknowledged.
type ExecRegistry struct {
	ops map[string]ExecOpFunc
}

func NewExecRegistry() *ExecRegistry {
	return &ExecRegistry{ops: map[string]ExecOpFunc{}}
}

// Register adds a named operation. Re-registering a name replaces the
// previous handler.
func (r *ExecRegistry) Register(op string, fn ExecOpFunc) {
	r.ops[op] = fn
}

func (r *ExecRegistry) lookup(op string) (ExecOpFunc, bool) {
	fn, ok := r.ops[op]
	return fn, ok
}

// runExecuteOp dispatches one execute event through the registry. Runs
// outside the session lock so a slow op never stalls event handling.
func (s *SessionContext) runExecuteOp(ev *events.EventExecute) {
	fn, ok := s.execOps.lookup(ev.Op)
	if !ok {
		log.Warn().
			Str("op", ev.Op).
			Str("request_id", ev.RequestID).
			Msg("execute request for unregistered operation")
		return
	}

	result, err := fn(context.Background(), ev.Args)
	if err != nil {
		log.Warn().Err(err).
			Str("op", ev.Op).
			Str("request_id", ev.RequestID).
			Msg("execute operation failed")
		return
	}

	if ev.RequestID != "" {
		_ = s.ackPrompt(context.Background(), ev.RequestID, result)
	}
}
