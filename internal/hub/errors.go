package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/hublink/internal/link"
	"github.com/danmuck/hublink/internal/transport"
)

var (
	ErrInvalidConfig = errors.New("hub: invalid config")

	// connect
	ErrAlreadyActive  = errors.New("hub: session already active")
	ErrAuthFailure    = errors.New("hub: authentication failed")
	ErrSessionFailure = errors.New("hub: session begin failed")

	// disconnect and links
	ErrNoSession         = errors.New("hub: no active session")
	ErrLinkAlreadyActive = errors.New("hub: link already active")
	ErrTimeout           = errors.New("hub: timed out")
	ErrLinkCreateFailure = errors.New("hub: link attach failed")

	// transfer
	ErrLinkDetached = errors.New("hub: link detached or does not exist")
	ErrProtocol     = errors.New("hub: protocol error")
	ErrNoMessage    = errors.New("hub: no message")

	// health and recovery
	ErrNoDispatcher      = errors.New("hub: no session dispatcher")
	ErrDisconnectFailure = errors.New("hub: disconnect failed during recovery")
)

// SessionFault reports why the connection behind a session ended.
type SessionFault struct {
	Kind transport.FaultKind
	Err  error
}

func (f *SessionFault) Error() string {
	if f.Err == nil {
		return "hub: session ended: " + f.Kind.String()
	}
	return fmt.Sprintf("hub: session ended: %s: %v", f.Kind, f.Err)
}

func (f *SessionFault) Unwrap() error {
	return f.Err
}

// LinkFailure is one record that could not be reattached. The record stays
// in the recovery set so the next pass retries it.
type LinkFailure struct {
	Record link.Record
	Err    error
}

func (f LinkFailure) Error() string {
	return fmt.Sprintf("hub: reattach %s link %q to %q: %v", f.Record.Direction, f.Record.Name, f.Record.Address, f.Err)
}

func (f LinkFailure) Unwrap() error {
	return f.Err
}

// opError maps a bounded transport call's error: deadline to ErrTimeout,
// caller cancellation passes through, anything else to fallback.
func opError(op string, err, fallback error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("hub: %s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %v", fallback, op, err)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNoMessage):
		return "no_message"
	case errors.Is(err, ErrLinkDetached), errors.Is(err, ErrNoSession):
		return "detached"
	default:
		return "error"
	}
}
