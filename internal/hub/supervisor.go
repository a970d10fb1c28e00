package hub

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/hublink/internal/observability"
	"github.com/danmuck/hublink/internal/transport"
	"github.com/rs/zerolog"
)

// supervisor watches one connection and records how it ended. It exits when
// the connection ends or when the client tears the session down itself.
type supervisor struct {
	dead  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	fault *SessionFault

	stopOnce sync.Once
}

func startSupervisor(conn transport.Conn, identity string, logger zerolog.Logger) *supervisor {
	s := &supervisor{
		dead: make(chan struct{}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		select {
		case <-conn.Done():
			err := conn.Close()
			s.fault = &SessionFault{Kind: transport.Classify(err), Err: err}
			close(s.dead)
			observability.SetConnected(identity, false)
			observability.RecordSessionFault(identity, s.fault.Kind.String())
			logger.Warn().Err(err).Str("kind", s.fault.Kind.String()).Msg("hub.supervisor session ended by transport")
		case <-s.stop:
		}
	}()
	return s
}

// await returns the fault once the connection has ended, or nil after timeout.
func (s *supervisor) await(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.dead:
		return s.fault
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ended reports whether the transport has ended the connection, whether or
// not the watcher has recorded it yet.
func (s *supervisor) ended(conn transport.Conn) bool {
	select {
	case <-s.dead:
		return true
	case <-conn.Done():
		return true
	default:
		return false
	}
}

func (s *supervisor) shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
