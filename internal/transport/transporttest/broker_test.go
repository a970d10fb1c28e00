package transporttest

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/hublink/internal/testutil/testlog"
	"github.com/danmuck/hublink/internal/transport"
)

func TestSessionCloseAfterKillReportsConnectionError(t *testing.T) {
	testlog.Start(t)
	b := NewBroker()
	ctx := context.Background()
	conn, err := b.Dial(ctx, "amqps://h", transport.ConnOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	session, err := conn.NewSession(ctx)
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	reset := errors.New("connection reset by peer")
	b.Kill(reset)
	if err := session.Close(ctx); !errors.Is(err, reset) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if err := conn.Close(); !errors.Is(err, reset) {
		t.Fatalf("expected connection error from close, got %v", err)
	}
}

func TestSessionCloseOnLiveConnection(t *testing.T) {
	testlog.Start(t)
	b := NewBroker()
	ctx := context.Background()
	conn, err := b.Dial(ctx, "amqps://h", transport.ConnOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	session, err := conn.NewSession(ctx)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := session.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("conn close: %v", err)
	}
	if err := session.Close(ctx); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("expected ErrLinkClosed after conn close, got %v", err)
	}
}
