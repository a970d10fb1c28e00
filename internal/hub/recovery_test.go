package hub

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/hublink/internal/link"
	"github.com/danmuck/hublink/internal/testutil/testlog"
	"github.com/danmuck/hublink/internal/transport/transporttest"
)

func TestRecoveryRestoresTopology(t *testing.T) {
	testlog.Start(t)
	c, broker := connectedClient(t)
	ctx := context.Background()

	if err := c.AttachSender(ctx, "s1", "/a", time.Second); err != nil {
		t.Fatalf("attach s1: %v", err)
	}
	if err := c.AttachReceiver(ctx, "r1", "/b", time.Second); err != nil {
		t.Fatalf("attach r1: %v", err)
	}
	before := c.Status()
	oldHandle, _ := c.registry.ReceiverHandle("r1")

	if err := c.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if failures := c.ReattachSenderLinks(ctx); len(failures) != 0 {
		t.Fatalf("sender reattach failures=%v", failures)
	}
	if failures := c.ReattachReceiverLinks(ctx); len(failures) != 0 {
		t.Fatalf("receiver reattach failures=%v", failures)
	}

	after := c.Status()
	if !reflect.DeepEqual(before.Senders, after.Senders) {
		t.Fatalf("senders changed before=%v after=%v", before.Senders, after.Senders)
	}
	if !reflect.DeepEqual(before.Receivers, after.Receivers) {
		t.Fatalf("receivers changed before=%v after=%v", before.Receivers, after.Receivers)
	}
	newHandle, ok := c.registry.ReceiverHandle("r1")
	if !ok || newHandle == oldHandle {
		t.Fatalf("receiver handle must change old=%d new=%d ok=%v", oldHandle, newHandle, ok)
	}
	if credit, ok := c.ReceiverCredit("r1"); !ok || credit != 360 {
		t.Fatalf("credit after recovery=%d ok=%v", credit, ok)
	}
	if broker.Dials() != 2 {
		t.Fatalf("unexpected dials=%d", broker.Dials())
	}
	if err := c.Send(ctx, "s1", []byte(`{"ok":true}`), time.Second); err != nil {
		t.Fatalf("send after recovery: %v", err)
	}
}

func TestRecoverWhenDisconnectedOnlyConnects(t *testing.T) {
	testlog.Start(t)
	broker := transporttest.NewBroker()
	c, _ := newTestClient(t, broker)
	if err := c.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !c.Connected() || broker.Dials() != 1 {
		t.Fatalf("connected=%v dials=%d", c.Connected(), broker.Dials())
	}
}

func TestRecoverRenewsCredential(t *testing.T) {
	testlog.Start(t)
	broker := transporttest.NewBroker()
	c, clock := newTestClient(t, broker)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	clock.Advance(time.Hour)

	if err := c.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	want := time.Unix(1700000000+3600+86400, 0).UTC()
	if got := c.Credential().ExpiresAt; !got.Equal(want) {
		t.Fatalf("credential expiry got=%v want=%v", got, want)
	}
	if !strings.Contains(broker.LastOptions().Password, "se=1700090000") {
		t.Fatalf("reconnect used stale token=%q", broker.LastOptions().Password)
	}
}

func TestRecoverDisconnectFailureIsReturned(t *testing.T) {
	testlog.Start(t)
	c, broker := connectedClient(t)
	broker.HangSessionClose(true)

	err := c.Recover(context.Background())
	if !errors.Is(err, ErrDisconnectFailure) {
		t.Fatalf("expected ErrDisconnectFailure, got %v", err)
	}
	if c.Connected() {
		t.Fatalf("failed disconnect must discard the session")
	}

	broker.HangSessionClose(false)
	if err := c.Recover(context.Background()); err != nil {
		t.Fatalf("second recover: %v", err)
	}
	if !c.Connected() || broker.Dials() != 2 {
		t.Fatalf("connected=%v dials=%d", c.Connected(), broker.Dials())
	}
}

func TestRecoverReturnsConnectError(t *testing.T) {
	testlog.Start(t)
	c, broker := connectedClient(t)
	broker.RejectAuth(errors.New("sasl: unauthorized"))

	if err := c.Recover(context.Background()); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
	if c.Connected() {
		t.Fatalf("client must be disconnected after failed recovery")
	}
}

func TestRecoverAllAfterServiceDrop(t *testing.T) {
	testlog.Start(t)
	c, broker := connectedClient(t)
	ctx := context.Background()
	if err := c.AttachSender(ctx, "s1", "/a", time.Second); err != nil {
		t.Fatalf("attach s1: %v", err)
	}
	if err := c.AttachReceiver(ctx, "r1", "/b", time.Second); err != nil {
		t.Fatalf("attach r1: %v", err)
	}

	broker.Kill(errors.New("connection reset"))
	if err := c.AwaitSessionHealth(ctx, time.Second); err == nil {
		t.Fatalf("expected a session fault after drop")
	}

	report, err := c.RecoverAll(ctx)
	if err != nil {
		t.Fatalf("recover all: %v", err)
	}
	if !report.OK() || report.Err() != nil {
		t.Fatalf("unexpected report=%+v", report)
	}
	if err := c.AwaitSessionHealth(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("recovered session unhealthy: %v", err)
	}
	if err := c.Send(ctx, "s1", []byte("{}"), time.Second); err != nil {
		t.Fatalf("send after recover all: %v", err)
	}
}

func TestReattachFailuresAreReportedAndKept(t *testing.T) {
	testlog.Start(t)
	c, broker := connectedClient(t)
	ctx := context.Background()
	for _, name := range []string{"s1", "s2"} {
		if err := c.AttachSender(ctx, name, "/"+name, time.Second); err != nil {
			t.Fatalf("attach %s: %v", name, err)
		}
	}
	if err := c.AttachReceiver(ctx, "r1", "/r1", time.Second); err != nil {
		t.Fatalf("attach r1: %v", err)
	}

	broker.FailSenderAttach("s2", errors.New("amqp:unauthorized-access"))
	broker.HangReceiverAttach("r1", true)
	report, err := c.RecoverAll(ctx)
	if err != nil {
		t.Fatalf("recover all: %v", err)
	}
	if len(report.SenderFailures) != 1 || report.SenderFailures[0].Record.Name != "s2" {
		t.Fatalf("unexpected sender failures=%v", report.SenderFailures)
	}
	if !errors.Is(report.SenderFailures[0], ErrLinkCreateFailure) {
		t.Fatalf("unexpected sender failure cause=%v", report.SenderFailures[0].Err)
	}
	if len(report.ReceiverFailures) != 1 || !errors.Is(report.ReceiverFailures[0], ErrTimeout) {
		t.Fatalf("unexpected receiver failures=%v", report.ReceiverFailures)
	}
	if !errors.Is(report.Err(), ErrLinkCreateFailure) || !errors.Is(report.Err(), ErrTimeout) {
		t.Fatalf("joined error lost causes: %v", report.Err())
	}

	senders, receivers := c.registry.Len()
	if senders != 2 || receivers != 1 {
		t.Fatalf("failed records must be kept senders=%d receivers=%d", senders, receivers)
	}
	if _, ok := c.registry.ReceiverHandle("r1"); ok {
		t.Fatalf("failed receiver must not keep a handle")
	}
	if err := c.Send(ctx, "s2", []byte("{}"), time.Second); !errors.Is(err, ErrLinkDetached) {
		t.Fatalf("expected ErrLinkDetached for unrestored sender, got %v", err)
	}

	broker.FailSenderAttach("s2", nil)
	broker.HangReceiverAttach("r1", false)
	if failures := c.ReattachSenderLinks(ctx); len(failures) != 0 {
		t.Fatalf("retry sender failures=%v", failures)
	}
	if failures := c.ReattachReceiverLinks(ctx); len(failures) != 0 {
		t.Fatalf("retry receiver failures=%v", failures)
	}
	if err := c.Send(ctx, "s2", []byte("{}"), time.Second); err != nil {
		t.Fatalf("send after retry: %v", err)
	}
	if got := c.Status().Receivers; len(got) != 1 || got[0] != (link.Record{Name: "r1", Address: "/r1", Direction: link.DirectionReceive}) {
		t.Fatalf("unexpected receivers=%v", got)
	}
}

func TestReattachReceiversWithoutRecoverReplacesHandles(t *testing.T) {
	testlog.Start(t)
	c, broker := connectedClient(t)
	ctx := context.Background()
	if err := c.AttachReceiver(ctx, "r1", "/r1", time.Second); err != nil {
		t.Fatalf("attach r1: %v", err)
	}
	old, _ := c.registry.ReceiverHandle("r1")
	if failures := c.ReattachReceiverLinks(ctx); len(failures) != 0 {
		t.Fatalf("reattach failures=%v", failures)
	}
	h, ok := c.registry.ReceiverHandle("r1")
	if !ok || h == old {
		t.Fatalf("handle must be replaced old=%d new=%d", old, h)
	}
	if got := len(broker.Receivers()); got != 2 {
		t.Fatalf("unexpected receiver attaches=%d", got)
	}
	if _, err := c.ReceiveNext(ctx, "r1", 10*time.Millisecond); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("expected ErrNoMessage on replaced receiver, got %v", err)
	}
}

func TestRecoverAfterDropReconnectsOnFirstPass(t *testing.T) {
	testlog.Start(t)
	c, broker := connectedClient(t)
	ctx := context.Background()
	if err := c.AttachSender(ctx, "s1", "/a", time.Second); err != nil {
		t.Fatalf("attach s1: %v", err)
	}

	// No AwaitSessionHealth here: recovery must not depend on the watcher
	// having seen the drop first.
	broker.Kill(errors.New("connection reset by peer"))
	report, err := c.RecoverAll(ctx)
	if err != nil {
		t.Fatalf("recover all: %v", err)
	}
	if !report.OK() {
		t.Fatalf("unexpected report=%+v", report)
	}
	if !c.Connected() || broker.Dials() != 2 {
		t.Fatalf("connected=%v dials=%d", c.Connected(), broker.Dials())
	}
	if err := c.Send(ctx, "s1", []byte("{}"), time.Second); err != nil {
		t.Fatalf("send after recover: %v", err)
	}
}
