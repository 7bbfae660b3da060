package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/supercorp-ai/supergateway/internal/child"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

const echoScript = `while IFS= read -r line; do echo "$line"; done`

func newEchoSupervisor(t *testing.T) (*child.Supervisor, context.CancelFunc) {
	t.Helper()
	sup := child.New("/bin/sh", []string{"-c", echoScript}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	if err := sup.Spawn(ctx, nil, nil); err != nil {
		cancel()
		t.Fatalf("spawn echo child: %v", err)
	}
	return sup, cancel
}

func TestGenerateID_Is32HexChars(t *testing.T) {
	id, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID: %v", err)
	}
	if len(id) != 32 {
		t.Fatalf("expected 32 hex chars (128 bits), got %d: %q", len(id), id)
	}
}

func TestAcquireRelease_IdleInvariant(t *testing.T) {
	sess := newSession("s1", nil)

	if _, idle := sess.idleExpiry(); !idle {
		t.Fatal("expected new session to start idle")
	}

	release := sess.Acquire()
	if _, idle := sess.idleExpiry(); idle {
		t.Fatal("expected session to be non-idle while leased")
	}

	release()
	if _, idle := sess.idleExpiry(); !idle {
		t.Fatal("expected session to become idle after release")
	}
}

func TestRegistry_CreateAndCorrelateResponse(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup, cancel := newEchoSupervisor(t)
	defer cancel()

	reg := New(time.Hour, discardLogger())
	defer reg.Shutdown()

	sess := reg.Create("sess1", sup)
	waiter := sess.RegisterPending("1")

	if err := sup.Send([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case res := <-waiter:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.Msg.RawIDKey() != "1" {
			t.Fatalf("unexpected correlated id: %v", res.Msg.RawIDKey())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for correlated response")
	}
}

func TestRegistry_UnmatchedMessageBecomesServerEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup, cancel := newEchoSupervisor(t)
	defer cancel()

	reg := New(time.Hour, discardLogger())
	defer reg.Shutdown()

	sess := reg.Create("sess1", sup)

	if err := sup.Send([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	msg, ok := sess.NextServerEvent(ctx)
	if !ok {
		t.Fatal("expected a server event")
	}
	if msg.Method() != "notifications/progress" {
		t.Fatalf("unexpected server event: %v", msg.Method())
	}
}

func TestRegistry_DeleteEvictsAndFailsPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup, cancel := newEchoSupervisor(t)
	defer cancel()

	reg := New(time.Hour, discardLogger())
	defer reg.Shutdown()

	sess := reg.Create("sess1", sup)
	waiter := sess.RegisterPending("1")

	if err := reg.Delete("sess1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	select {
	case res := <-waiter:
		if res.Err == nil {
			t.Fatal("expected transport error on evicted pending request")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for eviction error")
	}

	if _, ok := reg.Get("sess1"); ok {
		t.Fatal("expected session removed from registry")
	}

	if err := reg.Delete("sess1"); err != ErrUnknownSession {
		t.Fatalf("expected ErrUnknownSession on repeated delete, got %v", err)
	}
}

func TestRegistry_IdleReaperEvicts(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup, cancel := newEchoSupervisor(t)
	defer cancel()

	reg := New(50*time.Millisecond, discardLogger())
	defer reg.Shutdown()

	reg.Create("sess1", sup)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get("sess1"); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected idle session to be reaped")
}
