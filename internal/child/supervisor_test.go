package child

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// echoScript reads lines from stdin and writes them back until EOF.
const echoScript = `while IFS= read -r line; do echo "$line"; done`

func TestSupervisor_SpawnSendSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup := New("/bin/sh", []string{"-c", echoScript}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Spawn(ctx, nil, nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ch, unsub := sup.Subscribe()
	defer unsub()

	if err := sup.Send([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Method() != "ping" {
			t.Fatalf("expected echoed ping, got %q", msg.Method())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}

	if !sup.IsAlive() {
		t.Fatal("expected child to be alive")
	}

	if err := sup.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if sup.IsAlive() {
		t.Fatal("expected child to be dead after shutdown")
	}
}

func TestSupervisor_RestartRebuildsChild(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup := New("/bin/sh", []string{"-c", echoScript}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Spawn(ctx, nil, nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ch, unsub := sup.Subscribe()

	if err := sup.Restart(ctx, nil, map[string]string{"K": "V"}); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	// The old subscriber channel must observe end-of-stream from the old child.
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected old subscriber channel to be closed after restart")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for old subscriber to close")
	}
	unsub()

	if !sup.IsAlive() {
		t.Fatal("expected new child to be alive after restart")
	}

	newCh, unsub2 := sup.Subscribe()
	defer unsub2()
	if err := sup.Send([]byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)); err != nil {
		t.Fatalf("Send on new child: %v", err)
	}
	select {
	case msg := <-newCh:
		if msg.Method() != "ping" {
			t.Fatalf("expected echoed ping from new child, got %q", msg.Method())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for new child's echo")
	}

	_ = sup.Shutdown()
}

func TestSupervisor_SendBeforeSpawnFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup := New("/bin/sh", []string{"-c", echoScript}, discardLogger())
	if err := sup.Send([]byte(`{}`)); err != ErrNotAlive {
		t.Fatalf("expected ErrNotAlive, got %v", err)
	}
}

func TestSupervisor_DoubleSpawnFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup := New("/bin/sh", []string{"-c", echoScript}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Spawn(ctx, nil, nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer sup.Shutdown()

	if err := sup.Spawn(ctx, nil, nil); err != ErrAlreadySpawned {
		t.Fatalf("expected ErrAlreadySpawned, got %v", err)
	}
}
