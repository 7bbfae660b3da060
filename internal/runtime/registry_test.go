package runtime

import "testing"

func strPtr(ss ...string) *[]string { return &ss }

func TestSetDefaults_HeadersOnlyPatchDoesNotRequireRestart(t *testing.T) {
	r := New(Patch{})
	kind := r.SetDefaults(Patch{Headers: map[string]string{"X-A": "1"}})
	if kind != HeadersOnly {
		t.Fatalf("expected HeadersOnly, got %v", kind)
	}
	snap := r.Defaults()
	if snap.Headers["X-A"] != "1" {
		t.Fatalf("expected header applied, got %v", snap.Headers)
	}
}

func TestSetDefaults_EnvChangeRequiresRestart(t *testing.T) {
	r := New(Patch{})
	kind := r.SetDefaults(Patch{Env: map[string]string{"K": "V"}})
	if kind != RequiresRestart {
		t.Fatalf("expected RequiresRestart, got %v", kind)
	}
}

func TestSetDefaults_RestatingSameEnvIsNotRestart(t *testing.T) {
	r := New(Patch{})
	if kind := r.SetDefaults(Patch{Env: map[string]string{"K": "V"}}); kind != RequiresRestart {
		t.Fatalf("first patch: expected RequiresRestart, got %v", kind)
	}
	// Same patch again: fingerprint is unchanged, so no restart should fire.
	if kind := r.SetDefaults(Patch{Env: map[string]string{"K": "V"}}); kind != HeadersOnly {
		t.Fatalf("repeat patch: expected HeadersOnly (no-op), got %v", kind)
	}
}

func TestSetDefaults_ExtraCLIArgsReplace(t *testing.T) {
	r := New(Patch{})
	r.SetDefaults(Patch{ExtraCLIArgs: strPtr("--a", "--b")})
	snap := r.Defaults()
	if len(snap.ExtraCLIArgs) != 2 || snap.ExtraCLIArgs[0] != "--a" {
		t.Fatalf("unexpected args: %v", snap.ExtraCLIArgs)
	}

	r.SetDefaults(Patch{ExtraCLIArgs: strPtr()})
	snap = r.Defaults()
	if len(snap.ExtraCLIArgs) != 0 {
		t.Fatalf("expected cleared args, got %v", snap.ExtraCLIArgs)
	}
}

func TestSession_OverridesWinOverDefaults(t *testing.T) {
	r := New(Patch{Headers: map[string]string{"X-A": "default", "X-B": "keep"}})
	r.SetSession("sess1", Patch{Headers: map[string]string{"X-A": "override"}})

	snap, ok := r.Session("sess1")
	if !ok {
		t.Fatal("expected session overrides to exist")
	}
	if snap.Headers["X-A"] != "override" {
		t.Fatalf("expected session header to win, got %v", snap.Headers)
	}
	if snap.Headers["X-B"] != "keep" {
		t.Fatalf("expected default header to survive, got %v", snap.Headers)
	}
}

func TestSession_UnknownSessionFallsBackToDefaults(t *testing.T) {
	r := New(Patch{Headers: map[string]string{"X-A": "default"}})
	snap, ok := r.Session("unknown")
	if ok {
		t.Fatal("expected ok=false for unknown session")
	}
	if snap.Headers["X-A"] != "default" {
		t.Fatalf("expected default fallback, got %v", snap.Headers)
	}
}

func TestClearHeaderWithEmptyValue(t *testing.T) {
	r := New(Patch{Headers: map[string]string{"X-A": "1"}})
	r.SetDefaults(Patch{Headers: map[string]string{"X-A": ""}})
	snap := r.Defaults()
	if _, present := snap.Headers["X-A"]; present {
		t.Fatalf("expected header cleared, got %v", snap.Headers)
	}
}

func TestSubscribe_ReceivesChangeEvent(t *testing.T) {
	r := New(Patch{})
	ch, cancel := r.Subscribe("defaults")
	defer cancel()

	r.SetDefaults(Patch{Env: map[string]string{"K": "V"}})

	select {
	case ev := <-ch:
		if ev.Kind != RequiresRestart || ev.Scope != "defaults" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a buffered change event")
	}
}

func TestListSessions(t *testing.T) {
	r := New(Patch{})
	r.SetSession("b", Patch{Headers: map[string]string{"X": "1"}})
	r.SetSession("a", Patch{Headers: map[string]string{"X": "1"}})

	ids := r.ListSessions()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("expected sorted [a b], got %v", ids)
	}

	r.DropSession("a")
	ids = r.ListSessions()
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("expected [b] after drop, got %v", ids)
	}
}
