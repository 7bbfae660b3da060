// Package runtime implements the runtime override registry: a thread-safe
// store of global defaults plus per-session overrides across three axes —
// extra CLI args, environment variables, and outbound request headers —
// with change notification so interested adapters can restart governed
// children.
package runtime

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ChangeKind classifies the effect of a patch on a scope (defaults or one
// session). HeadersOnly patches apply live; RequiresRestart patches govern
// a child that must be rebuilt.
type ChangeKind int

const (
	// HeadersOnly means only headers changed, or the patch restated the
	// scope's existing extra_cli_args/env (no net effect), so no restart
	// is required.
	HeadersOnly ChangeKind = iota
	// RequiresRestart means extra_cli_args or env materially changed.
	RequiresRestart
)

func (k ChangeKind) String() string {
	if k == RequiresRestart {
		return "requires_restart"
	}
	return "headers_only"
}

// Patch is a partial update to an Overrides scope. A nil field means that
// axis is untouched. ExtraCLIArgs uses a pointer-to-slice so an explicit
// empty list (clear all extra args) is distinguishable from "not present".
// Env and Headers entries whose value is the empty string clear that key
// from the scope; any other value sets it.
type Patch struct {
	ExtraCLIArgs *[]string         `json:"extra_cli_args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// headerEntry preserves the casing of whichever side last wrote the header,
// per the registry's case-insensitive-name, value-owner-casing-wins policy.
type headerEntry struct {
	name  string
	value string
}

// overrides is the mutable, scope-local state for either defaults or one
// session. All mutation happens under Registry.mu; readers receive copies
// via Snapshot.
type overrides struct {
	extraCLIArgs []string
	env          map[string]string
	headers      map[string]headerEntry // keyed by lower-cased header name
}

func newOverrides() *overrides {
	return &overrides{
		env:     make(map[string]string),
		headers: make(map[string]headerEntry),
	}
}

func (o *overrides) clone() *overrides {
	c := newOverrides()
	c.extraCLIArgs = append([]string(nil), o.extraCLIArgs...)
	for k, v := range o.env {
		c.env[k] = v
	}
	for k, v := range o.headers {
		c.headers[k] = v
	}
	return c
}

// apply mutates o in place according to patch.
func (o *overrides) apply(patch Patch) {
	if patch.ExtraCLIArgs != nil {
		o.extraCLIArgs = append([]string(nil), (*patch.ExtraCLIArgs)...)
	}
	for k, v := range patch.Env {
		if v == "" {
			delete(o.env, k)
		} else {
			o.env[k] = v
		}
	}
	for k, v := range patch.Headers {
		lower := strings.ToLower(k)
		if v == "" {
			delete(o.headers, lower)
		} else {
			o.headers[lower] = headerEntry{name: k, value: v}
		}
	}
}

// fingerprint hashes the restart-governing axes (extra_cli_args, env) so
// the registry can tell a real change from a patch that merely restates the
// current value.
func (o *overrides) fingerprint() uint64 {
	h := xxhash.New()
	for _, a := range o.extraCLIArgs {
		_, _ = h.WriteString(a)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte{0})
	keys := make([]string, 0, len(o.env))
	for k := range o.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(o.env[k])
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Snapshot is an immutable merged view of a scope: session overrides on top
// of defaults, session keys winning per-field. Obtained via Registry.Defaults
// or Registry.Session; safe to read concurrently and to retain.
type Snapshot struct {
	ExtraCLIArgs []string
	Env          map[string]string
	// Headers maps the original (winning) casing to its value.
	Headers map[string]string
}

func mergeSnapshot(defaults, session *overrides) Snapshot {
	snap := Snapshot{Env: make(map[string]string), Headers: make(map[string]string)}

	snap.ExtraCLIArgs = defaults.extraCLIArgs
	if session != nil && session.extraCLIArgs != nil {
		snap.ExtraCLIArgs = session.extraCLIArgs
	}
	snap.ExtraCLIArgs = append([]string(nil), snap.ExtraCLIArgs...)

	for k, v := range defaults.env {
		snap.Env[k] = v
	}
	if session != nil {
		for k, v := range session.env {
			snap.Env[k] = v
		}
	}

	merged := make(map[string]headerEntry, len(defaults.headers))
	for k, v := range defaults.headers {
		merged[k] = v
	}
	if session != nil {
		for k, v := range session.headers {
			merged[k] = v
		}
	}
	for _, v := range merged {
		snap.Headers[v.name] = v.value
	}
	return snap
}

// ChangeEvent is delivered to subscribers of a scope on every applied patch.
type ChangeEvent struct {
	Scope string // "defaults" or a session id
	Kind  ChangeKind
}

// Registry is the thread-safe store of defaults and per-session overrides.
// Writers are serialized per scope by holding mu for the whole patch
// application; readers (Defaults/Session) take a read lock and return a
// freshly merged, detached Snapshot, so no caller ever observes a torn view.
type Registry struct {
	mu       sync.RWMutex
	defaults *overrides
	sessions map[string]*overrides

	subMu sync.Mutex
	subs  map[string][]chan ChangeEvent
}

// New builds a Registry whose global defaults start from the given CLI-flag
// derived patch (extra args, initial env, initial headers).
func New(initial Patch) *Registry {
	r := &Registry{
		defaults: newOverrides(),
		sessions: make(map[string]*overrides),
		subs:     make(map[string][]chan ChangeEvent),
	}
	r.defaults.apply(initial)
	return r
}

// Defaults returns a merged snapshot of the global defaults.
func (r *Registry) Defaults() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return mergeSnapshot(r.defaults, nil)
}

// Session returns a merged snapshot (session overrides over defaults) for
// id. ok is false if no session overrides have ever been written for id;
// callers should still treat that session as governed by defaults alone.
func (r *Registry) Session(id string) (snap Snapshot, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return mergeSnapshot(r.defaults, sess), ok
}

// ListSessions returns the ids for which session-scoped overrides exist.
func (r *Registry) ListSessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetDefaults applies patch to the global defaults and returns the
// resulting ChangeKind, notifying "defaults" subscribers.
func (r *Registry) SetDefaults(patch Patch) ChangeKind {
	r.mu.Lock()
	before := r.defaults.fingerprint()
	next := r.defaults.clone()
	next.apply(patch)
	after := next.fingerprint()
	r.defaults = next
	r.mu.Unlock()

	kind := classify(patch, before, after)
	r.notify("defaults", kind)
	return kind
}

// SetSession applies patch to session id's overrides, creating them lazily
// on first write, and returns the resulting ChangeKind.
func (r *Registry) SetSession(id string, patch Patch) ChangeKind {
	r.mu.Lock()
	current, existed := r.sessions[id]
	if !existed {
		current = newOverrides()
	}
	before := current.fingerprint()
	next := current.clone()
	next.apply(patch)
	after := next.fingerprint()
	r.sessions[id] = next
	r.mu.Unlock()

	kind := classify(patch, before, after)
	r.notify(id, kind)
	return kind
}

// DropSession removes id's overrides, e.g. on session eviction.
func (r *Registry) DropSession(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.subMu.Lock()
	for _, ch := range r.subs[id] {
		close(ch)
	}
	delete(r.subs, id)
	r.subMu.Unlock()
}

// classify decides HeadersOnly vs RequiresRestart: a patch only triggers a
// restart if it touched extra_cli_args or env AND the fingerprint of those
// axes actually changed — restating the current value is a no-op.
func classify(patch Patch, before, after uint64) ChangeKind {
	touchedRestartAxis := patch.ExtraCLIArgs != nil || len(patch.Env) > 0
	if touchedRestartAxis && before != after {
		return RequiresRestart
	}
	return HeadersOnly
}

// Subscribe returns a channel of ChangeEvents for scope ("defaults" or a
// session id). The returned cancel function unregisters and closes the
// channel; it is safe to call more than once.
func (r *Registry) Subscribe(scope string) (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, 8)

	r.subMu.Lock()
	r.subs[scope] = append(r.subs[scope], ch)
	r.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			list := r.subs[scope]
			for i, c := range list {
				if c == ch {
					r.subs[scope] = append(list[:i], list[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel
}

func (r *Registry) notify(scope string, kind ChangeKind) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs[scope] {
		select {
		case ch <- ChangeEvent{Scope: scope, Kind: kind}:
		default:
		}
	}
}
