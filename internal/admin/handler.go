// Package admin implements §4.6: the loopback-only HTTP surface and
// interactive stdin prompt that mutate the runtime override registry.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/supercorp-ai/supergateway/internal/child"
	"github.com/supercorp-ai/supergateway/internal/runtime"
	"github.com/supercorp-ai/supergateway/internal/session"
)

// SessionLookup resolves a session id to its governed child, so a
// RequiresRestart patch can restart exactly that child. Stateless modes
// have no session registry and pass a lookup that always reports not-found.
type SessionLookup func(id string) (*child.Supervisor, bool)

// Handler serves the three §4.6 routes. It is meant to be bound to a
// loopback-only listener by the caller (net.Listen("tcp", "127.0.0.1:port")):
// this handler does not itself inspect RemoteAddr, matching the spec's
// "reject non-loopback peers at the socket level" simplification.
type Handler struct {
	overrides    *runtime.Registry
	defaultChild *child.Supervisor
	lookupSession SessionLookup
	listSessions func() []string
	logger       *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithDefaultChild wires the shared child restarted by a defaults patch
// that requires one. Stateful mode, where every session owns its own
// child, leaves this nil.
func WithDefaultChild(sup *child.Supervisor) Option {
	return func(h *Handler) { h.defaultChild = sup }
}

// WithSessions wires session lookup/listing for stateful mode.
func WithSessions(reg *session.Registry) Option {
	return func(h *Handler) {
		h.lookupSession = func(id string) (*child.Supervisor, bool) {
			sess, ok := reg.Get(id)
			if !ok {
				return nil, false
			}
			return sess.Child, true
		}
		h.listSessions = reg.ListIDs
	}
}

// New builds a Handler over the shared override registry.
func New(overrides *runtime.Registry, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		overrides:    overrides,
		logger:       logger,
		lookupSession: func(string) (*child.Supervisor, bool) { return nil, false },
		listSessions:  func() []string { return nil },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the mountable admin mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/runtime/defaults", h.handleDefaults)
	mux.HandleFunc("/runtime/sessions", h.handleListSessions)
	mux.HandleFunc("/runtime/session/", h.handleSession)
	return mux
}

func (h *Handler) handleDefaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var patch runtime.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid patch body: "+err.Error())
		return
	}

	kind := h.overrides.SetDefaults(patch)
	if kind == runtime.RequiresRestart && h.defaultChild != nil {
		snap := h.overrides.Defaults()
		go func() {
			if err := h.defaultChild.Restart(context.Background(), snap.ExtraCLIArgs, snap.Env); err != nil {
				h.logger.Warn("admin: default child restart failed", "error", err)
			}
		}()
	}
	writeJSON(w, http.StatusOK, map[string]any{"change_kind": changeKindString(kind)})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/runtime/session/")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session id")
		return
	}

	sup, ok := h.lookupSession(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		return
	}

	var patch runtime.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid patch body: "+err.Error())
		return
	}

	kind := h.overrides.SetSession(id, patch)
	if kind == runtime.RequiresRestart {
		snap, _ := h.overrides.Session(id)
		go func() {
			if err := sup.Restart(context.Background(), snap.ExtraCLIArgs, snap.Env); err != nil {
				h.logger.Warn("admin: session child restart failed", "session_id", id, "error", err)
			}
		}()
	}
	writeJSON(w, http.StatusOK, map[string]any{"change_kind": changeKindString(kind)})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ids := h.listSessions()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func changeKindString(k runtime.ChangeKind) string {
	if k == runtime.RequiresRestart {
		return "requires_restart"
	}
	return "headers_only"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// ListenLoopback binds a TCP listener on 127.0.0.1:port for the admin
// surface, enforcing the loopback-only requirement at the socket rather
// than per request.
func ListenLoopback(port int) (addr string, serve func(http.Handler) error, err error) {
	ln, err := newLoopbackListener(port)
	if err != nil {
		return "", nil, err
	}
	server := &http.Server{ReadHeaderTimeout: 5 * time.Second}
	return ln.Addr().String(), func(h http.Handler) error {
		server.Handler = h
		return server.Serve(ln)
	}, nil
}
