package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/supercorp-ai/supergateway/internal/child"
	"github.com/supercorp-ai/supergateway/internal/runtime"
	"github.com/supercorp-ai/supergateway/internal/session"
	"github.com/supercorp-ai/supergateway/pkg/mcp"
)

const sessionHeader = "Mcp-Session-Id"

// ChildFactory spawns a fresh child.Supervisor, pre-configured with the
// base command from startup, governed by extraArgs/env from a runtime
// override snapshot. Each stateful session owns its own child.
type ChildFactory func(ctx context.Context, extraArgs []string, env map[string]string) (*child.Supervisor, error)

// StdioHTTPStateful implements §4.5.4 and §4.4: stdio → Streamable HTTP
// with the session registry driving per-session children, access-counted
// idle eviction, and FIFO server_events delivery over GET-SSE.
type StdioHTTPStateful struct {
	path            string
	protocolVersion string

	sessions  *session.Registry
	overrides *runtime.Registry
	newChild  ChildFactory
	logger    *slog.Logger

	mu          sync.Mutex
	unsubscribe map[string]func()
}

// NewStdioHTTPStateful builds the adapter.
func NewStdioHTTPStateful(path, protocolVersion string, sessions *session.Registry, overrides *runtime.Registry, newChild ChildFactory, logger *slog.Logger) *StdioHTTPStateful {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioHTTPStateful{
		path:            path,
		protocolVersion: protocolVersion,
		sessions:        sessions,
		overrides:       overrides,
		newChild:        newChild,
		logger:          logger,
		unsubscribe:     make(map[string]func()),
	}
}

// Routes mounts the Streamable HTTP endpoint for all four methods.
func (a *StdioHTTPStateful) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(a.path, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			a.handlePost(w, r)
		case http.MethodGet:
			a.handleGet(w, r)
		case http.MethodDelete:
			a.handleDelete(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func (a *StdioHTTPStateful) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	messages, err := splitBatch(body)
	if err != nil {
		http.Error(w, "invalid JSON-RPC payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		a.handleInitialize(w, r, messages)
		return
	}

	sess, ok := a.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	release := sess.Acquire()
	defer release()

	w.Header().Set(sessionHeader, sessionID)
	a.forwardAndRespond(r.Context(), w, sess, messages)
}

// handleInitialize handles a POST with no session header: it must be a
// lone initialize request, per §4.5.4.
func (a *StdioHTTPStateful) handleInitialize(w http.ResponseWriter, r *http.Request, messages [][]byte) {
	if len(messages) != 1 {
		http.Error(w, "a request with no Mcp-Session-Id must be a single initialize request", http.StatusBadRequest)
		return
	}
	msg, err := mcp.WrapMessage(messages[0], mcp.ClientToServer)
	if err != nil || !msg.IsInitialize() {
		http.Error(w, "a request with no Mcp-Session-Id must be a single initialize request", http.StatusBadRequest)
		return
	}
	id := msg.RawIDKey()
	if id == "" {
		http.Error(w, "initialize request must carry an id", http.StatusBadRequest)
		return
	}

	sessionID, err := session.GenerateID()
	if err != nil {
		http.Error(w, "failed to allocate session id", http.StatusInternalServerError)
		return
	}

	snap := a.overrides.Defaults()
	// The child outlives this request: it belongs to the session and is shut
	// down on eviction, so it must not be bound to r.Context().
	sup, err := a.newChild(context.Background(), snap.ExtraCLIArgs, snap.Env)
	if err != nil {
		http.Error(w, "failed to spawn child: "+err.Error(), http.StatusBadGateway)
		return
	}

	sess := a.sessions.Create(sessionID, sup)
	a.watchOverrides(sessionID, sess)

	release := sess.Acquire()
	defer release()

	w.Header().Set(sessionHeader, sessionID)
	a.forwardAndRespond(r.Context(), w, sess, messages)
}

// watchOverrides restarts sess's child whenever an admin patch governing
// that session id requires it. The subscription's cancel func is kept so
// HandleEviction can release it once the session is gone.
func (a *StdioHTTPStateful) watchOverrides(sessionID string, sess *session.Session) {
	events, unsubscribe := a.overrides.Subscribe(sessionID)
	a.mu.Lock()
	a.unsubscribe[sessionID] = unsubscribe
	a.mu.Unlock()

	go func() {
		for ev := range events {
			if ev.Kind != runtime.RequiresRestart {
				continue
			}
			snap, _ := a.overrides.Session(sessionID)
			if err := sess.Child.Restart(context.Background(), snap.ExtraCLIArgs, snap.Env); err != nil {
				a.logger.Warn("stdio_http_stateful: restart failed", "session_id", sessionID, "error", err)
			}
		}
	}()
}

// HandleEviction releases the per-session override subscription and drops
// sessionID's entry from the runtime override registry. Wired as the
// session registry's eviction hook (see root.go) so every eviction path —
// idle timeout, DELETE, or registry shutdown — cleans up the watchOverrides
// goroutine and its runtime.Registry state instead of leaking them, per
// spec.md §3's "destroyed when the session evicts" invariant.
func (a *StdioHTTPStateful) HandleEviction(sessionID string) {
	a.mu.Lock()
	unsubscribe, ok := a.unsubscribe[sessionID]
	if ok {
		delete(a.unsubscribe, sessionID)
	}
	a.mu.Unlock()

	if ok {
		unsubscribe()
	}
	a.overrides.DropSession(sessionID)
}

// forwardAndRespond sends every message to sess's child, registering a
// pending waiter for each request id first so no response can arrive
// before it is awaited, then replies inline (application/json for a single
// response) or as a streamed SSE body for a multi-request batch.
func (a *StdioHTTPStateful) forwardAndRespond(ctx context.Context, w http.ResponseWriter, sess *session.Session, messages [][]byte) {
	type waiter struct {
		id string
		ch <-chan session.Result
	}
	var waiters []waiter

	for _, raw := range messages {
		msg, err := mcp.WrapMessage(raw, mcp.ClientToServer)
		if err != nil {
			http.Error(w, "invalid JSON-RPC message: "+err.Error(), http.StatusBadRequest)
			return
		}
		id := msg.RawIDKey()
		if id != "" {
			waiters = append(waiters, waiter{id: id, ch: sess.RegisterPending(id)})
		}
		if err := sess.Child.Send(raw); err != nil {
			for _, wtr := range waiters {
				sess.CancelPending(wtr.id)
			}
			http.Error(w, "child unavailable: "+err.Error(), http.StatusBadGateway)
			return
		}
	}

	if len(waiters) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	timeout := defaultResponseTimeout
	if half := sessionHalfTimeout(sess); half > 0 && half < timeout {
		timeout = half
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	if len(waiters) == 1 {
		select {
		case res := <-waiters[0].ch:
			writeJSONResult(w, res)
		case <-ctx.Done():
		case <-deadline.C:
			writeTimeout(w, waiters[0].id)
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	for _, wtr := range waiters {
		select {
		case res := <-wtr.ch:
			writeSSEResult(w, flusher, res)
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		}
	}
}

// sessionHalfTimeout is a placeholder hook: the session package does not
// expose its configured timeout per-session today, so stateful POSTs use
// the flat 30s ceiling from defaultResponseTimeout. Kept as a named step so
// a future per-session timeout plugs in without changing call sites.
func sessionHalfTimeout(sess *session.Session) time.Duration { return 0 }

func writeJSONResult(w http.ResponseWriter, res session.Result) {
	if res.Err != nil {
		http.Error(w, "upstream error: "+res.Err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Msg.Raw)
}

func writeSSEResult(w http.ResponseWriter, flusher http.Flusher, res session.Result) {
	if res.Err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", res.Err.Error())
	} else {
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", res.Msg.Raw)
	}
	flusher.Flush()
}

func writeTimeout(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusGatewayTimeout)
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":"Request timed out"}}`, id)
}

func (a *StdioHTTPStateful) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		http.Error(w, "missing Mcp-Session-Id header", http.StatusBadRequest)
		return
	}
	sess, ok := a.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	release := sess.Acquire()
	defer release()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set(sessionHeader, sessionID)
	w.WriteHeader(http.StatusOK)

	for {
		msg, ok := sess.NextServerEvent(r.Context())
		if !ok {
			return
		}
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg.Raw)
		flusher.Flush()
	}
}

func (a *StdioHTTPStateful) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		http.Error(w, "missing Mcp-Session-Id header", http.StatusBadRequest)
		return
	}
	if err := a.sessions.Delete(sessionID); err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
