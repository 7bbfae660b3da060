package bridge

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/supercorp-ai/supergateway/internal/child"
)

// StdioSSE implements §4.5.1: stdio → SSE. A GET on ssePath opens an SSE
// stream that first announces a companion POST endpoint (keyed by a fresh
// connection id, distinct from any MCP session id) and then forwards every
// child stdout line as an `event: message`. POSTs to messagePath forward a
// JSON-RPC message to the child, addressed by that connection id.
type StdioSSE struct {
	ssePath     string
	messagePath string
	baseURL     string

	sup    *child.Supervisor
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]struct{}
}

// NewStdioSSE builds the adapter. ssePath/messagePath/baseURL come from the
// --ssePath/--messagePath/--baseUrl flags.
func NewStdioSSE(ssePath, messagePath, baseURL string, sup *child.Supervisor, logger *slog.Logger) *StdioSSE {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioSSE{
		ssePath:     ssePath,
		messagePath: messagePath,
		baseURL:     baseURL,
		sup:         sup,
		logger:      logger,
		conns:       make(map[string]struct{}),
	}
}

// Routes mounts the GET ssePath and POST messagePath handlers.
func (a *StdioSSE) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(a.ssePath, a.handleSSE)
	mux.HandleFunc(a.messagePath, a.handlePost)
	return mux
}

func (a *StdioSSE) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	connID := uuid.NewString()
	a.registerConn(connID)
	defer a.unregisterConn(connID)

	ch, unsubscribe := a.sup.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpoint := a.messagePath + "?sessionId=" + connID
	if a.baseURL != "" {
		endpoint = a.baseURL + a.messagePath + "?sessionId=" + connID
	}
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg.Raw)
			flusher.Flush()
		}
	}
}

func (a *StdioSSE) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	connID := r.URL.Query().Get("sessionId")
	if !a.connExists(connID) {
		http.Error(w, "no open SSE connection for this sessionId", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	body = bytes.TrimSpace(body)

	if err := a.sup.Send(body); err != nil {
		http.Error(w, "child unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (a *StdioSSE) registerConn(id string) {
	a.mu.Lock()
	a.conns[id] = struct{}{}
	a.mu.Unlock()
}

func (a *StdioSSE) unregisterConn(id string) {
	a.mu.Lock()
	delete(a.conns, id)
	a.mu.Unlock()
}

func (a *StdioSSE) connExists(id string) bool {
	if id == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.conns[id]
	return ok
}
