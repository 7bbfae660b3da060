package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/supercorp-ai/supergateway/internal/child"
	"github.com/supercorp-ai/supergateway/pkg/mcp"
)

// defaultResponseTimeout bounds how long a stateless or stateful POST waits
// for the child to answer every request id in its body. Both modes use this
// flat 30s value: the stateful adapter does not shorten it to half the
// configured session timeout (see sessionHalfTimeout).
const defaultResponseTimeout = 30 * time.Second

// StdioHTTPStateless implements §4.5.3: stdio → Streamable HTTP (stateless).
// A single process-wide child is auto-initialized once; every POST is
// independent, with no Mcp-Session-Id tracking.
type StdioHTTPStateless struct {
	path            string
	protocolVersion string
	sup             *child.Supervisor
	logger          *slog.Logger

	initOnce sync.Once
	initErr  error
}

// NewStdioHTTPStateless builds the adapter.
func NewStdioHTTPStateless(path, protocolVersion string, sup *child.Supervisor, logger *slog.Logger) *StdioHTTPStateless {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioHTTPStateless{path: path, protocolVersion: protocolVersion, sup: sup, logger: logger}
}

// Routes mounts the single Streamable HTTP path; GET and DELETE answer 405.
func (a *StdioHTTPStateless) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(a.path, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			a.handlePost(w, r)
		case http.MethodGet, http.MethodDelete:
			http.Error(w, "method not supported in stateless mode", http.StatusMethodNotAllowed)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

// ensureInitialized auto-issues an initialize request to the child once per
// process, before any other request is forwarded.
func (a *StdioHTTPStateless) ensureInitialized() error {
	a.initOnce.Do(func() {
		ch, unsubscribe := a.sup.Subscribe()
		defer unsubscribe()

		req := map[string]any{
			"jsonrpc": "2.0",
			"id":      "supergateway-auto-init",
			"method":  "initialize",
			"params": map[string]any{
				"protocolVersion": a.protocolVersion,
			},
		}
		payload, err := json.Marshal(req)
		if err != nil {
			a.initErr = err
			return
		}
		if err := a.sup.Send(payload); err != nil {
			a.initErr = err
			return
		}

		deadline := time.After(defaultResponseTimeout)
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					a.initErr = fmt.Errorf("child exited during auto-initialize")
					return
				}
				if msg.RawIDKey() == `"supergateway-auto-init"` {
					return
				}
			case <-deadline:
				a.initErr = fmt.Errorf("timed out waiting for child initialize response")
				return
			}
		}
	})
	return a.initErr
}

func (a *StdioHTTPStateless) handlePost(w http.ResponseWriter, r *http.Request) {
	if err := a.ensureInitialized(); err != nil {
		http.Error(w, "upstream initialize failed: "+err.Error(), http.StatusBadGateway)
		return
	}

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

	wantIDs := make(map[string]struct{})
	for _, raw := range messages {
		msg, err := mcp.WrapMessage(raw, mcp.ClientToServer)
		if err != nil {
			http.Error(w, "invalid JSON-RPC message: "+err.Error(), http.StatusBadRequest)
			return
		}
		if id := msg.RawIDKey(); id != "" {
			wantIDs[id] = struct{}{}
		}
	}

	if len(wantIDs) == 0 {
		for _, raw := range messages {
			if err := a.sup.Send(raw); err != nil {
				http.Error(w, "child unavailable: "+err.Error(), http.StatusBadGateway)
				return
			}
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	ch, unsubscribe := a.sup.Subscribe()
	defer unsubscribe()

	for _, raw := range messages {
		if err := a.sup.Send(raw); err != nil {
			http.Error(w, "child unavailable: "+err.Error(), http.StatusBadGateway)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	deadline := time.After(defaultResponseTimeout)
	for len(wantIDs) > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-deadline:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			id := msg.RawIDKey()
			if _, want := wantIDs[id]; !want {
				continue
			}
			delete(wantIDs, id)
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg.Raw)
			flusher.Flush()
		}
	}
}

// splitBatch accepts either a single JSON-RPC message or a JSON array batch
// and returns one raw JSON document per message.
func splitBatch(body []byte) ([][]byte, error) {
	trimmed := trimJSONWhitespace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, err
		}
		out := make([][]byte, len(raws))
		for i, r := range raws {
			out[i] = []byte(r)
		}
		return out, nil
	}
	var probe json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, err
	}
	return [][]byte{trimmed}, nil
}

func trimJSONWhitespace(b []byte) []byte {
	start := 0
	for start < len(b) {
		switch b[start] {
		case ' ', '\t', '\n', '\r':
			start++
			continue
		}
		break
	}
	end := len(b)
	for end > start {
		switch b[end-1] {
		case ' ', '\t', '\n', '\r':
			end--
			continue
		}
		break
	}
	return b[start:end]
}
