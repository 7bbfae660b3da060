package bridge

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/supercorp-ai/supergateway/internal/child"
	"github.com/supercorp-ai/supergateway/pkg/mcp"
)

// StdioWS implements §4.5.2: stdio → WebSocket. Each accepted upgrade owns
// a WebSocket channel; inbound text frames forward to child stdin, and
// every child stdout message broadcasts to every connected client (each
// connection independently subscribes to the supervisor's multicast, so no
// separate fan-out registry is needed).
//
// Grounded on gorilla/websocket as a genuine MCP-transport dependency (the
// SDK's own WebSocketClientTransport and the brummer example both use it)
// rather than the teacher's hand-rolled RFC 6455 tunnel, since this
// endpoint is a WS server accepting client upgrades, not a tunnel to an
// upstream WS server.
type StdioWS struct {
	path     string
	sup      *child.Supervisor
	upgrader websocket.Upgrader
	logger   *slog.Logger
	ready    *ReadyLatch
}

// NewStdioWS builds the adapter. path is typically --messagePath, per spec.
func NewStdioWS(path string, sup *child.Supervisor, logger *slog.Logger) *StdioWS {
	if logger == nil {
		logger = slog.Default()
	}
	a := &StdioWS{
		path:   path,
		sup:    sup,
		logger: logger,
		ready:  NewReadyLatch(),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Origin enforcement is handled by the shared CORS middleware
		// wrapping Routes(), not by gorilla's default same-origin check.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	go a.markReadyOnFirstMessage()
	return a
}

func (a *StdioWS) markReadyOnFirstMessage() {
	ch, unsubscribe := a.sup.Subscribe()
	defer unsubscribe()
	if _, ok := <-ch; ok {
		a.ready.Set()
	}
}

// Health returns the HealthChecker mountable at each --healthEndpoint path:
// 200 iff the child is alive and a child stdout message has been observed
// since the adapter was built. No grace-period timer sets the readiness
// latch, so a child that has not yet written to stdout reports 500.
func (a *StdioWS) Health() *HealthChecker {
	return NewHealthChecker(a.sup.IsAlive, a.ready.Ready)
}

// Routes mounts the single WebSocket endpoint.
func (a *StdioWS) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(a.path, a.handleUpgrade)
	return mux
}

func (a *StdioWS) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("stdio_ws: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe := a.sup.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go a.writeLoop(conn, ch, done)
	a.readLoop(conn, done)
	<-done
}

func (a *StdioWS) writeLoop(conn *websocket.Conn, ch <-chan *mcp.Message, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "child exited"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg.Raw); err != nil {
				return
			}
		}
	}
}

func (a *StdioWS) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := a.sup.Send(payload); err != nil {
			a.logger.Warn("stdio_ws: send to child failed", "error", err)
			return
		}
	}
}
