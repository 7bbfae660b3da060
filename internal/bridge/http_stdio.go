package bridge

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/supercorp-ai/supergateway/internal/framing"
	"github.com/supercorp-ai/supergateway/pkg/mcp"
)

// HTTPStdio implements §4.5.6: Supergateway presents an MCP stdio server
// locally while dialing a remote Streamable HTTP endpoint as a client. Each
// local line is POSTed directly to the remote URL; unlike SSEStdio there is
// no separate endpoint-discovery step. A response may come back as a plain
// JSON body or as a one-shot SSE stream (the Streamable HTTP spec allows
// either); a JSON body is written to local stdout as one line, and each data
// event of an SSE stream as its own line. The
// session id the remote mints on its initialize response is captured and
// echoed on every subsequent request, and a final DELETE is issued when the
// adapter shuts down.
//
// Grounded on the teacher's outbound HTTPClient, whose sendRequest/session
// capture/Close shape this follows closely; generalized here from a single
// one-shot Start/Close cycle per call to a long-lived local stdin pump, and
// from a plain-JSON-only response reader to one that also accepts a
// streamed SSE response body.
type HTTPStdio struct {
	remoteURL string
	headers   map[string]string
	logger    *slog.Logger

	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
}

// NewHTTPStdio builds the adapter.
func NewHTTPStdio(remoteURL string, headers map[string]string, logger *slog.Logger) *HTTPStdio {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStdio{
		remoteURL: remoteURL,
		headers:   headers,
		logger:    logger,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// Run pumps local stdin to the remote endpoint until ctx is cancelled or in
// reaches EOF, then issues a final DELETE to terminate the remote session.
func (a *HTTPStdio) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	defer a.terminateSession(context.Background())

	dec := framing.NewDecoder(in, mcp.ClientToServer, func(line []byte, err error) {
		a.logger.Warn("http_stdio: discarding malformed local line", "error", err)
	})
	for {
		msg, ok := dec.Next()
		if !ok {
			return dec.Err()
		}
		if err := a.forward(ctx, msg, out); err != nil {
			return fmt.Errorf("http_stdio: %w", err)
		}
	}
}

func (a *HTTPStdio) forward(ctx context.Context, msg *mcp.Message, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.remoteURL, strings.NewReader(string(msg.Raw)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	a.applyHeaders(req)
	if sid := a.currentSessionID(); sid != "" {
		req.Header.Set(sessionHeader, sid)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		a.setSessionID(sid)
	}

	if resp.StatusCode == http.StatusAccepted {
		// Pure notification: the remote has nothing to answer.
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("remote returned status %d: %s", resp.StatusCode, string(body))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		return a.copySSEResponse(resp.Body, out)
	}
	return a.copyJSONResponse(resp.Body, out)
}

func (a *HTTPStdio) copyJSONResponse(body io.Reader, out io.Writer) error {
	payload, err := io.ReadAll(io.LimitReader(body, 10<<20))
	if err != nil {
		return err
	}
	payload = trimJSONWhitespace(payload)
	if len(payload) == 0 {
		return nil
	}
	_, err = out.Write(append(payload, '\n'))
	return err
}

// copySSEResponse reads one or more `message` events off a streamed
// response body and writes each as a JSON-RPC line to out.
func (a *HTTPStdio) copySSEResponse(body io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	flush := func() error {
		defer data.Reset()
		if data.Len() == 0 {
			return nil
		}
		_, err := out.Write([]byte(data.String() + "\n"))
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:/id:/retry: fields and comments are ignored
		}
	}
	return flush()
}

func (a *HTTPStdio) terminateSession(ctx context.Context) {
	sid := a.currentSessionID()
	if sid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.remoteURL, nil)
	if err != nil {
		return
	}
	req.Header.Set(sessionHeader, sid)
	a.applyHeaders(req)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn("http_stdio: session teardown DELETE failed", "error", err)
		return
	}
	_ = resp.Body.Close()
}

func (a *HTTPStdio) currentSessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *HTTPStdio) setSessionID(id string) {
	a.mu.Lock()
	a.sessionID = id
	a.mu.Unlock()
}

func (a *HTTPStdio) applyHeaders(req *http.Request) {
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
}
