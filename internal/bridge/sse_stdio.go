package bridge

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/supercorp-ai/supergateway/internal/framing"
	"github.com/supercorp-ai/supergateway/pkg/mcp"
)

// SSEStdio implements §4.5.5: Supergateway presents an MCP stdio server
// locally while dialing a remote SSE endpoint as a client. It opens a GET
// SSE stream, learns the companion POST URL from the first `endpoint`
// event, then relays local stdin to that URL and upstream `message`
// events back to local stdout.
//
// Grounded on the teacher's outbound HTTPClient (io.Pipe-based bridging of
// a stream interface to HTTP request/response cycles), adapted here to a
// long-lived GET stream plus per-line POSTs instead of one POST per call,
// since SSE upstreams never answer a POST body directly.
type SSEStdio struct {
	remoteURL string
	headers   map[string]string
	logger    *slog.Logger

	httpClient *http.Client
}

// NewSSEStdio builds the adapter. headers carries --header and
// --oauth2Bearer values to attach to every outbound request.
func NewSSEStdio(remoteURL string, headers map[string]string, logger *slog.Logger) *SSEStdio {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEStdio{
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

// Run dials the remote SSE endpoint and pumps messages between it and the
// local in/out streams until ctx is cancelled or the upstream stream ends.
func (a *SSEStdio) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.remoteURL, nil)
	if err != nil {
		return fmt.Errorf("sse_stdio: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	a.applyHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sse_stdio: connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse_stdio: upstream returned status %d", resp.StatusCode)
	}

	endpointCh := make(chan string, 1)
	var endpointOnce sync.Once

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		a.pumpUpstream(resp.Body, out, endpointCh, &endpointOnce)
	}()

	select {
	case postURL, ok := <-endpointCh:
		if !ok {
			wg.Wait()
			return fmt.Errorf("sse_stdio: upstream closed before sending an endpoint event")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.pumpStdin(ctx, in, postURL)
		}()
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	}

	wg.Wait()
	return nil
}

// pumpUpstream parses SSE frames off the response body: the first
// `endpoint` event publishes the POST URL, every `message` event is
// written to out as one JSON-RPC line.
func (a *SSEStdio) pumpUpstream(body io.Reader, out io.Writer, endpointCh chan<- string, once *sync.Once) {
	defer once.Do(func() { close(endpointCh) })

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder

	flush := func() {
		defer func() { eventName = ""; data.Reset() }()
		if data.Len() == 0 {
			return
		}
		payload := data.String()
		switch eventName {
		case "endpoint":
			resolved := a.resolveEndpoint(payload)
			once.Do(func() { endpointCh <- resolved; close(endpointCh) })
		case "message", "":
			if _, err := out.Write([]byte(payload + "\n")); err != nil {
				a.logger.Warn("sse_stdio: write to local stdout failed", "error", err)
			}
		default:
			a.logger.Debug("sse_stdio: ignoring unrecognized SSE event", "event", eventName)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// comments and unknown fields are ignored per the SSE spec
		}
	}
	flush()
}

func (a *SSEStdio) resolveEndpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() {
		return raw
	}
	base, err := url.Parse(a.remoteURL)
	if err != nil {
		return raw
	}
	return base.ResolveReference(u).String()
}

// pumpStdin reads newline-delimited JSON-RPC messages from in and POSTs
// each to postURL.
func (a *SSEStdio) pumpStdin(ctx context.Context, in io.Reader, postURL string) {
	dec := framing.NewDecoder(in, mcp.ClientToServer, func(line []byte, err error) {
		a.logger.Warn("sse_stdio: discarding malformed local line", "error", err)
	})
	for {
		msg, ok := dec.Next()
		if !ok {
			return
		}
		if err := a.post(ctx, postURL, msg.Raw); err != nil {
			a.logger.Warn("sse_stdio: forwarding to upstream failed", "error", err)
			return
		}
	}
}

func (a *SSEStdio) post(ctx context.Context, postURL string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	a.applyHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream POST returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *SSEStdio) applyHeaders(req *http.Request) {
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
}
