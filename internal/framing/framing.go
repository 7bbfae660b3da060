// Package framing implements line-delimited JSON-RPC framing over byte
// streams: one UTF-8 JSON document per newline-terminated line, embedded
// newlines escaped by the JSON encoding itself.
package framing

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/supercorp-ai/supergateway/pkg/mcp"
)

const (
	// scannerInitialBufSize and scannerMaxBufSize size the bufio.Scanner
	// used to read framed lines, matching the buffer budget a line-framed
	// JSON-RPC stream needs for large tool-call payloads.
	scannerInitialBufSize = 256 * 1024
	scannerMaxBufSize     = 1024 * 1024
)

// BadLineFunc is invoked when a line fails to parse as JSON-RPC. The line
// is discarded and the stream continues; the callback is for diagnostics.
type BadLineFunc func(line []byte, err error)

// Decoder reads newline-delimited JSON-RPC messages from an io.Reader.
type Decoder struct {
	scanner *bufio.Scanner
	dir     mcp.Direction
	onBad   BadLineFunc
}

// NewDecoder builds a Decoder over r. onBad may be nil.
func NewDecoder(r io.Reader, dir mcp.Direction, onBad BadLineFunc) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, scannerInitialBufSize), scannerMaxBufSize)
	if onBad == nil {
		onBad = func([]byte, error) {}
	}
	return &Decoder{scanner: s, dir: dir, onBad: onBad}
}

// Next returns the next successfully decoded message, skipping blank lines
// and lines that fail to parse (reported via onBad). Returns ok=false once
// the underlying stream is exhausted or the scanner fails; Err then reports
// the failure, or nil at a clean end of stream.
func (d *Decoder) Next() (*mcp.Message, bool) {
	for d.scanner.Scan() {
		line := bytes.TrimRight(d.scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		// Copy: bufio.Scanner reuses its buffer on the next Scan.
		raw := append([]byte(nil), line...)
		msg, err := mcp.WrapMessage(raw, d.dir)
		if err != nil {
			d.onBad(raw, err)
			continue
		}
		return msg, true
	}
	return nil, false
}

// Err returns the first non-EOF error encountered by the underlying scanner.
func (d *Decoder) Err() error {
	return d.scanner.Err()
}

// Encoder writes newline-delimited JSON-RPC messages to an io.Writer. Writes
// are serialized with a mutex: callers on the same Encoder may come from
// different goroutines (e.g. a session's pending-response delivery and its
// server_events path), and framing forbids interleaved lines.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder builds an Encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteRaw writes pre-serialized JSON bytes as a single framed line.
func (e *Encoder) WriteRaw(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(payload); err != nil {
		return err
	}
	_, err := e.w.Write([]byte("\n"))
	return err
}

// WriteMessage encodes a jsonrpc.Message and frames it. Most callers pass
// through a message's raw bytes via WriteRaw instead; WriteMessage exists
// for adapters that synthesize a message (e.g. a timeout error response)
// with no raw form to preserve.
func (e *Encoder) WriteMessage(decoded jsonrpc.Message) error {
	payload, err := mcp.EncodeMessage(decoded)
	if err != nil {
		return err
	}
	return e.WriteRaw(payload)
}
