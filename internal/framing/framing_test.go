package framing

import (
	"bytes"
	"strings"
	"testing"

	"github.com/supercorp-ai/supergateway/pkg/mcp"
)

func TestDecoderSkipsBlankAndBadLines(t *testing.T) {
	input := strings.Join([]string{
		"",
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		"not json",
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
		"",
	}, "\n")

	var bad [][]byte
	dec := NewDecoder(strings.NewReader(input), mcp.ClientToServer, func(line []byte, err error) {
		bad = append(bad, append([]byte(nil), line...))
	})

	var got []string
	for {
		msg, ok := dec.Next()
		if !ok {
			break
		}
		got = append(got, msg.Method())
	}

	if len(got) != 2 || got[0] != "ping" || got[1] != "ping" {
		t.Fatalf("expected two ping messages, got %v", got)
	}
	if len(bad) != 1 || string(bad[0]) != "not json" {
		t.Fatalf("expected one bad line reported, got %v", bad)
	}
	if err := dec.Err(); err != nil {
		t.Fatalf("unexpected scanner error: %v", err)
	}
}

func TestEncoderFramesWithTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	if err := enc.WriteRaw([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if err := enc.WriteRaw([]byte(`{"jsonrpc":"2.0","id":2,"result":{}}`)); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 framed lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected trailing newline, got %q", buf.String())
	}
}

func TestDecoderEmptyLineBetweenMessagesKeptSeparate(t *testing.T) {
	dec := NewDecoder(strings.NewReader("{\"jsonrpc\":\"2.0\",\"method\":\"a\"}\n\n{\"jsonrpc\":\"2.0\",\"method\":\"b\"}\n"), mcp.ServerToClient, nil)
	msg1, ok := dec.Next()
	if !ok || msg1.Method() != "a" {
		t.Fatalf("expected method a, got %+v ok=%v", msg1, ok)
	}
	msg2, ok := dec.Next()
	if !ok || msg2.Method() != "b" {
		t.Fatalf("expected method b, got %+v ok=%v", msg2, ok)
	}
	if _, ok := dec.Next(); ok {
		t.Fatalf("expected stream exhausted")
	}
}
