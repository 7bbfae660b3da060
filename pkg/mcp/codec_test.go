package mcp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

func TestEncodeDecodeRequest(t *testing.T) {
	id, err := jsonrpc.MakeID(float64(1))
	if err != nil {
		t.Fatalf("MakeID failed: %v", err)
	}

	params := json.RawMessage(`{"name":"file_read","arguments":{"path":"/tmp/test.txt"}}`)
	req := &jsonrpc.Request{
		ID:     id,
		Method: "tools/call",
		Params: params,
	}

	encoded, err := EncodeMessage(req)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}

	decodedReq, ok := decoded.(*jsonrpc.Request)
	if !ok {
		t.Fatalf("expected *jsonrpc.Request, got %T", decoded)
	}
	if decodedReq.Method != "tools/call" {
		t.Errorf("expected method 'tools/call', got %q", decodedReq.Method)
	}
}

func TestEncodeDecodeResponse(t *testing.T) {
	id, err := jsonrpc.MakeID(float64(1))
	if err != nil {
		t.Fatalf("MakeID failed: %v", err)
	}

	result := json.RawMessage(`{"content":"hello world"}`)
	resp := &jsonrpc.Response{
		ID:     id,
		Result: result,
	}

	encoded, err := EncodeMessage(resp)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}

	decodedResp, ok := decoded.(*jsonrpc.Response)
	if !ok {
		t.Fatalf("expected *jsonrpc.Response, got %T", decoded)
	}
	if decodedResp.Result == nil {
		t.Error("expected result to be set")
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "not valid json", data: []byte(`{not valid`)},
		{name: "empty object", data: []byte(`{}`)},
		{name: "missing jsonrpc version", data: []byte(`{"id":1,"method":"test"}`)},
		{name: "wrong jsonrpc version", data: []byte(`{"jsonrpc":"1.0","id":1,"method":"test"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.data)
			if err == nil {
				t.Errorf("expected error for malformed JSON %q, got nil", tt.name)
			}
		})
	}
}

func TestWrapMessage(t *testing.T) {
	tests := []struct {
		name           string
		raw            []byte
		dir            Direction
		wantMethod     string
		wantRequest    bool
		wantNotify     bool
		wantInitialize bool
		wantErr        bool
	}{
		{
			name:        "tools/call request client to server",
			raw:         []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"read_file"}}`),
			dir:         ClientToServer,
			wantMethod:  "tools/call",
			wantRequest: true,
		},
		{
			name:           "initialize request",
			raw:            []byte(`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{}}`),
			dir:            ClientToServer,
			wantMethod:     "initialize",
			wantRequest:    true,
			wantInitialize: true,
		},
		{
			name:        "notification, no id",
			raw:         []byte(`{"jsonrpc":"2.0","method":"notifications/cancelled"}`),
			dir:         ClientToServer,
			wantMethod:  "notifications/cancelled",
			wantRequest: true,
			wantNotify:  true,
		},
		{
			name:       "response server to client",
			raw:        []byte(`{"jsonrpc":"2.0","id":1,"result":{"content":"data"}}`),
			dir:        ServerToClient,
			wantMethod: "",
		},
		{
			name:    "invalid json returns error",
			raw:     []byte(`{invalid`),
			dir:     ClientToServer,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := WrapMessage(tt.raw, tt.dir)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if string(msg.Raw) != string(tt.raw) {
				t.Errorf("raw bytes not preserved: got %q, want %q", msg.Raw, tt.raw)
			}
			if msg.Direction != tt.dir {
				t.Errorf("direction: got %v, want %v", msg.Direction, tt.dir)
			}
			if msg.Timestamp.IsZero() {
				t.Error("timestamp should be set")
			}
			if msg.Method() != tt.wantMethod {
				t.Errorf("Method(): got %q, want %q", msg.Method(), tt.wantMethod)
			}
			if msg.IsRequest() != tt.wantRequest {
				t.Errorf("IsRequest(): got %v, want %v", msg.IsRequest(), tt.wantRequest)
			}
			if msg.IsResponse() == tt.wantRequest {
				t.Errorf("IsResponse(): got %v, want %v", msg.IsResponse(), !tt.wantRequest)
			}
			if msg.IsNotification() != tt.wantNotify {
				t.Errorf("IsNotification(): got %v, want %v", msg.IsNotification(), tt.wantNotify)
			}
			if msg.IsInitialize() != tt.wantInitialize {
				t.Errorf("IsInitialize(): got %v, want %v", msg.IsInitialize(), tt.wantInitialize)
			}
		})
	}
}

func TestDirectionString(t *testing.T) {
	tests := []struct {
		dir  Direction
		want string
	}{
		{ClientToServer, "client->server"},
		{ServerToClient, "server->client"},
		{Direction(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.dir.String(); got != tt.want {
			t.Errorf("Direction(%d).String() = %q, want %q", tt.dir, got, tt.want)
		}
	}
}

func TestMessageAccessors(t *testing.T) {
	reqRaw := []byte(`{"jsonrpc":"2.0","id":1,"method":"test"}`)
	reqMsg, err := WrapMessage(reqRaw, ClientToServer)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}

	if reqMsg.Request() == nil {
		t.Error("Request() should return non-nil for request message")
	}
	if reqMsg.Response() != nil {
		t.Error("Response() should return nil for request message")
	}
	if reqMsg.RawIDKey() == "" {
		t.Error("RawIDKey() should be non-empty for a request carrying an id")
	}

	respRaw := []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)
	respMsg, err := WrapMessage(respRaw, ServerToClient)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}

	if respMsg.Response() == nil {
		t.Error("Response() should return non-nil for response message")
	}
	if respMsg.Request() != nil {
		t.Error("Request() should return nil for response message")
	}
	if respMsg.RawIDKey() != reqMsg.RawIDKey() {
		t.Errorf("RawIDKey(): got %q, want %q (both carry id 1)", respMsg.RawIDKey(), reqMsg.RawIDKey())
	}
}

func TestMessageWithNilDecoded(t *testing.T) {
	msg := &Message{
		Raw:       []byte(`invalid`),
		Direction: ClientToServer,
		Decoded:   nil,
		Timestamp: time.Now(),
	}

	if msg.IsRequest() {
		t.Error("IsRequest() should return false for nil Decoded")
	}
	if msg.IsResponse() {
		t.Error("IsResponse() should return false for nil Decoded")
	}
	if msg.Method() != "" {
		t.Error("Method() should return empty string for nil Decoded")
	}
	if msg.Request() != nil {
		t.Error("Request() should return nil for nil Decoded")
	}
	if msg.Response() != nil {
		t.Error("Response() should return nil for nil Decoded")
	}
}

func TestMessageRawID(t *testing.T) {
	withID, err := WrapMessage([]byte(`{"jsonrpc":"2.0","id":"abc","method":"ping"}`), ClientToServer)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}
	if withID.RawIDKey() != `"abc"` {
		t.Errorf("RawIDKey(): got %q, want %q", withID.RawIDKey(), `"abc"`)
	}

	noID := &Message{Raw: []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)}
	if noID.RawIDKey() != "" {
		t.Errorf("RawIDKey() for a notification should be empty, got %q", noID.RawIDKey())
	}

	unparsable := &Message{Raw: nil}
	if unparsable.RawID() != nil {
		t.Error("RawID() should return nil when Raw is nil")
	}
}
