// Package mcp provides MCP message types and JSON-RPC codec utilities
// shared by every transport adapter in Supergateway.
package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Direction indicates the flow direction of a message through the bridge.
type Direction int

const (
	// ClientToServer indicates a message flowing from client to MCP server.
	ClientToServer Direction = iota
	// ServerToClient indicates a message flowing from MCP server to client.
	ServerToClient
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	default:
		return "unknown"
	}
}

// Message wraps a decoded JSON-RPC message with framing metadata. It keeps
// both the raw bytes (for byte-exact passthrough) and the decoded message
// (for the handful of places the bridge must look at method names or ids).
type Message struct {
	// Raw contains the original line bytes, without the trailing newline.
	Raw []byte

	// Direction indicates whether this message is flowing from
	// client to server or server to client.
	Direction Direction

	// Decoded contains the parsed JSON-RPC message. Nil if parsing failed;
	// callers that only need passthrough can still use Raw in that case.
	// The concrete type is either *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the message was framed.
	Timestamp time.Time
}

// IsRequest returns true if the message is a JSON-RPC request or notification.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse returns true if the message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// Method returns the method name if this is a request, empty string otherwise.
func (m *Message) Method() string {
	req, ok := m.Decoded.(*jsonrpc.Request)
	if !ok {
		return ""
	}
	return req.Method
}

// IsNotification returns true if this is a request-shaped message with no id.
// The SDK's jsonrpc.ID does not marshal cleanly through interface{}, so id
// presence is judged from the raw bytes rather than the decoded struct, same
// as RawID below.
func (m *Message) IsNotification() bool {
	return m.IsRequest() && len(m.RawID()) == 0
}

// IsInitialize returns true if this is an initialize request.
func (m *Message) IsInitialize() bool {
	return m.Method() == "initialize"
}

// Request returns the underlying Request if this is a request message.
func (m *Message) Request() *jsonrpc.Request {
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying Response if this is a response message.
func (m *Message) Response() *jsonrpc.Response {
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// RawID extracts the request/response "id" field directly from the raw JSON.
// The SDK's jsonrpc.ID does not round-trip cleanly through interface{}, so
// callers that need to correlate on id (session pending maps, stateless
// batch draining) work from the raw bytes instead.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	return raw["id"]
}

// RawIDKey returns RawID as a comparable string suitable for map keys, or
// "" if there is no id.
func (m *Message) RawIDKey() string {
	id := m.RawID()
	if len(id) == 0 {
		return ""
	}
	return string(id)
}
