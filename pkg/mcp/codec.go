package mcp

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes msg to its JSON-RPC wire bytes, via the SDK's own
// codec: every adapter in internal/bridge goes through this one function
// rather than calling jsonrpc.EncodeMessage directly.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage parses data into a *jsonrpc.Request or *jsonrpc.Response,
// via the SDK's codec.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw and wraps it in a Message carrying dir and the
// current time. Decode failure is returned to the caller with no Message;
// framing.Decoder reports such a line through its BadLineFunc and discards
// it.
func WrapMessage(raw []byte, dir Direction) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Direction: dir,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}
