// Command supergateway bridges MCP transports: stdio, SSE, WebSocket, and
// Streamable HTTP, in either direction.
package main

import "github.com/supercorp-ai/supergateway/cmd/supergateway/cmd"

func main() {
	cmd.Execute()
}
