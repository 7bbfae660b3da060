package admin

import (
	"fmt"
	"net"
)

// newLoopbackListener binds strictly to 127.0.0.1, so any peer reaching
// this handler has already been filtered by the kernel's routing, not by
// request-time IP inspection.
func newLoopbackListener(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("admin: bind loopback listener: %w", err)
	}
	return ln, nil
}
