package bridge

import (
	"net/http"
)

// HealthChecker backs every --healthEndpoint path: it returns 200 "ok" iff
// both the liveness and the readiness probe supplied by the adapter report
// true, else 500. Grounded on the teacher's HealthChecker,
// narrowed from a multi-component JSON report to the spec's plain-text
// liveness contract.
type HealthChecker struct {
	isAlive func() bool
	isReady func() bool
}

// NewHealthChecker builds a checker from liveness/readiness probes supplied
// by the adapter (typically child.Supervisor.IsAlive and a ReadyLatch).
func NewHealthChecker(isAlive, isReady func() bool) *HealthChecker {
	return &HealthChecker{isAlive: isAlive, isReady: isReady}
}

// Handler returns the plain-text handler to mount at each --healthEndpoint
// path.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.isAlive() || !h.isReady() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// ReadyLatch tracks "first child stdout line observed" readiness, set once
// and read many times.
type ReadyLatch struct {
	ch chan struct{}
}

// NewReadyLatch returns an unset latch.
func NewReadyLatch() *ReadyLatch {
	return &ReadyLatch{ch: make(chan struct{})}
}

// Set marks the latch ready; safe to call more than once.
func (l *ReadyLatch) Set() {
	select {
	case <-l.ch:
	default:
		close(l.ch)
	}
}

// Ready reports whether the latch has been set.
func (l *ReadyLatch) Ready() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}
