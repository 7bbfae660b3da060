// Package session implements the stateful Streamable HTTP session registry:
// it correlates a session's POSTs, GET-SSE stream, and DELETE with a
// dedicated child process, tracks access-counted idle time, and evicts
// sessions whose idle period exceeds the configured timeout.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/supercorp-ai/supergateway/internal/child"
	"github.com/supercorp-ai/supergateway/pkg/mcp"
)

// ErrEvicted is delivered to any pending response sink still open when a
// session is evicted (idle timeout, DELETE, or registry shutdown).
var ErrEvicted = errors.New("session: evicted")

// ErrUnknownSession is returned by operations addressed at a session id the
// registry has never seen, or has already evicted.
var ErrUnknownSession = errors.New("session: unknown")

// Result is delivered on a pending response sink: either the child's
// matching response, or an error (timeout, eviction, child exit).
type Result struct {
	Msg *mcp.Message
	Err error
}

// Session is one logical MCP conversation bound to a dedicated child.
type Session struct {
	ID    string
	Child *child.Supervisor

	mu          sync.Mutex
	accessCount int
	lastIdleAt  time.Time
	idle        bool
	pending     map[string]chan Result

	evMu   sync.Mutex
	evCond *sync.Cond
	events []*mcp.Message
	closed bool

	cancelCorrelate context.CancelFunc
}

func newSession(id string, sup *child.Supervisor) *Session {
	s := &Session{
		ID:      id,
		Child:   sup,
		idle:    true,
		pending: make(map[string]chan Result),
	}
	s.evCond = sync.NewCond(&s.evMu)
	return s
}

// Acquire takes a lease on the session: it increments access_count on entry
// and returns a release func that decrements it, setting last_idle_at to
// now the moment the count reaches zero. Any Acquire while the count is
// above zero clears last_idle_at.
func (s *Session) Acquire() (release func()) {
	s.mu.Lock()
	s.accessCount++
	s.idle = false
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.accessCount--
			if s.accessCount <= 0 {
				s.accessCount = 0
				s.idle = true
				s.lastIdleAt = time.Now()
			}
			s.mu.Unlock()
		})
	}
}

// idleExpiry returns (idleSince, isIdle): isIdle is false while access_count
// is above zero, matching the invariant access_count == 0 iff last_idle_at
// is set.
func (s *Session) idleExpiry() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIdleAt, s.idle
}

// RegisterPending records that requestID is awaiting a response from the
// child and returns the channel its Result will be delivered on. The
// channel is buffered so a delivery never blocks on the reader.
func (s *Session) RegisterPending(requestID string) <-chan Result {
	ch := make(chan Result, 1)
	s.mu.Lock()
	s.pending[requestID] = ch
	s.mu.Unlock()
	return ch
}

// CancelPending removes requestID from the pending set without delivering
// anything, e.g. when the waiting POST's context is cancelled.
func (s *Session) CancelPending(requestID string) {
	s.mu.Lock()
	delete(s.pending, requestID)
	s.mu.Unlock()
}

// resolvePending delivers res to requestID's sink if one is registered.
// Returns true if a waiter was found and the message should not also be
// treated as a server-initiated event.
func (s *Session) resolvePending(requestID string, res Result) bool {
	s.mu.Lock()
	ch, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}

func (s *Session) failAllPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan Result)
	s.mu.Unlock()
	for _, ch := range pending {
		ch <- Result{Err: err}
	}
}

// enqueueServerEvent appends a server-originated message (a notification or
// server-initiated request with no matching pending POST) to the FIFO
// queue consumed by the session's GET-SSE stream.
func (s *Session) enqueueServerEvent(msg *mcp.Message) {
	s.evMu.Lock()
	s.events = append(s.events, msg)
	s.evCond.Signal()
	s.evMu.Unlock()
}

// NextServerEvent blocks until a server event is available, the session is
// closed, or ctx is done. Delivers events in enqueue order.
func (s *Session) NextServerEvent(ctx context.Context) (*mcp.Message, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.evMu.Lock()
			s.evCond.Broadcast()
			s.evMu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	s.evMu.Lock()
	defer s.evMu.Unlock()
	for len(s.events) == 0 && !s.closed {
		if ctx.Err() != nil {
			return nil, false
		}
		s.evCond.Wait()
	}
	if len(s.events) == 0 {
		return nil, false
	}
	msg := s.events[0]
	s.events = s.events[1:]
	return msg, true
}

func (s *Session) close() {
	s.evMu.Lock()
	s.closed = true
	s.events = nil
	s.evCond.Broadcast()
	s.evMu.Unlock()

	if s.cancelCorrelate != nil {
		s.cancelCorrelate()
	}
	s.failAllPending(ErrEvicted)
	_ = s.Child.Shutdown()
}

// Registry holds every live stateful session and reaps idle ones.
type Registry struct {
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	onEvict  func(id string)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Registry whose sessions are evicted after timeout of
// continuous idleness. The reaper wakes every min(timeout/4, 5s).
func New(timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		timeout:  timeout,
		logger:   logger,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// OnEvict registers fn to be called exactly once for every session this
// registry evicts, whether by idle timeout, an explicit Delete, or
// Shutdown, after the session is removed from the registry. Callers that
// keep their own per-session state keyed by session id (e.g. a runtime
// override subscription) should use this to release it on every eviction
// path instead of only the ones they happen to drive themselves.
func (r *Registry) OnEvict(fn func(id string)) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

func (r *Registry) notifyEvict(id string) {
	r.mu.RLock()
	fn := r.onEvict
	r.mu.RUnlock()
	if fn != nil {
		fn(id)
	}
}

// GenerateID returns a new 128-bit session id encoded as hex, per the
// SessionId data model.
func GenerateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Create registers a new session bound to sup and starts its correlation
// loop (matching child stdout responses to pending POSTs, or enqueuing
// them as server events).
func (r *Registry) Create(id string, sup *child.Supervisor) *Session {
	sess := newSession(id, sup)

	ctx, cancel := context.WithCancel(context.Background())
	sess.cancelCorrelate = cancel

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	go r.correlate(ctx, sess)
	return sess
}

func (r *Registry) correlate(ctx context.Context, sess *Session) {
	ch, unsubscribe := sess.Child.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				sess.failAllPending(errors.New("session: child exited"))
				return
			}
			key := msg.RawIDKey()
			if key == "" || !sess.resolvePending(key, Result{Msg: msg}) {
				sess.enqueueServerEvent(msg)
			}
		}
	}
}

// Get returns the session for id, if it is still registered.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Delete forcibly evicts a session regardless of access count, as a DELETE
// request requires. Returns ErrUnknownSession if id is not registered.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	sess.close()
	r.notifyEvict(id)
	return nil
}

// ListIDs returns every currently registered session id.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) reapInterval() time.Duration {
	quarter := r.timeout / 4
	if quarter > 5*time.Second {
		return 5 * time.Second
	}
	if quarter <= 0 {
		return 5 * time.Second
	}
	return quarter
}

func (r *Registry) reapLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.reapInterval())
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Registry) reapOnce() {
	now := time.Now()
	var expired []*Session

	r.mu.Lock()
	for id, sess := range r.sessions {
		idleSince, isIdle := sess.idleExpiry()
		if isIdle && now.Sub(idleSince) >= r.timeout {
			expired = append(expired, sess)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		r.logger.Info("session: evicting idle session", "session_id", sess.ID)
		sess.close()
		r.notifyEvict(sess.ID)
	}
}

// Shutdown stops the reaper and evicts every remaining session.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
		r.notifyEvict(sess.ID)
	}
}
