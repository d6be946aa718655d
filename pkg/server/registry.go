package server

import (
	"sync"
)

// Registry is the shared table of Active sessions. It is the only state
// shared across connection handlers; every operation is atomic with respect
// to the others, so no caller observes a half-applied register/unregister.
//
// Sessions are keyed by connection, not by address: two users may claim the
// same address, in which case FindByAddress degenerates to first match in
// login order.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	order    []uint64 // login order, for deterministic snapshots
	metrics  *Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		sessions: make(map[uint64]*Session),
		metrics:  metrics,
	}
}

// Register inserts (or overwrites) the entry for a session. Called once,
// at successful login.
func (r *Registry) Register(sess *Session) {
	r.mu.Lock()
	if _, exists := r.sessions[sess.ID]; !exists {
		r.order = append(r.order, sess.ID)
	}
	r.sessions[sess.ID] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveSessions(count)
	}
}

// Unregister atomically removes and returns the session's identity.
// Idempotent: a second call for the same session returns ok=false, which is
// what keeps a double logout from double-broadcasting.
func (r *Registry) Unregister(id uint64) (SessionInfo, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return SessionInfo{}, false
	}
	delete(r.sessions, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveSessions(count)
	}

	return sess.LoginInfo(), true
}

// Snapshot returns a point-in-time copy of every registered identity in
// login order. Callers never see the live map.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, id := range r.order {
		if sess, ok := r.sessions[id]; ok {
			infos = append(infos, sess.LoginInfo())
		}
	}
	return infos
}

// FindByAddress returns the first session (in login order) registered with
// exactly the given claimed address.
func (r *Registry) FindByAddress(ip string, port int) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		sess, ok := r.sessions[id]
		if !ok {
			continue
		}
		info := sess.LoginInfo()
		if info.Address.IP == ip && info.Address.Port == port {
			return sess, true
		}
	}
	return nil, false
}

// ForEachExcept applies fn to every registered session other than the
// excluded one. fn runs outside the registry lock, so it may itself call
// back into the registry. One recipient failing never skips the rest; the
// failed sessions come back to the caller for cleanup.
func (r *Registry) ForEachExcept(excluded uint64, fn func(*Session) error) []*Session {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, id := range r.order {
		if id == excluded {
			continue
		}
		if sess, ok := r.sessions[id]; ok {
			targets = append(targets, sess)
		}
	}
	r.mu.RUnlock()

	var failed []*Session
	for _, sess := range targets {
		if err := fn(sess); err != nil {
			debugLog.Printf("session %d: recipient error: %v", sess.ID, err)
			failed = append(failed, sess)
		}
	}
	return failed
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns the registered sessions in login order.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, id := range r.order {
		if sess, ok := r.sessions[id]; ok {
			sessions = append(sessions, sess)
		}
	}
	return sessions
}
