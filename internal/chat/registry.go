// Package chat implements the connected-user set and the chat router
// (spec components C7 and the registry half of §3's "Connected-user
// set"), grounded on the teacher's WebSocketHub in
// internal/api/websocket.go: one mutex-guarded map, snapshot-for-fanout
// iteration, and registration on connect/disconnect.
package chat

import (
	"strings"
	"sync"

	"github.com/tactoed/tactoed/internal/session"
)

// Registry is the shared, mutable connected-user set (spec §3). The
// dispatcher inserts a session when it authenticates, the chat router
// re-keys it on rename, and the server's session teardown removes it;
// all of these go through this type's methods under one lock.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*session.Session // keyed by lower-cased username
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*session.Session)}
}

// Add inserts sess under its current username, case-folded. It reports
// false if a session is already registered under that username (spec
// §8 invariant 2: at most one session per case-folded username).
func (r *Registry) Add(sess *session.Session) bool {
	key := strings.ToLower(sess.Username())

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[key]; exists {
		return false
	}
	r.byKey[key] = sess
	return true
}

// Remove deletes sess from the registry if it is still the session
// registered under its username. Idempotent: removing an unknown
// session is a no-op.
func (r *Registry) Remove(sess *session.Session) {
	key := strings.ToLower(sess.Username())

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byKey[key]; ok && cur == sess {
		delete(r.byKey, key)
	}
}

// RenameKey moves sess's registration from oldName to its current
// Username(), used after a successful !user rename.
func (r *Registry) RenameKey(sess *session.Session, oldName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oldKey := strings.ToLower(oldName)
	if cur, ok := r.byKey[oldKey]; ok && cur == sess {
		delete(r.byKey, oldKey)
	}
	r.byKey[strings.ToLower(sess.Username())] = sess
}

// Get looks up a session by username, case-insensitively.
func (r *Registry) Get(username string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byKey[strings.ToLower(username)]
	return sess, ok
}

// Exists reports whether username (case-insensitive) is currently
// connected.
func (r *Registry) Exists(username string) bool {
	_, ok := r.Get(username)
	return ok
}

// Snapshot returns a stable slice of every connected session at the
// moment of the call, for broadcast fan-out.
func (r *Registry) Snapshot() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Session, 0, len(r.byKey))
	for _, sess := range r.byKey {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of connected sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
