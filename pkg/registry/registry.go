// Package registry owns the mapping from logical sessions to their
// sandboxes. The collection is an explicitly owned value with explicit
// add/remove operations, never a process-wide singleton; its lifetime is
// tied to the Manager that holds it.
package registry

import (
	"fmt"
	"sync"

	"github.com/warrenlabs/warren/pkg/sandbox"
)

// Registry is a mutex-guarded map of session id to sandbox handle. Every
// sandbox is exclusively owned by one session; adding a second sandbox for
// the same session is an error, not a replacement.
type Registry struct {
	mu        sync.RWMutex
	sandboxes map[string]*sandbox.Sandbox
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sandboxes: make(map[string]*sandbox.Sandbox)}
}

// Add registers sb as the sandbox for sessionID.
func (r *Registry) Add(sessionID string, sb *sandbox.Sandbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sandboxes[sessionID]; ok {
		return fmt.Errorf("session %s already owns sandbox %s", sessionID, existing.Name)
	}
	r.sandboxes[sessionID] = sb
	return nil
}

// Get returns the session's sandbox, if any.
func (r *Registry) Get(sessionID string) (*sandbox.Sandbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sb, ok := r.sandboxes[sessionID]
	return sb, ok
}

// Remove deregisters and returns the session's sandbox. Removing an unknown
// session returns (nil, false) without error.
func (r *Registry) Remove(sessionID string) (*sandbox.Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.sandboxes[sessionID]
	if ok {
		delete(r.sandboxes, sessionID)
	}
	return sb, ok
}

// Sessions returns the ids of all registered sessions.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sandboxes))
	for id := range r.sandboxes {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sandboxes)
}
