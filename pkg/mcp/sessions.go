package mcp

import "sync"

// SessionRegistry maps maestro session IDs to MCP client session IDs.
// Populated when a client calls maestro.run with a session_id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // sessionID → MCP client session ID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register binds a session ID to an MCP client session.
// A later call for the same session ID wins (reconnect).
func (r *SessionRegistry) Register(sessionID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = clientID
}

// ClientFor returns the MCP client bound to sessionID, if any.
func (r *SessionRegistry) ClientFor(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.sessions[sessionID]
	return cid, ok
}

// Remove deletes every binding to the given MCP client session.
func (r *SessionRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, cid := range r.sessions {
		if cid == clientID {
			delete(r.sessions, sid)
		}
	}
}

// Len returns the number of bound sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
