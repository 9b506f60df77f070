// Package session owns the WebSocket side of the service: one client per
// upgraded socket, a registry of locally attached clients, and the dispatcher
// that connects inbound frames to the room coordinator and pub/sub
// deliveries back to their sockets.
package session

import "sync"

// Registry tracks the clients attached to this process, keyed by connection
// id. Connections held by other processes are reachable only through their
// personal pub/sub channels.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID()] = c
}

func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connectionID)
}

func (r *Registry) Get(connectionID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connectionID]
	return c, ok
}

// All returns a snapshot of the attached clients.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
