package gateway

import (
	"sync"
	"time"
)

// idleThreshold marks an editor connection idle after this much inactivity.
const idleThreshold = 5 * time.Minute

// ClientRegistry tracks connected editor frontends.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

// Add registers a connection.
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()
}

// Remove drops a connection from the registry.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

// Touch records activity on a connection.
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.Lock()
	if client, ok := r.clients[clientID]; ok {
		client.LastActivity = time.Now()
	}
	r.mu.Unlock()
}

// All returns every connected client, authenticated or not.
func (r *ClientRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		all = append(all, client)
	}
	return all
}

// Authenticated returns the clients eligible to receive event broadcasts.
func (r *ClientRegistry) Authenticated() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var eligible []*Client
	for _, client := range r.clients {
		if client.Authenticated {
			eligible = append(eligible, client)
		}
	}
	return eligible
}

// Snapshot returns connection info for every client, for the clients.list
// RPC method.
func (r *ClientRegistry) Snapshot() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		infos = append(infos, ClientInfo{
			ID:            client.ID,
			Authenticated: client.Authenticated,
			ConnectedAt:   client.ConnectedAt,
			LastActivity:  client.LastActivity,
			IPAddress:     client.IPAddress,
			Idle:          now.Sub(client.LastActivity) > idleThreshold,
		})
	}
	return infos
}
