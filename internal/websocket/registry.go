package websocket

import (
	"context"
	"sync"
)

// Registry tracks live connections so shutdown can close them all and wait
// for their handlers to finish cleanup.
type Registry struct {
	mu          sync.Mutex
	connections map[string]*trackedConnection
	wg          sync.WaitGroup
}

type trackedConnection struct {
	conn *Connection
	once sync.Once
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*trackedConnection)}
}

// Register tracks conn until the returned function is called. The function
// is idempotent. A connection registered under an existing id replaces it
// and the old one is closed.
func (r *Registry) Register(conn *Connection) (unregister func(), err error) {
	if conn == nil {
		return func() {}, ErrNilConnection
	}
	entry := &trackedConnection{conn: conn}

	r.mu.Lock()
	old := r.connections[conn.ID()]
	r.connections[conn.ID()] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		_ = old.conn.Close()
		r.unregister(conn.ID(), old)
	}
	return func() { r.unregister(conn.ID(), entry) }, nil
}

func (r *Registry) unregister(id string, entry *trackedConnection) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.connections[id] == entry {
			delete(r.connections, id)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Get returns the live connection for id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.connections[id]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// Count returns the number of tracked connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// CloseAll closes every tracked connection and returns how many were closed.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, entry := range r.connections {
		conns = append(conns, entry.conn)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}

// Wait blocks until every registered connection has unregistered or ctx ends.
// It reports whether all connections finished.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
