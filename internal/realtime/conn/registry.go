package conn

import (
	"sync"

	"go.uber.org/zap"
)

// RemoveHook runs after a connection has been removed from the registry.
// The room index hooks its cleanup here so membership never outlives the
// connection.
type RemoveHook func(connID string)

// Registry tracks every live connection in the process. It does no network
// I/O itself; sinks decide what Send and Close mean.
type Registry struct {
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
	hooks []RemoveHook
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("conn.registry"),
		conns:  make(map[string]*Conn),
	}
}

// OnRemove registers a hook fired on every removal. Hooks run outside the
// registry lock, in registration order.
func (r *Registry) OnRemove(hook RemoveHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Add registers c, displacing any previous connection with the same ID.
// The displaced sink is closed so its pumps shut down.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	old, displaced := r.conns[c.ID]
	r.conns[c.ID] = c
	r.mu.Unlock()

	if displaced {
		r.logger.Warn("displacing existing connection",
			zap.String("conn_id", c.ID),
			zap.String("project_id", c.ProjectID))
		_ = old.Close()
	}
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Remove deletes the connection and fires the removal hooks. Removing an
// unknown ID is a no-op and fires nothing.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, id)
	hooks := make([]RemoveHook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(id)
	}
}

// IsOpen reports whether id is registered and its transport still accepts
// writes. Unknown IDs are simply not open.
func (r *Registry) IsOpen(id string) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	return ok && c.IsOpen()
}

// Touch bumps last-activity for id, if registered.
func (r *Registry) Touch(id string) {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if ok {
		c.Touch()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// List returns a snapshot of all registered connections.
func (r *Registry) List() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// CloseAll closes every sink and empties the registry without firing
// removal hooks. Used at shutdown, where the room index is torn down with
// the process.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			r.logger.Debug("close connection",
				zap.String("conn_id", c.ID), zap.Error(err))
		}
	}
}
