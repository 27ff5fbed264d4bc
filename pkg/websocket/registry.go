package websocket

import "sync"

// Registry tracks every live connection, the device id to connection
// mapping and the dashboard set.
type Registry struct {
	mu         sync.RWMutex
	all        map[*Client]struct{}
	devices    map[string]*Client
	dashboards map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		all:        make(map[*Client]struct{}),
		devices:    make(map[string]*Client),
		dashboards: make(map[*Client]struct{}),
	}
}

// Add tracks an unbound connection. Disconnected clients are ignored.
func (r *Registry) Add(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.IsDisconnected() {
		return false
	}
	r.all[c] = struct{}{}
	return true
}

// RegisterDevice maps deviceID to c and returns the connection it replaced,
// if any. The replaced connection stays open.
func (r *Registry) RegisterDevice(deviceID string, c *Client) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.IsDisconnected() {
		return nil, ErrDisconnected
	}

	previous := r.devices[deviceID]
	r.devices[deviceID] = c
	r.all[c] = struct{}{}

	if previous == c {
		return nil, nil
	}
	return previous, nil
}

func (r *Registry) RegisterDashboard(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.IsDisconnected() {
		return ErrDisconnected
	}

	r.dashboards[c] = struct{}{}
	r.all[c] = struct{}{}
	return nil
}

// Unregister removes c from every set. The device mapping is only removed
// when it still points at c; the return value reports whether it did.
// Calling it twice is harmless.
func (r *Registry) Unregister(c *Client) bool {
	deviceID := c.DeviceID()

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.all, c)
	delete(r.dashboards, c)

	if deviceID == "" {
		return false
	}
	if current, ok := r.devices[deviceID]; ok && current == c {
		delete(r.devices, deviceID)
		return true
	}
	return false
}

func (r *Registry) FindDevice(deviceID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.devices[deviceID]
	return c, ok
}

// Dashboards returns a snapshot safe to iterate while the registry changes.
func (r *Registry) Dashboards() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.dashboards))
	for c := range r.dashboards {
		out = append(out, c)
	}
	return out
}

func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.all))
	for c := range r.all {
		out = append(out, c)
	}
	return out
}

// DeviceIDs lists the devices with a live connection.
func (r *Registry) DeviceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.devices))
	for id := range r.devices {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Counts() (devices, dashboards int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices), len(r.dashboards)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.all)
}
