package server

import (
	"sync"

	"github.com/claude-studio/pairlink/observability"
)

// DeviceRegistry tracks the single live connection per device id.
type DeviceRegistry struct {
	mu    sync.Mutex
	conns map[string]*conn
}

func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{conns: make(map[string]*conn)}
}

// Attach makes c the live connection for its device id and returns the
// displaced prior connection, if any. The displaced connection is marked
// closing before the overwrite, so frames routed to the device id after
// Attach returns can only reach c. The caller still owns closing the
// displaced socket.
func (r *DeviceRegistry) Attach(c *conn) *conn {
	r.mu.Lock()
	prev := r.conns[c.deviceID]
	if prev != nil {
		prev.close(observability.CloseReasonReplaced)
	}
	r.conns[c.deviceID] = c
	r.mu.Unlock()
	return prev
}

// Detach removes c only while it is still the live connection for its device
// id. A displaced connection detaching late is a no-op, which keeps the
// replacement from looking like the device went offline.
func (r *DeviceRegistry) Detach(c *conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.deviceID] != c {
		return false
	}
	delete(r.conns, c.deviceID)
	return true
}

// Get returns the live connection for a device id.
func (r *DeviceRegistry) Get(deviceID string) (*conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[deviceID]
	return c, ok
}

// Len reports the number of attached devices.
func (r *DeviceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
