package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_EvictsSilentClientOnce(t *testing.T) {
	m, h := newTestManager(t)
	socket := newFakeSocket()
	c := m.Attach(socket)
	require.NoError(t, m.BindDevice(c, "dev-1"))

	mon := NewMonitor(m, m.logger)

	assert.Equal(t, 0, mon.Sweep())
	assert.Equal(t, 1, socket.Pings())

	assert.Equal(t, 1, mon.Sweep())
	assert.True(t, socket.isClosed())
	assert.Equal(t, 0, mon.Sweep())

	require.Eventually(t, func() bool { return c.IsDisconnected() }, waitFor, 10*time.Millisecond)
	// Give the read pump a chance to run its own teardown.
	time.Sleep(50 * time.Millisecond)

	disconnects := h.Disconnects()
	require.Len(t, disconnects, 1)
	assert.Same(t, c, disconnects[0].client)
	assert.True(t, disconnects[0].current)

	_, ok := m.Registry().FindDevice("dev-1")
	assert.False(t, ok)
}

func TestMonitor_PongKeepsClientAlive(t *testing.T) {
	m, h := newTestManager(t)
	socket := newFakeSocket()
	c := m.Attach(socket)
	require.NoError(t, m.BindDashboard(c))

	// Wait for the read pump to install the pong handler.
	require.Eventually(t, func() bool {
		socket.mu.Lock()
		defer socket.mu.Unlock()
		return socket.pong != nil
	}, waitFor, 10*time.Millisecond)

	mon := NewMonitor(m, m.logger)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 0, mon.Sweep())
		socket.Pong()
	}

	assert.Equal(t, 3, socket.Pings())
	assert.False(t, c.IsDisconnected())
	assert.Empty(t, h.Disconnects())
}

func TestMonitor_MarkAliveFromHeartbeat(t *testing.T) {
	m, _ := newTestManager(t)
	c := m.Attach(newFakeSocket())
	mon := NewMonitor(m, m.logger)

	mon.Sweep()
	c.MarkAlive()
	assert.Equal(t, 0, mon.Sweep())
	assert.Equal(t, 1, mon.Sweep())
}

// stallingHandler blocks disconnect handling until released, like a
// gateway that has stopped answering.
type stallingHandler struct {
	recordingHandler
	release chan struct{}
}

func (h *stallingHandler) HandleDisconnect(ctx context.Context, c *Client, current bool) {
	<-h.release
	h.recordingHandler.HandleDisconnect(ctx, c, current)
}

func TestMonitor_SweepDoesNotWaitForDisconnectHandling(t *testing.T) {
	m, _ := newTestManager(t)
	h := &stallingHandler{release: make(chan struct{})}
	m.SetHandler(h)
	released := false
	release := func() {
		if !released {
			released = true
			close(h.release)
		}
	}
	t.Cleanup(release)

	silent := newFakeSocket()
	require.NoError(t, m.BindDevice(m.Attach(silent), "dev-1"))

	healthy := newFakeSocket()
	require.NoError(t, m.BindDashboard(m.Attach(healthy)))
	require.Eventually(t, func() bool {
		healthy.mu.Lock()
		defer healthy.mu.Unlock()
		return healthy.pong != nil
	}, waitFor, 10*time.Millisecond)

	mon := NewMonitor(m, m.logger)
	assert.Equal(t, 0, mon.Sweep())
	healthy.Pong()

	done := make(chan int, 1)
	go func() { done <- mon.Sweep() }()

	select {
	case evicted := <-done:
		assert.Equal(t, 1, evicted)
	case <-time.After(time.Second):
		require.FailNow(t, "sweep blocked on disconnect handling")
	}

	assert.True(t, silent.isClosed())
	assert.Equal(t, 2, healthy.Pings())
	assert.Empty(t, h.Disconnects())

	// A sweep during the stalled teardown does not evict the client again.
	healthy.Pong()
	assert.Equal(t, 0, mon.Sweep())

	release()
	require.Eventually(t, func() bool { return len(h.Disconnects()) == 1 }, waitFor, 10*time.Millisecond)
	assert.True(t, h.Disconnects()[0].current)
}
