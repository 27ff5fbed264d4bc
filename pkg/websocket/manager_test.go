package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/metrics"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor = 2 * time.Second

func newTestManager(t *testing.T) (*Manager, *recordingHandler) {
	t.Helper()

	m := NewManager(Options{PingInterval: time.Hour, WriteWait: time.Second}, zap.NewNop())
	h := &recordingHandler{}
	m.SetHandler(h)
	return m, h
}

func decode(t *testing.T, data []byte) models.Message {
	t.Helper()

	var msg models.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestManager_SendToDevice(t *testing.T) {
	m, _ := newTestManager(t)
	socket := newFakeSocket()
	c := m.Attach(socket)
	require.NoError(t, m.BindDevice(c, "dev-1"))

	delivered := m.SendToDevice("dev-1", &models.Message{Type: models.MessageTypeBeepDevice, Message: "Find my device"})
	assert.True(t, delivered)

	require.Eventually(t, func() bool { return len(socket.Written()) == 1 }, waitFor, 10*time.Millisecond)
	msg := decode(t, socket.Written()[0])
	assert.Equal(t, models.MessageTypeBeepDevice, msg.Type)
	assert.Equal(t, "Find my device", msg.Message)

	assert.False(t, m.SendToDevice("dev-unknown", &models.Message{Type: models.MessageTypeBeepDevice}))
}

func TestManager_SendToDeviceAfterDisconnect(t *testing.T) {
	m, h := newTestManager(t)
	socket := newFakeSocket()
	c := m.Attach(socket)
	require.NoError(t, m.BindDevice(c, "dev-1"))

	socket.Close()
	require.Eventually(t, func() bool { return len(h.Disconnects()) == 1 }, waitFor, 10*time.Millisecond)

	assert.False(t, m.SendToDevice("dev-1", &models.Message{Type: models.MessageTypeBeepDevice}))
	assert.True(t, h.Disconnects()[0].current)
}

func TestManager_BroadcastReachesEveryDashboard(t *testing.T) {
	m, _ := newTestManager(t)

	sockets := make([]*fakeSocket, 3)
	for i := range sockets {
		sockets[i] = newFakeSocket()
		require.NoError(t, m.BindDashboard(m.Attach(sockets[i])))
	}
	device := newFakeSocket()
	require.NoError(t, m.BindDevice(m.Attach(device), "dev-1"))

	n := m.BroadcastToDashboards(&models.Message{
		Type:     models.MessageTypeDeviceUpdate,
		DeviceID: "dev-1",
		Data:     map[string]interface{}{"is_online": true},
	})
	assert.Equal(t, 3, n)

	for _, s := range sockets {
		s := s
		require.Eventually(t, func() bool { return len(s.Written()) == 1 }, waitFor, 10*time.Millisecond)
		msg := decode(t, s.Written()[0])
		assert.Equal(t, models.MessageTypeDeviceUpdate, msg.Type)
		assert.Equal(t, "dev-1", msg.DeviceID)
	}
	assert.Empty(t, device.Written())
}

func TestManager_BroadcastSkipsClosedDashboard(t *testing.T) {
	m, h := newTestManager(t)

	live := newFakeSocket()
	require.NoError(t, m.BindDashboard(m.Attach(live)))
	dead := newFakeSocket()
	require.NoError(t, m.BindDashboard(m.Attach(dead)))

	dead.Close()
	require.Eventually(t, func() bool { return len(h.Disconnects()) == 1 }, waitFor, 10*time.Millisecond)

	assert.Equal(t, 1, m.BroadcastToDashboards(&models.Message{Type: models.MessageTypeTelemetryBatch}))
}

func TestManager_FramesArriveInOrder(t *testing.T) {
	m, h := newTestManager(t)
	socket := newFakeSocket()
	m.Attach(socket)

	for i := 0; i < 10; i++ {
		socket.inbound <- []byte{byte('0' + i)}
	}

	require.Eventually(t, func() bool { return len(h.Frames()) == 10 }, waitFor, 10*time.Millisecond)
	for i, frame := range h.Frames() {
		assert.Equal(t, []byte{byte('0' + i)}, frame)
	}
}

func TestManager_ReplacedConnectionDisconnectIsNotCurrent(t *testing.T) {
	m, h := newTestManager(t)

	oldSocket := newFakeSocket()
	require.NoError(t, m.BindDevice(m.Attach(oldSocket), "dev-1"))
	newSocket := newFakeSocket()
	replacement := m.Attach(newSocket)
	require.NoError(t, m.BindDevice(replacement, "dev-1"))

	oldSocket.Close()
	require.Eventually(t, func() bool { return len(h.Disconnects()) == 1 }, waitFor, 10*time.Millisecond)
	assert.False(t, h.Disconnects()[0].current)

	found, ok := m.Registry().FindDevice("dev-1")
	require.True(t, ok)
	assert.Same(t, replacement, found)
}

func TestManager_BindTwice(t *testing.T) {
	m, _ := newTestManager(t)
	c := m.Attach(newFakeSocket())

	require.NoError(t, m.BindDashboard(c))
	assert.ErrorIs(t, m.BindDevice(c, "dev-1"), ErrAlreadyRegistered)

	_, ok := m.Registry().FindDevice("dev-1")
	assert.False(t, ok)
}

func TestManager_Metrics(t *testing.T) {
	m, _ := newTestManager(t)
	mt := metrics.NewMetrics("test", prometheus.NewRegistry())
	m.SetMetrics(&mt.WebSocket)

	require.NoError(t, m.BindDashboard(m.Attach(newFakeSocket())))
	require.NoError(t, m.BindDevice(m.Attach(newFakeSocket()), "dev-1"))

	assert.Equal(t, 2.0, testutil.ToFloat64(mt.WebSocket.ConnectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.WebSocket.ActiveConnections.WithLabelValues("DEVICE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.WebSocket.ActiveConnections.WithLabelValues("DASHBOARD")))

	m.BroadcastToDashboards(&models.Message{Type: models.MessageTypeDeviceUpdate})
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.WebSocket.MessagesSent.WithLabelValues("DEVICE_UPDATE")))

	socket := newFakeSocket()
	m.Attach(socket)
	socket.inbound <- []byte(`{"type":"REGISTER"}`)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(mt.WebSocket.MessagesReceived.WithLabelValues("UNBOUND")) == 1
	}, waitFor, 10*time.Millisecond)
}

func TestManager_DeliverCountsFullQueue(t *testing.T) {
	m, _ := newTestManager(t)
	mt := metrics.NewMetrics("test", prometheus.NewRegistry())
	m.SetMetrics(&mt.WebSocket)

	// No write pump drains this client.
	c := newClient("c1", newFakeSocket(), 1, m)

	assert.True(t, m.deliver(c, models.MessageTypeDeviceUpdate, []byte("a")))
	assert.False(t, m.deliver(c, models.MessageTypeDeviceUpdate, []byte("b")))

	c.closeSend()
	assert.False(t, m.deliver(c, models.MessageTypeDeviceUpdate, []byte("c")))

	assert.Equal(t, 1.0, testutil.ToFloat64(mt.WebSocket.SendQueueFull))
	assert.Equal(t, 2.0, testutil.ToFloat64(mt.WebSocket.MessagesDropped.WithLabelValues("DEVICE_UPDATE")))
}

func TestManager_CloseWaitsForDisconnects(t *testing.T) {
	m, h := newTestManager(t)
	for i := 0; i < 3; i++ {
		m.Attach(newFakeSocket())
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	assert.Len(t, h.Disconnects(), 3)
	assert.Equal(t, 0, m.Registry().Len())
}

func TestManager_CheckOrigin(t *testing.T) {
	m := NewManager(Options{AllowedOrigins: []string{"https://dash.example.com"}}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, m.checkOrigin(req))

	req.Header.Set("Origin", "https://dash.example.com")
	assert.True(t, m.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, m.checkOrigin(req))
}
