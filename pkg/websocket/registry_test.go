package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bareClient(id string) *Client {
	return newClient(id, newFakeSocket(), 4, nil)
}

func TestRegistry_RegisterAndFind(t *testing.T) {
	r := NewRegistry()
	device := bareClient("c1")
	dashboard := bareClient("c2")

	require.NoError(t, device.bind(RoleDevice, "dev-1"))
	previous, err := r.RegisterDevice("dev-1", device)
	require.NoError(t, err)
	assert.Nil(t, previous)
	require.NoError(t, r.RegisterDashboard(dashboard))

	found, ok := r.FindDevice("dev-1")
	require.True(t, ok)
	assert.Same(t, device, found)

	_, ok = r.FindDevice("dev-2")
	assert.False(t, ok)

	devices, dashboards := r.Counts()
	assert.Equal(t, 1, devices)
	assert.Equal(t, 1, dashboards)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"dev-1"}, r.DeviceIDs())
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := bareClient("c1")
	require.NoError(t, c.bind(RoleDevice, "dev-1"))
	_, err := r.RegisterDevice("dev-1", c)
	require.NoError(t, err)

	assert.True(t, r.Unregister(c))
	assert.False(t, r.Unregister(c))

	_, ok := r.FindDevice("dev-1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ReplacedDeviceKeepsNewMapping(t *testing.T) {
	r := NewRegistry()
	oldConn := bareClient("old")
	newConn := bareClient("new")
	require.NoError(t, oldConn.bind(RoleDevice, "dev-1"))
	require.NoError(t, newConn.bind(RoleDevice, "dev-1"))

	_, err := r.RegisterDevice("dev-1", oldConn)
	require.NoError(t, err)
	previous, err := r.RegisterDevice("dev-1", newConn)
	require.NoError(t, err)
	assert.Same(t, oldConn, previous)

	assert.False(t, r.Unregister(oldConn))

	found, ok := r.FindDevice("dev-1")
	require.True(t, ok)
	assert.Same(t, newConn, found)
}

func TestRegistry_DashboardSnapshot(t *testing.T) {
	r := NewRegistry()
	a, b := bareClient("a"), bareClient("b")
	require.NoError(t, r.RegisterDashboard(a))
	require.NoError(t, r.RegisterDashboard(b))

	snapshot := r.Dashboards()
	r.Unregister(a)

	assert.Len(t, snapshot, 2)
	assert.Len(t, r.Dashboards(), 1)
}

func TestRegistry_RejectsDisconnectedClient(t *testing.T) {
	r := NewRegistry()
	c := bareClient("c1")
	c.disconnected.Store(true)

	assert.False(t, r.Add(c))
	assert.ErrorIs(t, r.RegisterDashboard(c), ErrDisconnected)
	_, err := r.RegisterDevice("dev-1", c)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, 0, r.Len())
}

func TestClient_BindOnce(t *testing.T) {
	c := bareClient("c1")
	assert.Equal(t, RoleUnbound, c.Role())

	require.NoError(t, c.bind(RoleDevice, "dev-1"))
	assert.ErrorIs(t, c.bind(RoleDashboard, ""), ErrAlreadyRegistered)
	assert.Equal(t, RoleDevice, c.Role())
	assert.Equal(t, "dev-1", c.DeviceID())
}

func TestClient_SendNeverBlocks(t *testing.T) {
	c := newClient("c1", newFakeSocket(), 1, nil)

	assert.True(t, c.Send([]byte("a")))
	assert.False(t, c.Send([]byte("b")))

	c.closeSend()
	assert.False(t, c.Send([]byte("c")))
}
