package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anatoly-dev/fleet-hub/pkg/config"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDirectory(t *testing.T, mr *miniredis.Miniredis, instanceID string) *PresenceDirectory {
	t.Helper()

	d, err := NewPresenceDirectory(&config.RedisConfig{
		Enabled:     true,
		Addr:        mr.Addr(),
		PresenceTTL: time.Minute,
	}, zap.NewNop(), instanceID)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestPresence_OnlineLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	d := newTestDirectory(t, mr, "hub-a")
	ctx := context.Background()

	require.NoError(t, d.SetOnline(ctx, models.NewPresence("dev-1", "hub-a", "c1")))
	require.NoError(t, d.SetOnline(ctx, models.NewPresence("dev-2", "hub-a", "c2")))

	online, err := d.OnlineDevices(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dev-1", "dev-2"}, online)

	instance, err := d.InstanceOf(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "hub-a", instance)

	require.NoError(t, d.SetOffline(ctx, "dev-1"))
	online, err = d.OnlineDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-2"}, online)

	instance, err = d.InstanceOf(ctx, "dev-1")
	require.NoError(t, err)
	assert.Empty(t, instance)
}

func TestPresence_ExpiredKeysArePruned(t *testing.T) {
	mr := miniredis.RunT(t)
	d := newTestDirectory(t, mr, "hub-a")
	ctx := context.Background()

	require.NoError(t, d.SetOnline(ctx, models.NewPresence("dev-1", "hub-a", "c1")))
	mr.FastForward(2 * time.Minute)

	online, err := d.OnlineDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)

	members, err := mr.Members(onlineDevicesKey)
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestPresence_TouchRefreshesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	d := newTestDirectory(t, mr, "hub-a")
	ctx := context.Background()

	require.NoError(t, d.SetOnline(ctx, models.NewPresence("dev-1", "hub-a", "c1")))
	mr.FastForward(50 * time.Second)
	require.NoError(t, d.Touch(ctx, "dev-1"))
	mr.FastForward(50 * time.Second)

	online, err := d.OnlineDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1"}, online)
}

func TestPresence_TouchRecreatesExpiredKey(t *testing.T) {
	mr := miniredis.RunT(t)
	d := newTestDirectory(t, mr, "hub-a")
	ctx := context.Background()

	require.NoError(t, d.Touch(ctx, "dev-9"))

	instance, err := d.InstanceOf(ctx, "dev-9")
	require.NoError(t, err)
	assert.Equal(t, "hub-a", instance)
}

func TestPresence_OfflineKeepsOtherInstanceEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestDirectory(t, mr, "hub-a")
	b := newTestDirectory(t, mr, "hub-b")
	ctx := context.Background()

	require.NoError(t, a.SetOnline(ctx, models.NewPresence("dev-1", "hub-a", "c1")))
	require.NoError(t, b.SetOnline(ctx, models.NewPresence("dev-1", "hub-b", "c2")))

	require.NoError(t, a.SetOffline(ctx, "dev-1"))

	instance, err := b.InstanceOf(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "hub-b", instance)
}

func TestPresence_ConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewPresenceDirectory(&config.RedisConfig{Addr: addr}, zap.NewNop(), "hub-a")
	assert.Error(t, err)
}
