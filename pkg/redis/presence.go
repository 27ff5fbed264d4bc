package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/config"
	"github.com/anatoly-dev/fleet-hub/pkg/metrics"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	devicePrefix     = "fleet:device:"
	onlineDevicesKey = "fleet:devices:online"
)

// removeIfOwned drops the presence key only while it still names this
// instance, so a device that reconnected elsewhere stays online.
var removeIfOwned = redis.NewScript(`
if redis.call("HGET", KEYS[1], "instance_id") == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("SREM", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// PresenceDirectory records which hub instance holds each device's socket.
type PresenceDirectory struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
	ttl        time.Duration
	metrics    *metrics.RedisMetrics
}

func NewPresenceDirectory(cfg *config.RedisConfig, logger *zap.Logger, instanceID string) (*PresenceDirectory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.PresenceTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	return &PresenceDirectory{
		client:     client,
		logger:     logger,
		instanceID: instanceID,
		ttl:        ttl,
	}, nil
}

func (d *PresenceDirectory) InstanceID() string {
	return d.instanceID
}

func (d *PresenceDirectory) SetMetrics(metrics *metrics.RedisMetrics) {
	d.metrics = metrics
}

func deviceKey(deviceID string) string {
	return devicePrefix + deviceID
}

func (d *PresenceDirectory) SetOnline(ctx context.Context, p *models.Presence) error {
	key := deviceKey(p.DeviceID)

	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, key,
		"instance_id", p.InstanceID,
		"connection_id", p.ConnectionID,
		"connected_at", p.Connected.Unix())
	pipe.Expire(ctx, key, d.ttl)
	pipe.SAdd(ctx, onlineDevicesKey, p.DeviceID)

	if _, err := pipe.Exec(ctx); err != nil {
		d.countError("set_online")
		return fmt.Errorf("failed to register device presence: %w", err)
	}

	if d.metrics != nil {
		d.metrics.PresenceWrites.Inc()
	}
	return nil
}

// Touch extends the TTL of a device's presence key.
func (d *PresenceDirectory) Touch(ctx context.Context, deviceID string) error {
	ok, err := d.client.Expire(ctx, deviceKey(deviceID), d.ttl).Result()
	if err != nil {
		d.countError("touch")
		return fmt.Errorf("failed to refresh device presence: %w", err)
	}
	if !ok {
		// Key expired while the socket stayed up; write it again.
		return d.SetOnline(ctx, models.NewPresence(deviceID, d.instanceID, ""))
	}
	return nil
}

func (d *PresenceDirectory) SetOffline(ctx context.Context, deviceID string) error {
	removed, err := removeIfOwned.Run(ctx, d.client,
		[]string{deviceKey(deviceID), onlineDevicesKey},
		d.instanceID, deviceID).Int()
	if err != nil {
		d.countError("set_offline")
		return fmt.Errorf("failed to remove device presence: %w", err)
	}

	if removed == 1 && d.metrics != nil {
		d.metrics.PresenceRemovals.Inc()
	}
	return nil
}

// OnlineDevices returns device ids whose presence key has not expired.
// Stale set members are pruned on the way.
func (d *PresenceDirectory) OnlineDevices(ctx context.Context) ([]string, error) {
	members, err := d.client.SMembers(ctx, onlineDevicesKey).Result()
	if err != nil {
		d.countError("online_devices")
		return nil, fmt.Errorf("failed to list online devices: %w", err)
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	pipe := d.client.Pipeline()
	exists := make([]*redis.IntCmd, len(members))
	for i, id := range members {
		exists[i] = pipe.Exists(ctx, deviceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		d.countError("online_devices")
		return nil, fmt.Errorf("failed to read device presence: %w", err)
	}

	online := make([]string, 0, len(members))
	var stale []interface{}
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, members[i])
			continue
		}
		online = append(online, members[i])
	}

	if len(stale) > 0 {
		if err := d.client.SRem(ctx, onlineDevicesKey, stale...).Err(); err != nil {
			d.logger.Warn("failed to prune stale presence", zap.Error(err))
		}
	}

	return online, nil
}

// InstanceOf returns the instance holding deviceID, or "" when offline.
func (d *PresenceDirectory) InstanceOf(ctx context.Context, deviceID string) (string, error) {
	instanceID, err := d.client.HGet(ctx, deviceKey(deviceID), "instance_id").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		d.countError("instance_of")
		return "", fmt.Errorf("failed to read device presence: %w", err)
	}
	return instanceID, nil
}

func (d *PresenceDirectory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *PresenceDirectory) countError(operation string) {
	if d.metrics != nil {
		d.metrics.RedisOperationErrors.WithLabelValues(operation).Inc()
	}
}

func (d *PresenceDirectory) Close() error {
	d.logger.Info("Closing Redis presence directory")

	if err := d.client.Close(); err != nil {
		d.logger.Error("Error closing Redis client", zap.Error(err))
		return err
	}
	return nil
}
