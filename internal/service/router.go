package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/metrics"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/anatoly-dev/fleet-hub/pkg/store"
	"github.com/anatoly-dev/fleet-hub/pkg/websocket"
	"go.uber.org/zap"
)

// Presence mirrors device connectivity into a directory shared by every
// hub instance.
type Presence interface {
	SetOnline(ctx context.Context, p *models.Presence) error
	Touch(ctx context.Context, deviceID string) error
	SetOffline(ctx context.Context, deviceID string) error
}

type frameHandler func(ctx context.Context, c *websocket.Client, frame *models.Frame)

type deviceFrameHandler func(ctx context.Context, c *websocket.Client, deviceID string, payload json.RawMessage)

// Router runs the per-connection protocol: it binds connections, persists
// device events and fans the derived events out to dashboards.
type Router struct {
	hub        *websocket.Manager
	store      store.Store
	presence   Presence
	logger     *zap.Logger
	metrics    *metrics.RouterMetrics
	timeout    time.Duration
	instanceID string
	now        func() time.Time
	handlers   map[models.MessageType]frameHandler
}

func NewRouter(
	hub *websocket.Manager,
	st store.Store,
	timeout time.Duration,
	instanceID string,
	logger *zap.Logger,
) *Router {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	r := &Router{
		hub:        hub,
		store:      st,
		logger:     logger,
		timeout:    timeout,
		instanceID: instanceID,
		now:        time.Now,
	}

	r.registerMessageHandlers()
	hub.SetHandler(r)

	return r
}

func (r *Router) SetMetrics(metrics *metrics.RouterMetrics) {
	r.metrics = metrics
}

func (r *Router) SetPresence(presence Presence) {
	r.presence = presence
}

func (r *Router) registerMessageHandlers() {
	r.handlers = map[models.MessageType]frameHandler{
		models.MessageTypeRegister:       r.handleRegister,
		models.MessageTypeLocationUpdate: r.deviceOnly(r.handleLocationUpdate),
		models.MessageTypeTelemetryEvent: r.deviceOnly(r.handleTelemetryEvent),
		models.MessageTypeLocationStatus: r.deviceOnly(r.handleLocationStatus),
		models.MessageTypeHeartbeat:      r.deviceOnly(r.handleHeartbeat),
	}
}

func (r *Router) HandleFrame(ctx context.Context, c *websocket.Client, data []byte) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.logger.Debug("Malformed frame",
			zap.Error(err),
			zap.String("clientID", c.ID))

		r.rejected("malformed")
		r.sendError(c, "Invalid message format")
		return
	}

	handler, ok := r.handlers[frame.Type]
	if !ok {
		r.logger.Debug("Unknown message type",
			zap.String("type", string(frame.Type)),
			zap.String("clientID", c.ID))

		r.rejected("unknown_type")
		return
	}

	if r.metrics != nil {
		r.metrics.FramesHandled.WithLabelValues(string(frame.Type)).Inc()
	}

	handler(ctx, c, &frame)
}

// deviceOnly drops frames from connections not bound as a device.
func (r *Router) deviceOnly(h deviceFrameHandler) frameHandler {
	return func(ctx context.Context, c *websocket.Client, frame *models.Frame) {
		deviceID := c.DeviceID()
		if c.Role() != websocket.RoleDevice || deviceID == "" {
			r.logger.Debug("Device frame from unregistered connection",
				zap.String("type", string(frame.Type)),
				zap.String("clientID", c.ID))

			r.rejected("unregistered")
			return
		}

		h(ctx, c, deviceID, frame.Payload)
	}
}

func (r *Router) handleRegister(ctx context.Context, c *websocket.Client, frame *models.Frame) {
	if c.Role() != websocket.RoleUnbound {
		r.rejected("already_registered")
		r.sendError(c, "already registered")
		return
	}

	switch frame.ClientType {
	case models.ClientTypeDashboard:
		r.registerDashboard(ctx, c)
	case models.ClientTypeDevice:
		r.registerDevice(ctx, c, frame.DeviceID)
	default:
		r.rejected("invalid_client_type")
		r.sendError(c, "invalid client_type")
	}
}

func (r *Router) registerDashboard(ctx context.Context, c *websocket.Client) {
	if err := r.hub.BindDashboard(c); err != nil {
		r.bindFailed(c, err)
		return
	}

	r.logger.Info("Dashboard connected", zap.String("clientID", c.ID))

	var devices []models.Device
	err := r.persist(ctx, "list_devices", func(ctx context.Context) error {
		var err error
		devices, err = r.store.ListDevices(ctx)
		return err
	})
	if err != nil {
		r.sendError(c, "Failed to load devices")
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}

	r.hub.Send(c, &models.Message{
		Type: models.MessageTypeDeviceList,
		Data: devices,
	})
}

func (r *Router) registerDevice(ctx context.Context, c *websocket.Client, deviceID string) {
	if deviceID == "" {
		r.rejected("missing_device_id")
		r.sendError(c, "device_id required")
		return
	}

	if err := r.hub.BindDevice(c, deviceID); err != nil {
		r.bindFailed(c, err)
		return
	}

	r.logger.Info("Device connected",
		zap.String("deviceID", deviceID),
		zap.String("clientID", c.ID))

	now := r.now()
	err := r.persist(ctx, "register_device", func(ctx context.Context) error {
		_, err := r.store.EnsureDevice(ctx, &models.Device{
			DeviceID:   deviceID,
			DeviceName: deviceID,
			IsOnline:   true,
			FirstSeen:  now,
			LastSeen:   &now,
		})
		if err != nil {
			return err
		}
		return r.store.UpdateDevice(ctx, deviceID, models.SeenPatch(now))
	})
	if err != nil {
		return
	}

	r.presenceOnline(ctx, deviceID, c.ID)

	r.broadcast(&models.Message{
		Type:     models.MessageTypeDeviceUpdate,
		DeviceID: deviceID,
		Data: map[string]interface{}{
			"is_online": true,
			"last_seen": models.FormatTimestamp(now),
		},
	})
}

func (r *Router) bindFailed(c *websocket.Client, err error) {
	if errors.Is(err, websocket.ErrAlreadyRegistered) {
		r.rejected("already_registered")
		r.sendError(c, "already registered")
		return
	}

	r.logger.Debug("Bind on closing connection", zap.Error(err), zap.String("clientID", c.ID))
}

func (r *Router) handleLocationUpdate(ctx context.Context, c *websocket.Client, deviceID string, payload json.RawMessage) {
	if !hasPayload(payload) {
		r.rejected("missing_payload")
		return
	}

	if _, err := r.RecordLocation(ctx, deviceID, payload); errors.Is(err, models.ErrInvalidPayload) {
		r.rejected("invalid_payload")
		r.sendError(c, "Invalid location payload")
	}
}

func (r *Router) handleTelemetryEvent(ctx context.Context, c *websocket.Client, deviceID string, payload json.RawMessage) {
	if !hasPayload(payload) {
		r.rejected("missing_payload")
		return
	}

	if _, err := r.RecordTelemetry(ctx, deviceID, payload); errors.Is(err, models.ErrInvalidPayload) {
		r.rejected("invalid_payload")
		r.sendError(c, "Invalid telemetry payload")
	}
}

func (r *Router) handleLocationStatus(ctx context.Context, c *websocket.Client, deviceID string, payload json.RawMessage) {
	if !hasPayload(payload) {
		r.rejected("missing_payload")
		return
	}

	var status models.LocationStatusPayload
	if err := json.Unmarshal(payload, &status); err != nil {
		r.rejected("invalid_payload")
		r.sendError(c, "Invalid location status payload")
		return
	}

	err := r.persist(ctx, "location_status", func(ctx context.Context) error {
		return r.store.UpdateDevice(ctx, deviceID, models.LocationEnabledPatch(status.Enabled))
	})
	if err != nil {
		return
	}

	r.broadcast(&models.Message{
		Type:     models.MessageTypeDeviceUpdate,
		DeviceID: deviceID,
		Data: map[string]interface{}{
			"location_enabled": status.Enabled,
		},
	})
}

func (r *Router) handleHeartbeat(ctx context.Context, c *websocket.Client, deviceID string, _ json.RawMessage) {
	c.MarkAlive()

	r.markSeen(ctx, deviceID, models.SeenPatch(r.now()))
	r.presenceTouch(ctx, deviceID)

	r.hub.Send(c, &models.Message{Type: models.MessageTypeHeartbeatAck})
}

// HandleDisconnect marks the device offline unless a newer connection has
// already taken its place.
func (r *Router) HandleDisconnect(ctx context.Context, c *websocket.Client, current bool) {
	if c.Role() != websocket.RoleDevice {
		return
	}

	deviceID := c.DeviceID()
	if !current {
		r.logger.Info("Replaced device connection closed",
			zap.String("deviceID", deviceID),
			zap.String("clientID", c.ID))
		return
	}

	r.logger.Info("Device disconnected",
		zap.String("deviceID", deviceID),
		zap.String("clientID", c.ID))

	r.presenceOffline(ctx, deviceID)

	now := r.now()
	err := r.persist(ctx, "mark_offline", func(ctx context.Context) error {
		return r.store.UpdateDevice(ctx, deviceID, models.OfflinePatch(now))
	})
	if err != nil {
		return
	}

	r.broadcast(&models.Message{
		Type:     models.MessageTypeDeviceUpdate,
		DeviceID: deviceID,
		Data: map[string]interface{}{
			"is_online": false,
			"last_seen": models.FormatTimestamp(now),
		},
	})
}

// SendCommand routes an operator command to one device. A false result
// means the device has no live connection here.
func (r *Router) SendCommand(cmd models.Command) bool {
	delivered := r.hub.SendToDevice(cmd.DeviceID, cmd.Envelope())

	if r.metrics != nil {
		if delivered {
			r.metrics.CommandsSent.WithLabelValues(string(cmd.Type)).Inc()
		} else {
			r.metrics.CommandsUndelivered.WithLabelValues(string(cmd.Type)).Inc()
		}
	}

	r.logger.Info("Command routed",
		zap.String("type", string(cmd.Type)),
		zap.String("deviceID", cmd.DeviceID),
		zap.Bool("delivered", delivered))

	return delivered
}

func (r *Router) broadcast(msg *models.Message) {
	n := r.hub.BroadcastToDashboards(msg)

	if r.metrics != nil {
		r.metrics.Broadcasts.WithLabelValues(string(msg.Type)).Inc()
	}

	r.logger.Debug("Broadcast",
		zap.String("type", string(msg.Type)),
		zap.String("deviceID", msg.DeviceID),
		zap.Int("recipients", n))
}

func (r *Router) sendError(c *websocket.Client, text string) {
	r.hub.Send(c, &models.Message{
		Type:    models.MessageTypeError,
		Message: text,
	})
}

func (r *Router) rejected(reason string) {
	if r.metrics != nil {
		r.metrics.FramesRejected.WithLabelValues(reason).Inc()
	}
}

// persist runs one gateway operation under the store timeout. Failures are
// logged and counted; callers only decide whether to go on.
func (r *Router) persist(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)

	if r.metrics != nil {
		r.metrics.PersistLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if err != nil {
			r.metrics.PersistErrors.WithLabelValues(operation).Inc()
		}
	}

	if err != nil {
		r.logger.Error("Persistence failed",
			zap.String("operation", operation),
			zap.Error(err))
	}
	return err
}

// markSeen records device activity. The event it accompanies is already
// stored, so a failure here is logged and otherwise ignored.
func (r *Router) markSeen(ctx context.Context, deviceID string, patch models.DevicePatch) {
	r.persist(ctx, "mark_seen", func(ctx context.Context) error {
		return r.store.UpdateDevice(ctx, deviceID, patch)
	})
}

func (r *Router) presenceOnline(ctx context.Context, deviceID, connectionID string) {
	if r.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.presence.SetOnline(ctx, models.NewPresence(deviceID, r.instanceID, connectionID)); err != nil {
		r.logger.Warn("Failed to record presence", zap.Error(err), zap.String("deviceID", deviceID))
	}
}

func (r *Router) presenceTouch(ctx context.Context, deviceID string) {
	if r.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.presence.Touch(ctx, deviceID); err != nil {
		r.logger.Warn("Failed to refresh presence", zap.Error(err), zap.String("deviceID", deviceID))
	}
}

func (r *Router) presenceOffline(ctx context.Context, deviceID string) {
	if r.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.presence.SetOffline(ctx, deviceID); err != nil {
		r.logger.Warn("Failed to clear presence", zap.Error(err), zap.String("deviceID", deviceID))
	}
}

func hasPayload(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
