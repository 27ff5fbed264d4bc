package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/config"
	"github.com/anatoly-dev/fleet-hub/pkg/metrics"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FrameHandler receives inbound frames and disconnect notifications.
// Calls for one client never overlap.
type FrameHandler interface {
	HandleFrame(ctx context.Context, c *Client, data []byte)
	// HandleDisconnect runs once per client. current is true when c was
	// still the live connection for its device.
	HandleDisconnect(ctx context.Context, c *Client, current bool)
}

type Options struct {
	PingInterval   time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBufferSize int
	AllowedOrigins []string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PingInterval:   cfg.Hub.PingInterval,
		WriteWait:      cfg.Hub.WriteWait,
		MaxMessageSize: cfg.Hub.MaxMessageSize,
		SendBufferSize: cfg.Hub.SendBufferSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
}

// pongWait covers two sweeps so that the liveness monitor, not the read
// deadline, is what normally evicts silent peers.
func (o Options) pongWait() time.Duration {
	return 2*o.PingInterval + o.WriteWait
}

type Manager struct {
	registry *Registry
	handler  FrameHandler
	logger   *zap.Logger
	upgrader websocket.Upgrader
	opts     Options
	metrics  *metrics.WebSocketMetrics

	pumps sync.WaitGroup
}

func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}

	m := &Manager{
		registry: NewRegistry(),
		logger:   logger,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	m.upgrader.CheckOrigin = m.checkOrigin

	return m
}

func (m *Manager) SetMetrics(metrics *metrics.WebSocketMetrics) {
	m.metrics = metrics
}

func (m *Manager) SetHandler(handler FrameHandler) {
	m.handler = handler
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	if len(m.opts.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range m.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("Failed to upgrade to WebSocket", zap.Error(err))

		if m.metrics != nil {
			m.metrics.UpgradeErrorCount.Inc()
		}

		return
	}

	m.Attach(conn)
}

// Attach starts serving an already upgraded socket and returns its client.
func (m *Manager) Attach(socket Socket) *Client {
	client := newClient(uuid.New().String(), socket, m.opts.SendBufferSize, m)
	m.registry.Add(client)

	if m.metrics != nil {
		m.metrics.ConnectionsTotal.Inc()
	}
	m.updateGauges()

	m.logger.Debug("Client connected", zap.String("clientID", client.ID))

	m.pumps.Add(1)
	go client.writePump()
	go func() {
		defer m.pumps.Done()
		client.readPump()
	}()

	return client
}

// BindDevice marks c as the connection for deviceID.
func (m *Manager) BindDevice(c *Client, deviceID string) error {
	if err := c.bind(RoleDevice, deviceID); err != nil {
		return err
	}

	previous, err := m.registry.RegisterDevice(deviceID, c)
	if err != nil {
		return err
	}
	if previous != nil {
		m.logger.Info("Device connection replaced",
			zap.String("deviceID", deviceID),
			zap.String("previousClientID", previous.ID),
			zap.String("clientID", c.ID))
	}

	m.updateGauges()
	return nil
}

func (m *Manager) BindDashboard(c *Client) error {
	if err := c.bind(RoleDashboard, ""); err != nil {
		return err
	}
	if err := m.registry.RegisterDashboard(c); err != nil {
		return err
	}

	m.updateGauges()
	return nil
}

// Send queues msg for one client.
func (m *Manager) Send(c *Client, msg *models.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("Failed to marshal message", zap.Error(err), zap.String("type", string(msg.Type)))
		return false
	}

	return m.deliver(c, msg.Type, data)
}

// SendToDevice reports whether msg was queued on the device's live
// connection.
func (m *Manager) SendToDevice(deviceID string, msg *models.Message) bool {
	c, ok := m.registry.FindDevice(deviceID)
	if !ok {
		return false
	}

	return m.Send(c, msg)
}

// BroadcastToDashboards queues msg for every dashboard and returns how many
// accepted it. Slow or closed dashboards are skipped.
func (m *Manager) BroadcastToDashboards(msg *models.Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("Failed to marshal broadcast", zap.Error(err), zap.String("type", string(msg.Type)))
		return 0
	}

	delivered := 0
	for _, c := range m.registry.Dashboards() {
		if m.deliver(c, msg.Type, data) {
			delivered++
		}
	}
	return delivered
}

func (m *Manager) deliver(c *Client, msgType models.MessageType, data []byte) bool {
	ok, full := c.trySend(data)
	if ok {
		if m.metrics != nil {
			m.metrics.MessagesSent.WithLabelValues(string(msgType)).Inc()
		}
		return true
	}

	if m.metrics != nil {
		m.metrics.MessagesDropped.WithLabelValues(string(msgType)).Inc()
		if full {
			m.metrics.SendQueueFull.Inc()
		}
	}
	m.logger.Debug("Message dropped",
		zap.String("clientID", c.ID),
		zap.String("type", string(msgType)))
	return false
}

func (m *Manager) handleFrame(c *Client, data []byte) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	if c.IsDisconnected() || m.handler == nil {
		return
	}
	m.handler.HandleFrame(context.Background(), c, data)
}

// disconnect runs teardown for c exactly once, whichever path gets here
// first.
func (m *Manager) disconnect(c *Client) {
	if !c.disconnected.CompareAndSwap(false, true) {
		return
	}

	current := m.registry.Unregister(c)
	c.closeSend()
	m.updateGauges()

	if m.metrics != nil {
		m.metrics.ConnectionDuration.Observe(time.Since(c.Connected).Seconds())
	}

	m.logger.Debug("Client disconnected",
		zap.String("clientID", c.ID),
		zap.String("role", string(c.Role())),
		zap.String("deviceID", c.DeviceID()))

	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	if m.handler != nil {
		m.handler.HandleDisconnect(context.Background(), c, current)
	}
}

func (m *Manager) updateGauges() {
	if m.metrics == nil {
		return
	}

	devices, dashboards := m.registry.Counts()
	total := m.registry.Len()
	m.metrics.ActiveConnections.WithLabelValues(string(RoleDevice)).Set(float64(devices))
	m.metrics.ActiveConnections.WithLabelValues(string(RoleDashboard)).Set(float64(dashboards))
	m.metrics.ActiveConnections.WithLabelValues(string(RoleUnbound)).Set(float64(total - devices - dashboards))
}

// Close sends a going-away frame to every client and waits for their
// disconnect handling to finish or for ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	for _, c := range m.registry.All() {
		deadline := time.Now().Add(m.opts.WriteWait)
		c.socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"),
			deadline)
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		m.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
