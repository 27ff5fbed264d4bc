package websocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Role string

const (
	RoleUnbound   Role = "UNBOUND"
	RoleDevice    Role = "DEVICE"
	RoleDashboard Role = "DASHBOARD"
)

var (
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrDisconnected      = errors.New("connection disconnected")
)

// Socket is the part of *websocket.Conn the hub uses.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one live socket. Role and device id are set at most once.
type Client struct {
	ID        string
	Connected time.Time

	socket  Socket
	send    chan []byte
	manager *Manager

	mu       sync.RWMutex
	role     Role
	deviceID string
	closed   bool

	// handleMu serialises frame handling with disconnect handling.
	handleMu sync.Mutex

	alive        atomic.Bool
	evicted      atomic.Bool
	disconnected atomic.Bool
	closeOnce    sync.Once
}

func newClient(id string, socket Socket, bufferSize int, manager *Manager) *Client {
	c := &Client{
		ID:        id,
		Connected: time.Now(),
		socket:    socket,
		send:      make(chan []byte, bufferSize),
		manager:   manager,
		role:      RoleUnbound,
	}
	c.alive.Store(true)
	return c
}

func (c *Client) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// DeviceID is empty unless the client is bound as a device.
func (c *Client) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

func (c *Client) bind(role Role, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role != RoleUnbound {
		return ErrAlreadyRegistered
	}
	c.role = role
	c.deviceID = deviceID
	return nil
}

// Send queues data for the write pump. It never blocks; false means the
// client is gone or its queue is full.
func (c *Client) Send(data []byte) bool {
	ok, _ := c.trySend(data)
	return ok
}

// trySend reports full=true when data was refused only because the queue
// had no room.
func (c *Client) trySend(data []byte) (ok, full bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false, false
	}

	select {
	case c.send <- data:
		return true, false
	default:
		return false, true
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) MarkAlive() {
	c.alive.Store(true)
}

func (c *Client) IsAlive() bool {
	return c.alive.Load()
}

func (c *Client) IsDisconnected() bool {
	return c.disconnected.Load()
}

func (c *Client) ping(deadline time.Time) error {
	return c.socket.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close tears down the socket; the read pump then runs disconnect handling.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.socket.Close()
	})
}

func (c *Client) readPump() {
	m := c.manager
	defer func() {
		m.disconnect(c)
		c.Close()
	}()

	c.socket.SetReadLimit(m.opts.MaxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(m.opts.pongWait()))
	c.socket.SetPongHandler(func(string) error {
		c.MarkAlive()
		return c.socket.SetReadDeadline(time.Now().Add(m.opts.pongWait()))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				m.logger.Info("WebSocket closed unexpectedly",
					zap.Error(err),
					zap.String("clientID", c.ID),
					zap.String("deviceID", c.DeviceID()))

				if m.metrics != nil {
					m.metrics.UnexpectedCloseCount.Inc()
				}
			}
			return
		}

		c.socket.SetReadDeadline(time.Now().Add(m.opts.pongWait()))

		if m.metrics != nil {
			m.metrics.BytesReceived.Add(float64(len(message)))
			m.metrics.MessagesReceived.WithLabelValues(string(c.Role())).Inc()
		}

		m.handleFrame(c, message)
	}
}

func (c *Client) writePump() {
	m := c.manager
	defer c.Close()

	for message := range c.send {
		c.socket.SetWriteDeadline(time.Now().Add(m.opts.WriteWait))
		if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
			m.logger.Debug("Write to client failed",
				zap.Error(err),
				zap.String("clientID", c.ID))
			return
		}

		if m.metrics != nil {
			m.metrics.BytesSent.Add(float64(len(message)))
		}
	}

	c.socket.SetWriteDeadline(time.Now().Add(m.opts.WriteWait))
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}
