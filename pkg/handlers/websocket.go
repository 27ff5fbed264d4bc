package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/anatoly-dev/fleet-hub/pkg/websocket"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	wsManager *websocket.Manager
	logger    *zap.Logger
}

func NewWebSocketHandler(wsManager *websocket.Manager, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
		logger:    logger,
	}
}

// HandleConnection upgrades the request. Peers identify themselves later
// with a REGISTER frame.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("WebSocket connection request", zap.String("remoteAddr", r.RemoteAddr))
	h.wsManager.HandleConnection(w, r)
}

func (h *WebSocketHandler) CloseConnections(ctx context.Context) error {
	h.logger.Info("Closing all WebSocket connections")
	return h.wsManager.Close(ctx)
}

// ConnectionCounter reports live connections by role.
type ConnectionCounter interface {
	Counts() (devices, dashboards int)
}

type HealthCheckHandler struct {
	counter ConnectionCounter
	logger  *zap.Logger
}

func NewHealthCheckHandler(counter ConnectionCounter, logger *zap.Logger) *HealthCheckHandler {
	return &HealthCheckHandler{
		counter: counter,
		logger:  logger,
	}
}

type HealthResponse struct {
	Status              string `json:"status"`
	Timestamp           string `json:"timestamp"`
	ConnectedDevices    int    `json:"connected_devices"`
	ConnectedDashboards int    `json:"connected_dashboards"`
}

func (h *HealthCheckHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	devices, dashboards := h.counter.Counts()
	h.logger.Debug("Health check",
		zap.Int("devices", devices),
		zap.Int("dashboards", dashboards))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:              "ok",
		Timestamp:           models.FormatTimestamp(time.Now()),
		ConnectedDevices:    devices,
		ConnectedDashboards: dashboards,
	})
}
