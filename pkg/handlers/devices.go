package handlers

import (
	"errors"
	"net/http"

	"github.com/anatoly-dev/fleet-hub/pkg/intent"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/anatoly-dev/fleet-hub/pkg/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultBeepMessage            = "Find my device"
	defaultRequestLocationMessage = "Admin requests location access"
)

type DeviceDetail struct {
	models.Device
	LatestLocation *models.LocationSample  `json:"latest_location"`
	RecentActivity []models.TelemetryEvent `json:"recent_activity"`
}

type registerDeviceRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	UserID     string `json:"user_id"`
}

type commandRequest struct {
	Message string `json:"message"`
}

func (h *APIHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	devices, err := h.store.ListDevices(ctx)
	if err != nil {
		h.storeError(w, err, "Failed to fetch devices")
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    devices,
		"count":   len(devices),
	})
}

func (h *APIHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if _, ok := decodeBody(w, r, &req); !ok {
		return
	}
	if req.DeviceID == "" || req.DeviceName == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields: device_id, device_name")
		return
	}

	device, created, err := h.ingest.RegisterDevice(r.Context(), &models.Device{
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		UserID:     req.UserID,
	})
	if err != nil {
		h.storeError(w, err, "Failed to register device")
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Device reconnected",
			"data":    device,
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Device registered",
		"data":    device,
	})
}

func (h *APIHandler) OnlineDevices(w http.ResponseWriter, r *http.Request) {
	if h.presence == nil {
		writeError(w, http.StatusServiceUnavailable, "Presence directory is disabled")
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	ids, err := h.presence.OnlineDevices(ctx)
	if err != nil {
		h.logger.Error("Failed to list online devices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list online devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    ids,
		"count":   len(ids),
	})
}

func (h *APIHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	ctx, cancel := h.context(r)
	defer cancel()

	device, err := h.store.GetDevice(ctx, deviceID)
	if err != nil {
		h.storeError(w, err, "Failed to fetch device")
		return
	}

	detail := DeviceDetail{Device: *device, RecentActivity: []models.TelemetryEvent{}}

	latest, err := h.store.LatestLocation(ctx, deviceID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.storeError(w, err, "Failed to fetch device")
		return
	}
	detail.LatestLocation = latest

	recent, err := h.store.TelemetryHistory(ctx, deviceID, recentActivity)
	if err != nil {
		h.storeError(w, err, "Failed to fetch device")
		return
	}
	if recent != nil {
		detail.RecentActivity = recent
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    detail,
	})
}

func (h *APIHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	if err := h.store.DeleteDevice(ctx, chi.URLParam(r, "id")); err != nil {
		h.storeError(w, err, "Failed to delete device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Device deleted",
	})
}

func (h *APIHandler) DeviceTelemetry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	events, err := h.store.TelemetryHistory(ctx, chi.URLParam(r, "id"), queryInt(r, "limit", defaultLimit))
	if err != nil {
		h.storeError(w, err, "Failed to fetch telemetry")
		return
	}
	if events == nil {
		events = []models.TelemetryEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    events,
		"count":   len(events),
	})
}

// DeviceIntent summarises the last day of app usage into one intent.
func (h *APIHandler) DeviceIntent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	events, err := h.store.TelemetrySince(ctx, chi.URLParam(r, "id"), h.now().Add(-statsWindow), statsRowLimit)
	if err != nil {
		h.storeError(w, err, "Failed to analyze intent")
		return
	}

	usage := make([]intent.Usage, 0, len(events))
	for _, ev := range events {
		usage = append(usage, intent.Usage{
			AppPackage: ev.AppPackage,
			AppLabel:   ev.AppLabel,
			DurationMs: ev.DurationMs,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    intent.AnalyzeSession(usage),
	})
}

func (h *APIHandler) Beep(w http.ResponseWriter, r *http.Request) {
	h.sendCommand(w, r, models.MessageTypeBeepDevice, defaultBeepMessage)
}

func (h *APIHandler) RequestLocation(w http.ResponseWriter, r *http.Request) {
	h.sendCommand(w, r, models.MessageTypeRequestLocationOn, defaultRequestLocationMessage)
}

func (h *APIHandler) sendCommand(w http.ResponseWriter, r *http.Request, msgType models.MessageType, defaultMessage string) {
	deviceID := chi.URLParam(r, "id")

	var req commandRequest
	if r.ContentLength != 0 {
		if _, ok := decodeBody(w, r, &req); !ok {
			return
		}
	}
	if req.Message == "" {
		req.Message = defaultMessage
	}

	ctx, cancel := h.context(r)
	defer cancel()

	if _, err := h.store.GetDevice(ctx, deviceID); err != nil {
		h.storeError(w, err, "Failed to send command")
		return
	}

	delivered := h.ingest.SendCommand(models.Command{
		Type:     msgType,
		DeviceID: deviceID,
		Message:  req.Message,
	})
	if !delivered {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success":   false,
			"delivered": false,
			"error":     "Device is not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"delivered": true,
	})
}
