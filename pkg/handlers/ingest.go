package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/anatoly-dev/fleet-hub/pkg/store"
	"github.com/go-chi/chi/v5"
)

type deviceRef struct {
	DeviceID string `json:"device_id"`
}

type telemetryBatchRequest struct {
	DeviceID string            `json:"device_id"`
	Events   []json.RawMessage `json:"events"`
}

type locationBatchRequest struct {
	DeviceID  string            `json:"device_id"`
	Locations []json.RawMessage `json:"locations"`
}

func (h *APIHandler) ingestError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, models.ErrInvalidPayload) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.storeError(w, err, message)
}

func (h *APIHandler) SubmitTelemetry(w http.ResponseWriter, r *http.Request) {
	var ref struct {
		deviceRef
		EventType string `json:"event_type"`
	}
	raw, ok := decodeBody(w, r, &ref)
	if !ok {
		return
	}
	if ref.DeviceID == "" || ref.EventType == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields: device_id, event_type")
		return
	}

	event, err := h.ingest.RecordTelemetry(r.Context(), ref.DeviceID, raw)
	if err != nil {
		h.ingestError(w, err, "Failed to record telemetry")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Telemetry event recorded",
		"id":      event.ID,
	})
}

func (h *APIHandler) SubmitTelemetryBatch(w http.ResponseWriter, r *http.Request) {
	var req telemetryBatchRequest
	if _, ok := decodeBody(w, r, &req); !ok {
		return
	}
	if req.DeviceID == "" || req.Events == nil {
		writeError(w, http.StatusBadRequest, "Missing required fields: device_id, events (array)")
		return
	}

	count := h.ingest.RecordTelemetryBatch(r.Context(), req.DeviceID, req.Events)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("%d telemetry events recorded", count),
		"count":   count,
	})
}

func (h *APIHandler) SubmitLocation(w http.ResponseWriter, r *http.Request) {
	var ref struct {
		deviceRef
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	raw, ok := decodeBody(w, r, &ref)
	if !ok {
		return
	}
	if ref.DeviceID == "" || ref.Latitude == nil || ref.Longitude == nil {
		writeError(w, http.StatusBadRequest, "Missing required fields: device_id, latitude, longitude")
		return
	}

	sample, err := h.ingest.RecordLocation(r.Context(), ref.DeviceID, raw)
	if err != nil {
		h.ingestError(w, err, "Failed to record location")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":         true,
		"message":         "Location recorded",
		"id":              sample.ID,
		"movement_status": models.MovementStatus(sample.Speed),
	})
}

func (h *APIHandler) SubmitLocationBatch(w http.ResponseWriter, r *http.Request) {
	var req locationBatchRequest
	if _, ok := decodeBody(w, r, &req); !ok {
		return
	}
	if req.DeviceID == "" || req.Locations == nil {
		writeError(w, http.StatusBadRequest, "Missing required fields: device_id, locations (array)")
		return
	}

	count := h.ingest.RecordLocationBatch(r.Context(), req.DeviceID, req.Locations)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("%d locations recorded", count),
		"count":   count,
	})
}

func (h *APIHandler) LatestLocation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	sample, err := h.store.LatestLocation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No location data available")
			return
		}
		h.storeError(w, err, "Failed to fetch location")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    sample,
	})
}

func (h *APIHandler) LocationHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	samples, err := h.store.LocationHistory(ctx, chi.URLParam(r, "id"), queryInt(r, "limit", defaultLimit))
	if err != nil {
		h.storeError(w, err, "Failed to fetch location history")
		return
	}
	writeSamples(w, samples)
}

// LocationTrail returns the last half hour of samples, oldest first.
func (h *APIHandler) LocationTrail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	samples, err := h.store.LocationTrail(ctx, chi.URLParam(r, "id"), h.now().Add(-trailWindow))
	if err != nil {
		h.storeError(w, err, "Failed to fetch location trail")
		return
	}
	writeSamples(w, samples)
}

func writeSamples(w http.ResponseWriter, samples []models.LocationSample) {
	if samples == nil {
		samples = []models.LocationSample{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    samples,
		"count":   len(samples),
	})
}
