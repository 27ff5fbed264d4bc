package handlers

import (
	"net/http"

	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/go-chi/chi/v5"
)

func (h *APIHandler) SubmitBrowserVisit(w http.ResponseWriter, r *http.Request) {
	var req models.BrowserPayload
	if _, ok := decodeBody(w, r, &req); !ok {
		return
	}
	if req.DeviceID == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields: device_id, url")
		return
	}

	visit, err := h.ingest.RecordBrowserVisit(r.Context(), req)
	if err != nil {
		h.ingestError(w, err, "Failed to record URL")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "URL recorded",
		"id":      visit.ID,
		"domain":  visit.Domain,
	})
}

func (h *APIHandler) BrowserHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	limit := queryInt(r, "limit", defaultLimit)
	offset := queryInt(r, "offset", 0)

	visits, total, err := h.store.BrowserHistory(ctx, chi.URLParam(r, "deviceId"), limit, offset)
	if err != nil {
		h.storeError(w, err, "Failed to fetch history")
		return
	}
	if visits == nil {
		visits = []models.BrowserVisit{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    visits,
		"count":   len(visits),
		"total":   total,
	})
}

func (h *APIHandler) BrowserStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	visits, err := h.store.BrowserSince(ctx, chi.URLParam(r, "deviceId"), h.now().Add(-statsWindow))
	if err != nil {
		h.storeError(w, err, "Failed to fetch stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    summarizeBrowsing(visits),
	})
}

func (h *APIHandler) SearchBrowserHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "Missing search query")
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	visits, err := h.store.SearchBrowserHistory(ctx, chi.URLParam(r, "deviceId"), query, searchLimit)
	if err != nil {
		h.storeError(w, err, "Failed to search history")
		return
	}
	if visits == nil {
		visits = []models.BrowserVisit{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    visits,
		"count":   len(visits),
	})
}

func (h *APIHandler) ClearBrowserHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	if err := h.store.ClearBrowserHistory(ctx, chi.URLParam(r, "deviceId")); err != nil {
		h.storeError(w, err, "Failed to clear history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Browser history cleared",
	})
}

func (h *APIHandler) TelemetryStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	events, err := h.store.TelemetrySince(ctx, chi.URLParam(r, "deviceId"), h.now().Add(-statsWindow), statsRowLimit)
	if err != nil {
		h.storeError(w, err, "Failed to fetch stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    summarizeTelemetry(events),
	})
}
