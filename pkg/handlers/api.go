package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/anatoly-dev/fleet-hub/pkg/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Ingestor is the write side shared with the socket protocol.
type Ingestor interface {
	RecordTelemetry(ctx context.Context, deviceID string, raw json.RawMessage) (*models.TelemetryEvent, error)
	RecordTelemetryBatch(ctx context.Context, deviceID string, items []json.RawMessage) int
	RecordLocation(ctx context.Context, deviceID string, raw json.RawMessage) (*models.LocationSample, error)
	RecordLocationBatch(ctx context.Context, deviceID string, items []json.RawMessage) int
	RecordBrowserVisit(ctx context.Context, p models.BrowserPayload) (*models.BrowserVisit, error)
	RegisterDevice(ctx context.Context, device *models.Device) (*models.Device, bool, error)
	SendCommand(cmd models.Command) bool
}

// PresenceLister lists devices connected to any hub instance.
type PresenceLister interface {
	OnlineDevices(ctx context.Context) ([]string, error)
}

const (
	defaultLimit   = 100
	maxBodyBytes   = 1 << 20
	trailWindow    = 30 * time.Minute
	statsWindow    = 24 * time.Hour
	searchLimit    = 50
	statsRowLimit  = 1000
	recentActivity = 20
)

type APIHandler struct {
	ingest   Ingestor
	store    store.Store
	presence PresenceLister
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewAPIHandler(ingest Ingestor, st store.Store, timeout time.Duration, logger *zap.Logger) *APIHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &APIHandler{
		ingest:  ingest,
		store:   st,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

func (h *APIHandler) SetPresence(presence PresenceLister) {
	h.presence = presence
}

func (h *APIHandler) Routes(r chi.Router) {
	r.Route("/api/devices", func(r chi.Router) {
		r.Get("/", h.ListDevices)
		r.Post("/", h.RegisterDevice)
		r.Get("/online", h.OnlineDevices)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetDevice)
			r.Delete("/", h.DeleteDevice)
			r.Get("/telemetry", h.DeviceTelemetry)
			r.Get("/intent", h.DeviceIntent)
			r.Post("/beep", h.Beep)
			r.Post("/request-location", h.RequestLocation)
			r.Get("/location", h.LatestLocation)
			r.Get("/location/history", h.LocationHistory)
			r.Get("/location/trail", h.LocationTrail)
		})
	})

	r.Route("/api/telemetry", func(r chi.Router) {
		r.Post("/", h.SubmitTelemetry)
		r.Post("/batch", h.SubmitTelemetryBatch)
		r.Get("/stats/{deviceId}", h.TelemetryStats)
	})

	r.Route("/api/location", func(r chi.Router) {
		r.Post("/", h.SubmitLocation)
		r.Post("/batch", h.SubmitLocationBatch)
	})

	r.Route("/api/browser", func(r chi.Router) {
		r.Post("/", h.SubmitBrowserVisit)
		r.Get("/{deviceId}", h.BrowserHistory)
		r.Get("/{deviceId}/stats", h.BrowserStats)
		r.Get("/{deviceId}/search", h.SearchBrowserHistory)
		r.Delete("/{deviceId}", h.ClearBrowserHistory)
	})
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}

func (h *APIHandler) storeError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}

	h.logger.Error(message, zap.Error(err))
	writeError(w, http.StatusInternalServerError, message)
}

func (h *APIHandler) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

// decodeBody reads the request body as raw JSON into dst and returns the
// raw bytes for paths that rebroadcast the payload.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) (json.RawMessage, bool) {
	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	return raw, true
}

// queryInt parses a positive integer query parameter; anything else yields
// def.
func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
