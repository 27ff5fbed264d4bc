package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/anatoly-dev/fleet-hub/pkg/intent"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"go.uber.org/zap"
)

// RecordLocation stores one sample for deviceID and broadcasts it with its
// movement status. The socket and REST paths both end up here.
func (r *Router) RecordLocation(ctx context.Context, deviceID string, raw json.RawMessage) (*models.LocationSample, error) {
	var p models.LocationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}
	if p.Latitude == nil || p.Longitude == nil {
		return nil, fmt.Errorf("%w: latitude and longitude are required", models.ErrInvalidPayload)
	}

	data, err := payloadFields(raw)
	if err != nil {
		return nil, err
	}

	now := r.now()
	sample := models.NewLocationSample(deviceID, p, now)

	err = r.persist(ctx, "insert_location", func(ctx context.Context) error {
		return r.store.InsertLocation(ctx, sample)
	})
	if err != nil {
		return nil, err
	}

	r.markSeen(ctx, deviceID, models.LocationSeenPatch(now))
	r.presenceTouch(ctx, deviceID)

	data["movement_status"] = models.MovementStatus(p.Speed)
	if p.Timestamp == "" {
		data["timestamp"] = models.FormatTimestamp(sample.Timestamp)
	}

	r.broadcast(&models.Message{
		Type:     models.MessageTypeLocationUpdate,
		DeviceID: deviceID,
		Data:     data,
	})

	return sample, nil
}

// RecordTelemetry stores one telemetry event, broadcasts it and, when it
// describes app usage, broadcasts the inferred intent as well.
func (r *Router) RecordTelemetry(ctx context.Context, deviceID string, raw json.RawMessage) (*models.TelemetryEvent, error) {
	var p models.TelemetryPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}
	if p.EventType == "" {
		return nil, fmt.Errorf("%w: event_type is required", models.ErrInvalidPayload)
	}

	data, err := payloadFields(raw)
	if err != nil {
		return nil, err
	}

	now := r.now()
	event := models.NewTelemetryEvent(deviceID, p)

	err = r.persist(ctx, "insert_telemetry", func(ctx context.Context) error {
		return r.store.InsertTelemetry(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}

	r.markSeen(ctx, deviceID, models.SeenPatch(now))
	r.presenceTouch(ctx, deviceID)

	data["timestamp"] = models.FormatTimestamp(event.CreatedAt)

	r.broadcast(&models.Message{
		Type:     models.MessageTypeTelemetryEvent,
		DeviceID: deviceID,
		Data:     data,
	})

	if p.HasAppUsage() {
		r.broadcast(&models.Message{
			Type:     models.MessageTypeIntentUpdate,
			DeviceID: deviceID,
			Data:     intent.Classify(p.AppPackage, p.AppLabel, p.DurationMs),
		})
	}

	return event, nil
}

// RecordTelemetryBatch stores what it can of an offline backlog and returns
// the number of rows written. Items that fail are logged and skipped.
func (r *Router) RecordTelemetryBatch(ctx context.Context, deviceID string, items []json.RawMessage) int {
	inserted := 0
	for i, item := range items {
		var p models.TelemetryPayload
		if err := json.Unmarshal(item, &p); err != nil || p.EventType == "" {
			r.logger.Warn("Skipping invalid telemetry item",
				zap.String("deviceID", deviceID),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}

		event := models.NewTelemetryEvent(deviceID, p)
		err := r.persist(ctx, "insert_telemetry", func(ctx context.Context) error {
			return r.store.InsertTelemetry(ctx, event)
		})
		if err != nil {
			continue
		}
		inserted++
	}

	now := r.now()
	r.markSeen(ctx, deviceID, models.SeenPatch(now))
	r.presenceTouch(ctx, deviceID)

	r.broadcast(&models.Message{
		Type:     models.MessageTypeTelemetryBatch,
		DeviceID: deviceID,
		Data: map[string]interface{}{
			"count":     inserted,
			"timestamp": models.FormatTimestamp(now),
		},
	})

	return inserted
}

// RecordLocationBatch stores an offline backlog of samples without
// broadcasting them.
func (r *Router) RecordLocationBatch(ctx context.Context, deviceID string, items []json.RawMessage) int {
	now := r.now()

	inserted := 0
	for i, item := range items {
		var p models.LocationPayload
		if err := json.Unmarshal(item, &p); err != nil || p.Latitude == nil || p.Longitude == nil {
			r.logger.Warn("Skipping invalid location item",
				zap.String("deviceID", deviceID),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}

		sample := models.NewLocationSample(deviceID, p, now)
		err := r.persist(ctx, "insert_location", func(ctx context.Context) error {
			return r.store.InsertLocation(ctx, sample)
		})
		if err != nil {
			continue
		}
		inserted++
	}

	r.markSeen(ctx, deviceID, models.LocationSeenPatch(now))
	r.presenceTouch(ctx, deviceID)

	return inserted
}

// RecordBrowserVisit stores a visited URL and broadcasts it.
func (r *Router) RecordBrowserVisit(ctx context.Context, p models.BrowserPayload) (*models.BrowserVisit, error) {
	if p.DeviceID == "" || p.URL == "" {
		return nil, fmt.Errorf("%w: device_id and url are required", models.ErrInvalidPayload)
	}

	now := r.now()
	domain := p.Domain
	if domain == "" {
		domain = domainOf(p.URL)
	}

	visit := &models.BrowserVisit{
		DeviceID:       p.DeviceID,
		URL:            p.URL,
		Domain:         domain,
		BrowserPackage: p.BrowserPackage,
		Timestamp:      models.ParseTimestamp(p.Timestamp, now),
	}

	err := r.persist(ctx, "insert_browser_visit", func(ctx context.Context) error {
		return r.store.InsertBrowserVisit(ctx, visit)
	})
	if err != nil {
		return nil, err
	}

	r.markSeen(ctx, p.DeviceID, models.SeenPatch(now))

	r.broadcast(&models.Message{
		Type:     models.MessageTypeURLVisited,
		DeviceID: p.DeviceID,
		Data: map[string]interface{}{
			"id":              visit.ID,
			"url":             visit.URL,
			"domain":          visit.Domain,
			"browser_package": visit.BrowserPackage,
			"timestamp":       models.FormatTimestamp(visit.Timestamp),
		},
	})

	return visit, nil
}

// RegisterDevice creates a device record, or marks an existing one online.
// The bool result is true when the device is new.
func (r *Router) RegisterDevice(ctx context.Context, device *models.Device) (*models.Device, bool, error) {
	if device.DeviceID == "" || device.DeviceName == "" {
		return nil, false, fmt.Errorf("%w: device_id and device_name are required", models.ErrInvalidPayload)
	}

	now := r.now()
	device.IsOnline = true
	device.FirstSeen = now
	device.LastSeen = &now

	var (
		created bool
		stored  *models.Device
	)
	err := r.persist(ctx, "register_device", func(ctx context.Context) error {
		var err error
		created, err = r.store.EnsureDevice(ctx, device)
		if err != nil {
			return err
		}
		if !created {
			if err := r.store.UpdateDevice(ctx, device.DeviceID, models.SeenPatch(now)); err != nil {
				return err
			}
		}
		stored, err = r.store.GetDevice(ctx, device.DeviceID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		r.broadcast(&models.Message{
			Type:     models.MessageTypeNewDeviceRegistered,
			DeviceID: device.DeviceID,
			Data: map[string]interface{}{
				"device_name":   device.DeviceName,
				"registered_at": models.FormatTimestamp(now),
			},
		})
	}

	return stored, created, nil
}

// payloadFields decodes a payload object for rebroadcast, dropping the
// device id which travels on the envelope.
func payloadFields(raw json.RawMessage) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}
	delete(fields, "device_id")
	return fields, nil
}

// domainOf returns the host of rawURL, or the third slash-separated segment
// when it does not parse as an absolute URL.
func domainOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}

	parts := strings.Split(rawURL, "/")
	if len(parts) > 2 && parts[2] != "" {
		return parts[2]
	}
	return rawURL
}
