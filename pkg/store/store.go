// Package store is the persistence gateway for devices and the append-only
// telemetry, location and browsing rows recorded against them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/models"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	CreateDevice(ctx context.Context, device *models.Device) error
	// EnsureDevice inserts device unless its id already exists and reports
	// whether it did.
	EnsureDevice(ctx context.Context, device *models.Device) (bool, error)
	UpdateDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error
	DeleteDevice(ctx context.Context, deviceID string) error

	InsertLocation(ctx context.Context, sample *models.LocationSample) error
	LatestLocation(ctx context.Context, deviceID string) (*models.LocationSample, error)
	LocationHistory(ctx context.Context, deviceID string, limit int) ([]models.LocationSample, error)
	LocationTrail(ctx context.Context, deviceID string, since time.Time) ([]models.LocationSample, error)

	InsertTelemetry(ctx context.Context, event *models.TelemetryEvent) error
	TelemetryHistory(ctx context.Context, deviceID string, limit int) ([]models.TelemetryEvent, error)
	TelemetrySince(ctx context.Context, deviceID string, since time.Time, limit int) ([]models.TelemetryEvent, error)

	InsertBrowserVisit(ctx context.Context, visit *models.BrowserVisit) error
	BrowserHistory(ctx context.Context, deviceID string, limit, offset int) ([]models.BrowserVisit, int, error)
	BrowserSince(ctx context.Context, deviceID string, since time.Time) ([]models.BrowserVisit, error)
	SearchBrowserHistory(ctx context.Context, deviceID, query string, limit int) ([]models.BrowserVisit, error)
	ClearBrowserHistory(ctx context.Context, deviceID string) error

	Close()
}
