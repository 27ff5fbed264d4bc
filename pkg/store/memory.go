package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/models"
)

// MemoryStore keeps everything in process. It backs the "memory" driver and
// the test suites.
type MemoryStore struct {
	mu        sync.RWMutex
	devices   map[string]*models.Device
	locations []models.LocationSample
	telemetry []models.TelemetryEvent
	browser   []models.BrowserVisit
	nextID    int64
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]*models.Device),
		now:     time.Now,
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, *d)
	}

	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i].LastSeen, devices[j].LastSeen
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})

	return devices, nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) CreateDevice(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if device.FirstSeen.IsZero() {
		device.FirstSeen = s.now()
	}
	cp := *device
	s.devices[device.DeviceID] = &cp
	return nil
}

func (s *MemoryStore) EnsureDevice(ctx context.Context, device *models.Device) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[device.DeviceID]; ok {
		return false, nil
	}
	if device.FirstSeen.IsZero() {
		device.FirstSeen = s.now()
	}
	cp := *device
	s.devices[device.DeviceID] = &cp
	return true, nil
}

// UpdateDevice on an unknown id is a no-op, matching an UPDATE ... WHERE.
func (s *MemoryStore) UpdateDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.devices[deviceID]; ok {
		patch.Apply(d)
	}
	return nil
}

func (s *MemoryStore) DeleteDevice(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[deviceID]; !ok {
		return ErrNotFound
	}
	delete(s.devices, deviceID)

	s.locations = filter(s.locations, func(l models.LocationSample) bool { return l.DeviceID != deviceID })
	s.telemetry = filter(s.telemetry, func(e models.TelemetryEvent) bool { return e.DeviceID != deviceID })
	s.browser = filter(s.browser, func(v models.BrowserVisit) bool { return v.DeviceID != deviceID })
	return nil
}

func (s *MemoryStore) InsertLocation(ctx context.Context, sample *models.LocationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample.ID = s.id()
	sample.CreatedAt = s.now()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = sample.CreatedAt
	}
	s.locations = append(s.locations, *sample)
	return nil
}

func (s *MemoryStore) LatestLocation(ctx context.Context, deviceID string) (*models.LocationSample, error) {
	history, _ := s.LocationHistory(ctx, deviceID, 1)
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return &history[0], nil
}

func (s *MemoryStore) LocationHistory(ctx context.Context, deviceID string, limit int) ([]models.LocationSample, error) {
	s.mu.RLock()
	rows := filter(s.locations, func(l models.LocationSample) bool { return l.DeviceID == deviceID })
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.After(rows[j].Timestamp) })
	return limitRows(rows, limit), nil
}

func (s *MemoryStore) LocationTrail(ctx context.Context, deviceID string, since time.Time) ([]models.LocationSample, error) {
	s.mu.RLock()
	rows := filter(s.locations, func(l models.LocationSample) bool {
		return l.DeviceID == deviceID && !l.Timestamp.Before(since)
	})
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows, nil
}

func (s *MemoryStore) InsertTelemetry(ctx context.Context, event *models.TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = s.id()
	event.CreatedAt = s.now()
	s.telemetry = append(s.telemetry, *event)
	return nil
}

func (s *MemoryStore) TelemetryHistory(ctx context.Context, deviceID string, limit int) ([]models.TelemetryEvent, error) {
	return s.TelemetrySince(ctx, deviceID, time.Time{}, limit)
}

func (s *MemoryStore) TelemetrySince(ctx context.Context, deviceID string, since time.Time, limit int) ([]models.TelemetryEvent, error) {
	s.mu.RLock()
	rows := filter(s.telemetry, func(e models.TelemetryEvent) bool {
		return e.DeviceID == deviceID && !e.CreatedAt.Before(since)
	})
	s.mu.RUnlock()

	reverse(rows)
	return limitRows(rows, limit), nil
}

func (s *MemoryStore) InsertBrowserVisit(ctx context.Context, visit *models.BrowserVisit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	visit.ID = s.id()
	if visit.Timestamp.IsZero() {
		visit.Timestamp = s.now()
	}
	s.browser = append(s.browser, *visit)
	return nil
}

func (s *MemoryStore) BrowserHistory(ctx context.Context, deviceID string, limit, offset int) ([]models.BrowserVisit, int, error) {
	rows := s.browserFor(func(v models.BrowserVisit) bool { return v.DeviceID == deviceID })
	total := len(rows)

	if offset >= len(rows) {
		return []models.BrowserVisit{}, total, nil
	}
	return limitRows(rows[offset:], limit), total, nil
}

func (s *MemoryStore) BrowserSince(ctx context.Context, deviceID string, since time.Time) ([]models.BrowserVisit, error) {
	return s.browserFor(func(v models.BrowserVisit) bool {
		return v.DeviceID == deviceID && !v.Timestamp.Before(since)
	}), nil
}

func (s *MemoryStore) SearchBrowserHistory(ctx context.Context, deviceID, query string, limit int) ([]models.BrowserVisit, error) {
	q := strings.ToLower(query)
	rows := s.browserFor(func(v models.BrowserVisit) bool {
		return v.DeviceID == deviceID &&
			(strings.Contains(strings.ToLower(v.URL), q) || strings.Contains(strings.ToLower(v.Domain), q))
	})
	return limitRows(rows, limit), nil
}

func (s *MemoryStore) ClearBrowserHistory(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.browser = filter(s.browser, func(v models.BrowserVisit) bool { return v.DeviceID != deviceID })
	return nil
}

func (s *MemoryStore) Close() {}

// browserFor returns matching visits newest first.
func (s *MemoryStore) browserFor(keep func(models.BrowserVisit) bool) []models.BrowserVisit {
	s.mu.RLock()
	rows := filter(s.browser, keep)
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.After(rows[j].Timestamp) })
	return rows
}

func filter[T any](rows []T, keep func(T) bool) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func reverse[T any](rows []T) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

func limitRows[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
