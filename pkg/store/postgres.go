package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/config"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		user_id TEXT,
		device_name TEXT NOT NULL,
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		location_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS location_history (
		id BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		accuracy DOUBLE PRECISION,
		altitude DOUBLE PRECISION,
		speed DOUBLE PRECISION,
		bearing DOUBLE PRECISION,
		timestamp TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_location_device_time ON location_history(device_id, timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS telemetry_events (
		id BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		app_package TEXT,
		app_label TEXT,
		start_time TIMESTAMPTZ,
		end_time TIMESTAMPTZ,
		duration_ms BIGINT,
		screen_state TEXT,
		network_type TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_device_time ON telemetry_events(device_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS browser_history (
		id BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		domain TEXT,
		browser_package TEXT,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_browser_device_time ON browser_history(device_id, timestamp DESC)`,
}

const (
	deviceColumns    = `device_id, COALESCE(user_id, ''), device_name, is_online, location_enabled, first_seen, last_seen`
	locationColumns  = `id, device_id, latitude, longitude, accuracy, altitude, speed, bearing, timestamp, created_at`
	telemetryColumns = `id, device_id, event_type, COALESCE(app_package, ''), COALESCE(app_label, ''), start_time, end_time,
		COALESCE(duration_ms, 0), COALESCE(screen_state, ''), COALESCE(network_type, ''), created_at`
	browserColumns = `id, device_id, url, COALESCE(domain, ''), COALESCE(browser_package, ''), timestamp`
)

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, cfg *config.StoreConfig, logger *zap.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Connected to Postgres", zap.Int32("maxConns", poolConfig.MaxConns))
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY last_seen DESC NULLS LAST`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return collect(rows, scanDevice)
}

func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID)
	d, err := scanDevice(row)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	if device.FirstSeen.IsZero() {
		device.FirstSeen = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO devices (device_id, user_id, device_name, is_online, location_enabled, first_seen, last_seen)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`,
		device.DeviceID, device.UserID, device.DeviceName, device.IsOnline, device.LocationEnabled,
		device.FirstSeen, device.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureDevice(ctx context.Context, device *models.Device) (bool, error) {
	if device.FirstSeen.IsZero() {
		device.FirstSeen = time.Now()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO devices (device_id, user_id, device_name, is_online, location_enabled, first_seen, last_seen)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		 ON CONFLICT (device_id) DO NOTHING`,
		device.DeviceID, device.UserID, device.DeviceName, device.IsOnline, device.LocationEnabled,
		device.FirstSeen, device.LastSeen)
	if err != nil {
		return false, fmt.Errorf("failed to ensure device: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE devices SET
			is_online = COALESCE($2, is_online),
			location_enabled = COALESCE($3, location_enabled),
			last_seen = COALESCE($4, last_seen)
		 WHERE device_id = $1`,
		deviceID, patch.IsOnline, patch.LocationEnabled, patch.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, deviceID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM devices WHERE device_id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertLocation(ctx context.Context, sample *models.LocationSample) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO location_history (device_id, latitude, longitude, accuracy, altitude, speed, bearing, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		sample.DeviceID, sample.Latitude, sample.Longitude, sample.Accuracy, sample.Altitude,
		sample.Speed, sample.Bearing, sample.Timestamp,
	).Scan(&sample.ID, &sample.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestLocation(ctx context.Context, deviceID string) (*models.LocationSample, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM location_history WHERE device_id = $1 ORDER BY timestamp DESC LIMIT 1`,
		deviceID)
	l, err := scanLocation(row)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *PostgresStore) LocationHistory(ctx context.Context, deviceID string, limit int) ([]models.LocationSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+locationColumns+` FROM location_history WHERE device_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query location history: %w", err)
	}
	return collect(rows, scanLocation)
}

func (s *PostgresStore) LocationTrail(ctx context.Context, deviceID string, since time.Time) ([]models.LocationSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+locationColumns+` FROM location_history
		 WHERE device_id = $1 AND timestamp >= $2 ORDER BY timestamp ASC, id ASC`,
		deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query location trail: %w", err)
	}
	return collect(rows, scanLocation)
}

func (s *PostgresStore) InsertTelemetry(ctx context.Context, event *models.TelemetryEvent) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO telemetry_events
			(device_id, event_type, app_package, app_label, start_time, end_time, duration_ms, screen_state, network_type)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7::bigint, 0), NULLIF($8, ''), NULLIF($9, ''))
		 RETURNING id, created_at`,
		event.DeviceID, event.EventType, event.AppPackage, event.AppLabel, event.StartTime, event.EndTime,
		event.DurationMs, event.ScreenState, event.NetworkType,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

func (s *PostgresStore) TelemetryHistory(ctx context.Context, deviceID string, limit int) ([]models.TelemetryEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+telemetryColumns+` FROM telemetry_events WHERE device_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	return collect(rows, scanTelemetry)
}

func (s *PostgresStore) TelemetrySince(ctx context.Context, deviceID string, since time.Time, limit int) ([]models.TelemetryEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+telemetryColumns+` FROM telemetry_events
		 WHERE device_id = $1 AND created_at >= $2 ORDER BY created_at DESC, id DESC LIMIT $3`,
		deviceID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	return collect(rows, scanTelemetry)
}

func (s *PostgresStore) InsertBrowserVisit(ctx context.Context, visit *models.BrowserVisit) error {
	if visit.Timestamp.IsZero() {
		visit.Timestamp = time.Now()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO browser_history (device_id, url, domain, browser_package, timestamp)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
		 RETURNING id`,
		visit.DeviceID, visit.URL, visit.Domain, visit.BrowserPackage, visit.Timestamp,
	).Scan(&visit.ID)
	if err != nil {
		return fmt.Errorf("failed to insert browser visit: %w", err)
	}
	return nil
}

func (s *PostgresStore) BrowserHistory(ctx context.Context, deviceID string, limit, offset int) ([]models.BrowserVisit, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM browser_history WHERE device_id = $1`, deviceID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count browser history: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+browserColumns+` FROM browser_history
		 WHERE device_id = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3`,
		deviceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query browser history: %w", err)
	}

	visits, err := collect(rows, scanBrowser)
	return visits, total, err
}

func (s *PostgresStore) BrowserSince(ctx context.Context, deviceID string, since time.Time) ([]models.BrowserVisit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+browserColumns+` FROM browser_history
		 WHERE device_id = $1 AND timestamp >= $2 ORDER BY timestamp DESC`,
		deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query browser history: %w", err)
	}
	return collect(rows, scanBrowser)
}

func (s *PostgresStore) SearchBrowserHistory(ctx context.Context, deviceID, query string, limit int) ([]models.BrowserVisit, error) {
	pattern := "%" + query + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT `+browserColumns+` FROM browser_history
		 WHERE device_id = $1 AND (url ILIKE $2 OR domain ILIKE $2)
		 ORDER BY timestamp DESC LIMIT $3`,
		deviceID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search browser history: %w", err)
	}
	return collect(rows, scanBrowser)
}

func (s *PostgresStore) ClearBrowserHistory(ctx context.Context, deviceID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM browser_history WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("failed to clear browser history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.logger.Info("Closing Postgres pool")
	s.pool.Close()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanDevice(row pgx.Row) (models.Device, error) {
	var d models.Device
	err := row.Scan(&d.DeviceID, &d.UserID, &d.DeviceName, &d.IsOnline, &d.LocationEnabled, &d.FirstSeen, &d.LastSeen)
	return d, err
}

func scanLocation(row pgx.Row) (models.LocationSample, error) {
	var l models.LocationSample
	err := row.Scan(&l.ID, &l.DeviceID, &l.Latitude, &l.Longitude, &l.Accuracy, &l.Altitude,
		&l.Speed, &l.Bearing, &l.Timestamp, &l.CreatedAt)
	return l, err
}

func scanTelemetry(row pgx.Row) (models.TelemetryEvent, error) {
	var e models.TelemetryEvent
	err := row.Scan(&e.ID, &e.DeviceID, &e.EventType, &e.AppPackage, &e.AppLabel, &e.StartTime, &e.EndTime,
		&e.DurationMs, &e.ScreenState, &e.NetworkType, &e.CreatedAt)
	return e, err
}

func scanBrowser(row pgx.Row) (models.BrowserVisit, error) {
	var v models.BrowserVisit
	err := row.Scan(&v.ID, &v.DeviceID, &v.URL, &v.Domain, &v.BrowserPackage, &v.Timestamp)
	return v, err
}
