package models

import "time"

type Device struct {
	DeviceID        string     `json:"device_id"`
	UserID          string     `json:"user_id,omitempty"`
	DeviceName      string     `json:"device_name"`
	IsOnline        bool       `json:"is_online"`
	LocationEnabled bool       `json:"location_enabled"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        *time.Time `json:"last_seen"`
}

// DevicePatch is a partial update; nil fields are left untouched.
type DevicePatch struct {
	IsOnline        *bool
	LocationEnabled *bool
	LastSeen        *time.Time
}

// SeenPatch marks a device online as of at.
func SeenPatch(at time.Time) DevicePatch {
	online := true
	return DevicePatch{IsOnline: &online, LastSeen: &at}
}

// OfflinePatch marks a device offline as of at.
func OfflinePatch(at time.Time) DevicePatch {
	online := false
	return DevicePatch{IsOnline: &online, LastSeen: &at}
}

// LocationSeenPatch marks a device online with location sharing on.
func LocationSeenPatch(at time.Time) DevicePatch {
	p := SeenPatch(at)
	enabled := true
	p.LocationEnabled = &enabled
	return p
}

func LocationEnabledPatch(enabled bool) DevicePatch {
	return DevicePatch{LocationEnabled: &enabled}
}

func (p DevicePatch) Apply(d *Device) {
	if p.IsOnline != nil {
		d.IsOnline = *p.IsOnline
	}
	if p.LocationEnabled != nil {
		d.LocationEnabled = *p.LocationEnabled
	}
	if p.LastSeen != nil {
		t := *p.LastSeen
		d.LastSeen = &t
	}
}

type LocationSample struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy"`
	Altitude  *float64  `json:"altitude"`
	Speed     *float64  `json:"speed"`
	Bearing   *float64  `json:"bearing"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

type TelemetryEvent struct {
	ID          int64      `json:"id"`
	DeviceID    string     `json:"device_id"`
	EventType   string     `json:"event_type"`
	AppPackage  string     `json:"app_package,omitempty"`
	AppLabel    string     `json:"app_label,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
	ScreenState string     `json:"screen_state,omitempty"`
	NetworkType string     `json:"network_type,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type BrowserVisit struct {
	ID             int64     `json:"id"`
	DeviceID       string    `json:"device_id"`
	URL            string    `json:"url"`
	Domain         string    `json:"domain"`
	BrowserPackage string    `json:"browser_package,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ParseTimestamp parses an RFC3339 timestamp, falling back to def when the
// value is empty or unparseable.
func ParseTimestamp(value string, def time.Time) time.Time {
	if value == "" {
		return def
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return def
}

func parseOptionalTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return &t
}

// NewTelemetryEvent builds an unsaved row from a device payload.
func NewTelemetryEvent(deviceID string, p TelemetryPayload) *TelemetryEvent {
	return &TelemetryEvent{
		DeviceID:    deviceID,
		EventType:   p.EventType,
		AppPackage:  p.AppPackage,
		AppLabel:    p.AppLabel,
		StartTime:   parseOptionalTime(p.StartTime),
		EndTime:     parseOptionalTime(p.EndTime),
		DurationMs:  p.DurationMs,
		ScreenState: p.ScreenState,
		NetworkType: p.NetworkType,
	}
}

// NewLocationSample builds an unsaved row from a device payload. Latitude
// and longitude must already be validated as present.
func NewLocationSample(deviceID string, p LocationPayload, now time.Time) *LocationSample {
	s := &LocationSample{
		DeviceID:  deviceID,
		Accuracy:  p.Accuracy,
		Altitude:  p.Altitude,
		Speed:     p.Speed,
		Bearing:   p.Bearing,
		Timestamp: ParseTimestamp(p.Timestamp, now),
	}
	if p.Latitude != nil {
		s.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		s.Longitude = *p.Longitude
	}
	return s
}
