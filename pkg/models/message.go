package models

import "encoding/json"

type MessageType string

const (
	MessageTypeRegister       MessageType = "REGISTER"
	MessageTypeLocationUpdate MessageType = "LOCATION_UPDATE"
	MessageTypeTelemetryEvent MessageType = "TELEMETRY_EVENT"
	MessageTypeLocationStatus MessageType = "LOCATION_STATUS"
	MessageTypeHeartbeat      MessageType = "HEARTBEAT"

	MessageTypeDeviceList          MessageType = "DEVICE_LIST"
	MessageTypeDeviceUpdate        MessageType = "DEVICE_UPDATE"
	MessageTypeIntentUpdate        MessageType = "INTENT_UPDATE"
	MessageTypeHeartbeatAck        MessageType = "HEARTBEAT_ACK"
	MessageTypeError               MessageType = "ERROR"
	MessageTypeTelemetryBatch      MessageType = "TELEMETRY_BATCH"
	MessageTypeURLVisited          MessageType = "URL_VISITED"
	MessageTypeNewDeviceRegistered MessageType = "NEW_DEVICE_REGISTERED"

	MessageTypeBeepDevice        MessageType = "BEEP_DEVICE"
	MessageTypeRequestLocationOn MessageType = "REQUEST_LOCATION_ON"
)

type ClientType string

const (
	ClientTypeDevice    ClientType = "DEVICE"
	ClientTypeDashboard ClientType = "DASHBOARD"
)

// Frame is an inbound socket frame from a device or dashboard.
type Frame struct {
	Type       MessageType     `json:"type"`
	DeviceID   string          `json:"device_id,omitempty"`
	ClientType ClientType      `json:"client_type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Message is the outbound envelope sent to dashboards and devices. It is
// never persisted.
type Message struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// Command is an operator command addressed to one device.
type Command struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id"`
	Message  string      `json:"message,omitempty"`
}

func (c Command) IsValid() bool {
	if c.DeviceID == "" {
		return false
	}
	return c.Type == MessageTypeBeepDevice || c.Type == MessageTypeRequestLocationOn
}

func (c Command) Envelope() *Message {
	return &Message{
		Type:     c.Type,
		DeviceID: c.DeviceID,
		Message:  c.Message,
	}
}

type LocationPayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

type TelemetryPayload struct {
	EventType   string `json:"event_type"`
	AppPackage  string `json:"app_package,omitempty"`
	AppLabel    string `json:"app_label,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
	ScreenState string `json:"screen_state,omitempty"`
	NetworkType string `json:"network_type,omitempty"`
}

// HasAppUsage reports whether the payload carries enough to classify intent.
func (p TelemetryPayload) HasAppUsage() bool {
	return p.AppPackage != "" && p.AppLabel != "" && p.DurationMs != 0
}

type LocationStatusPayload struct {
	Enabled bool `json:"enabled"`
}

type BrowserPayload struct {
	DeviceID       string `json:"device_id"`
	URL            string `json:"url"`
	Domain         string `json:"domain,omitempty"`
	BrowserPackage string `json:"browser_package,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}
