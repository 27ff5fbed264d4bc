package models

import "time"

// Presence is the cross-instance record of a connected device kept in Redis.
type Presence struct {
	DeviceID     string    `json:"device_id"`
	InstanceID   string    `json:"instance_id"`
	ConnectionID string    `json:"connection_id"`
	Connected    time.Time `json:"connected_at"`
}

func NewPresence(deviceID, instanceID, connectionID string) *Presence {
	return &Presence{
		DeviceID:     deviceID,
		InstanceID:   instanceID,
		ConnectionID: connectionID,
		Connected:    time.Now(),
	}
}
