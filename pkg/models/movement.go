package models

import (
	"errors"
	"time"
)

const (
	MovementStationary = "stationary"
	MovementWalking    = "walking"
	MovementDriving    = "driving"

	stationaryMaxSpeed = 1.5
	walkingMaxSpeed    = 7.0
)

// ErrInvalidPayload marks device input that is missing required fields or
// cannot be decoded.
var ErrInvalidPayload = errors.New("invalid payload")

// MovementStatus buckets a speed in m/s. A missing speed is stationary.
func MovementStatus(speed *float64) string {
	if speed == nil {
		return MovementStationary
	}

	switch v := *speed; {
	case v <= stationaryMaxSpeed:
		return MovementStationary
	case v <= walkingMaxSpeed:
		return MovementWalking
	default:
		return MovementDriving
	}
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
