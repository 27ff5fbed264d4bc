package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMovementStatus(t *testing.T) {
	speed := func(v float64) *float64 { return &v }

	tests := []struct {
		name  string
		speed *float64
		want  string
	}{
		{name: "missing", speed: nil, want: MovementStationary},
		{name: "zero", speed: speed(0), want: MovementStationary},
		{name: "walking threshold", speed: speed(1.5), want: MovementStationary},
		{name: "slow walk", speed: speed(1.6), want: MovementWalking},
		{name: "driving threshold", speed: speed(7.0), want: MovementWalking},
		{name: "driving", speed: speed(7.1), want: MovementDriving},
		{name: "negative", speed: speed(-1), want: MovementStationary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MovementStatus(tt.speed))
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("IST", 5*3600+1800))
	assert.Equal(t, "2024-03-01T07:00:45.123Z", FormatTimestamp(ts))
}

func TestParseTimestamp(t *testing.T) {
	def := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, def, ParseTimestamp("", def))
	assert.Equal(t, def, ParseTimestamp("T1", def))

	got := ParseTimestamp("2024-03-01T07:00:45.123Z", def)
	assert.Equal(t, 2024, got.Year())
	assert.Equal(t, 123*time.Millisecond, time.Duration(got.Nanosecond()))
}
