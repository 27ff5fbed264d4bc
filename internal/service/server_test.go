package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/handlers"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) post(t *testing.T, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)
	f.dashboard(t)
	f.device(t, "d1", true)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health handlers.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.ConnectedDevices)
	assert.Equal(t, 1, health.ConnectedDashboards)
}

func TestServer_RestLocationIsBroadcast(t *testing.T) {
	f := newFixture(t)
	dash := f.dashboard(t)

	status, body := f.post(t, "/api/location", map[string]interface{}{
		"device_id": "d1",
		"latitude":  1.5,
		"longitude": 2.5,
		"speed":     12.0,
	})
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "driving", body["movement_status"])

	msg := dash.next()
	assert.Equal(t, models.MessageTypeLocationUpdate, msg.Type)
	assert.Equal(t, "d1", msg.DeviceID)
	data := dataMap(t, msg)
	assert.Equal(t, "driving", data["movement_status"])
	assert.NotContains(t, data, "device_id")
	assert.NotEmpty(t, data["timestamp"])
}

func TestServer_RestTelemetryRequiresFields(t *testing.T) {
	f := newFixture(t)

	status, body := f.post(t, "/api/telemetry", map[string]interface{}{"device_id": "d1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
}

func TestServer_BeepDevice(t *testing.T) {
	f := newFixture(t)
	dev := f.device(t, "d1", true)

	status, body := f.post(t, "/api/devices/d1/beep", map[string]interface{}{})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["delivered"])

	msg := dev.next()
	assert.Equal(t, models.MessageTypeBeepDevice, msg.Type)
	assert.Equal(t, "Find my device", msg.Message)

	require.NoError(t, dev.conn.Close())
	require.Eventually(t, func() bool {
		_, bound := f.hub.Registry().FindDevice("d1")
		return !bound
	}, waitFor, 10*time.Millisecond)

	status, body = f.post(t, "/api/devices/d1/request-location", map[string]interface{}{"message": "Please"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, false, body["delivered"])
	assert.Equal(t, "Device is not connected", body["error"])

	status, _ = f.post(t, "/api/devices/ghost/beep", map[string]interface{}{})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_RegisterDeviceAnnouncesNewDevice(t *testing.T) {
	f := newFixture(t)
	dash := f.dashboard(t)

	status, _ := f.post(t, "/api/devices", map[string]interface{}{
		"device_id":   "d7",
		"device_name": "Field Tablet",
	})
	assert.Equal(t, http.StatusCreated, status)

	msg := dash.next()
	assert.Equal(t, models.MessageTypeNewDeviceRegistered, msg.Type)
	assert.Equal(t, "Field Tablet", dataMap(t, msg)["device_name"])

	status, body := f.post(t, "/api/devices", map[string]interface{}{
		"device_id":   "d7",
		"device_name": "Field Tablet",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Device reconnected", body["message"])
	dash.expectNone(100 * time.Millisecond)
}
