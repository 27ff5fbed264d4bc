package service

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/config"
	"github.com/anatoly-dev/fleet-hub/pkg/handlers"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/anatoly-dev/fleet-hub/pkg/store"
	"github.com/anatoly-dev/fleet-hub/pkg/websocket"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor = 2 * time.Second

// countingStore counts offline transitions written for each device.
type countingStore struct {
	*store.MemoryStore

	mu       sync.Mutex
	offlines map[string]int
}

func newCountingStore() *countingStore {
	return &countingStore{
		MemoryStore: store.NewMemoryStore(),
		offlines:    make(map[string]int),
	}
}

func (s *countingStore) UpdateDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error {
	if patch.IsOnline != nil && !*patch.IsOnline {
		s.mu.Lock()
		s.offlines[deviceID]++
		s.mu.Unlock()
	}
	return s.MemoryStore.UpdateDevice(ctx, deviceID, patch)
}

func (s *countingStore) Offlines(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offlines[deviceID]
}

var errGatewayDown = errors.New("gateway unavailable")

// failingStore refuses every event insert and location status change.
type failingStore struct {
	*countingStore
}

func (s failingStore) InsertLocation(context.Context, *models.LocationSample) error {
	return errGatewayDown
}

func (s failingStore) InsertTelemetry(context.Context, *models.TelemetryEvent) error {
	return errGatewayDown
}

func (s failingStore) UpdateDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error {
	if patch.IsOnline == nil && patch.LocationEnabled != nil {
		return errGatewayDown
	}
	return s.countingStore.UpdateDevice(ctx, deviceID, patch)
}

type fixture struct {
	store   *countingStore
	hub     *websocket.Manager
	router  *Router
	monitor *websocket.Monitor
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newCountingStore()
	return newFixtureWithGateway(t, st, st)
}

// newFixtureWithGateway wires gateway into the router and API while st stays
// available for assertions.
func newFixtureWithGateway(t *testing.T, st *countingStore, gateway store.Store) *fixture {
	t.Helper()

	logger := zap.NewNop()
	hub := websocket.NewManager(websocket.Options{PingInterval: time.Hour, WriteWait: time.Second}, logger)
	router := NewRouter(hub, gateway, time.Second, "test-instance", logger)
	monitor := websocket.NewMonitor(hub, logger)

	srv := NewServer(
		handlers.NewWebSocketHandler(hub, logger),
		handlers.NewHealthCheckHandler(hub.Registry(), logger),
		handlers.NewAPIHandler(router, gateway, time.Second, logger),
		monitor,
		NewCommandService(nil, router, logger),
		logger,
		&config.ServerConfig{},
	)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		hub.Close(ctx)
		ts.Close()
	})

	return &fixture{store: st, hub: hub, router: router, monitor: monitor, server: ts}
}

// peer is a test socket client. It reads continuously so that pings are
// answered, unless created with listen=false.
type peer struct {
	t        *testing.T
	conn     *gws.Conn
	messages chan models.Message
}

func (f *fixture) connect(t *testing.T, listen bool) *peer {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	p := &peer{t: t, conn: conn, messages: make(chan models.Message, 64)}
	if listen {
		go p.readLoop()
	}
	return p
}

func (p *peer) readLoop() {
	defer close(p.messages)
	for {
		var msg models.Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			return
		}
		p.messages <- msg
	}
}

func (p *peer) send(frame interface{}) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteJSON(frame))
}

func (p *peer) sendRaw(data string) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteMessage(gws.TextMessage, []byte(data)))
}

func (p *peer) next() models.Message {
	p.t.Helper()

	select {
	case msg, ok := <-p.messages:
		require.True(p.t, ok, "connection closed")
		return msg
	case <-time.After(waitFor):
		require.FailNow(p.t, "timed out waiting for message")
		return models.Message{}
	}
}

func (p *peer) expectNone(d time.Duration) {
	p.t.Helper()

	select {
	case msg, ok := <-p.messages:
		if ok {
			require.FailNowf(p.t, "unexpected message", "%+v", msg)
		}
	case <-time.After(d):
	}
}

func (f *fixture) dashboard(t *testing.T) *peer {
	t.Helper()

	p := f.connect(t, true)
	p.send(models.Frame{Type: models.MessageTypeRegister, ClientType: models.ClientTypeDashboard})
	msg := p.next()
	require.Equal(t, models.MessageTypeDeviceList, msg.Type)
	return p
}

func (f *fixture) device(t *testing.T, deviceID string, listen bool) *peer {
	t.Helper()

	p := f.connect(t, listen)
	p.send(models.Frame{Type: models.MessageTypeRegister, ClientType: models.ClientTypeDevice, DeviceID: deviceID})
	require.Eventually(t, func() bool {
		d, err := f.store.GetDevice(context.Background(), deviceID)
		_, bound := f.hub.Registry().FindDevice(deviceID)
		return err == nil && d.IsOnline && bound
	}, waitFor, 10*time.Millisecond)
	return p
}

func dataMap(t *testing.T, msg models.Message) map[string]interface{} {
	t.Helper()

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", msg.Data)
	return data
}
