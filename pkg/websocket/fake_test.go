package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errSocketClosed = errors.New("socket closed")

type fakeSocket struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
	pings   int
	pong    func(string) error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case <-s.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	default:
	}

	select {
	case data := <-s.inbound:
		return websocket.TextMessage, data, nil
	case <-s.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	if s.isClosed() {
		return errSocketClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if messageType == websocket.TextMessage {
		s.written = append(s.written, data)
	}
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, _ []byte, _ time.Time) error {
	if s.isClosed() {
		return errSocketClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if messageType == websocket.PingMessage {
		s.pings++
	}
	return nil
}

func (s *fakeSocket) SetReadLimit(int64)               {}
func (s *fakeSocket) SetReadDeadline(time.Time) error  { return nil }
func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) SetPongHandler(h func(string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pong = h
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

func (s *fakeSocket) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSocket) Pong() {
	s.mu.Lock()
	h := s.pong
	s.mu.Unlock()
	if h != nil {
		h("")
	}
}

type disconnectEvent struct {
	client  *Client
	current bool
}

type recordingHandler struct {
	mu          sync.Mutex
	frames      [][]byte
	disconnects []disconnectEvent
}

func (h *recordingHandler) HandleFrame(_ context.Context, _ *Client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, data)
}

func (h *recordingHandler) HandleDisconnect(_ context.Context, c *Client, current bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, disconnectEvent{client: c, current: current})
}

func (h *recordingHandler) Frames() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.frames...)
}

func (h *recordingHandler) Disconnects() []disconnectEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]disconnectEvent(nil), h.disconnects...)
}
