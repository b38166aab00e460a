package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"aether/internal/models"
)

type mockWS struct {
	readCh      chan models.ClientEvent
	writeCh     chan any
	closeCh     chan struct{}
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientEvent, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case ev, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientEvent); ok {
			*ptr = ev
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockEventHub struct {
	connectCh    chan string
	disconnectCh chan string
	handledCh    chan models.ClientEvent
	connectErr   error
	// per connection channel
	connChans map[string]chan models.ServerEvent
}

func newMockEventHub() *mockEventHub {
	return &mockEventHub{
		connectCh:    make(chan string, 10),
		disconnectCh: make(chan string, 10),
		handledCh:    make(chan models.ClientEvent, 10),
		connChans:    make(map[string]chan models.ServerEvent),
	}
}

func (m *mockEventHub) Connect(userID, connID string) (chan models.ServerEvent, error) {
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	m.connectCh <- userID
	ch := make(chan models.ServerEvent, 10)
	m.connChans[connID] = ch
	return ch, nil
}

func (m *mockEventHub) Disconnect(userID, connID string) {
	m.disconnectCh <- userID
	if ch, ok := m.connChans[connID]; ok {
		close(ch)
		delete(m.connChans, connID)
	}
}

func (m *mockEventHub) HandleEvent(userID, connID string, ev models.ClientEvent) {
	m.handledCh <- ev
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockEventHub()
	ws := newMockWS()
	userID := "user1"

	conn, err := NewConnection(hub, ws, userID)
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}

	// Verify Connect was called
	select {
	case id := <-hub.connectCh:
		if id != userID {
			t.Errorf("Expected Connect with %s, got %s", userID, id)
		}
	default:
		t.Error("Connect not called on NewConnection")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// 1. Event from Client -> Hub
	clientEv := models.ClientEvent{
		Type:       models.ClientEventPrivateMessage,
		ReceiverID: "user2",
		Content:    "hello",
	}
	ws.readCh <- clientEv

	select {
	case received := <-hub.handledCh:
		if received.Content != clientEv.Content {
			t.Errorf("Hub received wrong content: %v", received)
		}
	case <-time.After(1 * time.Second):
		t.Error("Hub did not receive client event")
	}

	// 2. Event from Server -> Client
	serverEv := models.ServerEvent{
		Type:   models.ServerEventPrivateMessage,
		UserID: "user2",
	}
	hub.connChans[conn.connID] <- serverEv

	select {
	case received := <-ws.writeCh:
		sEv, ok := received.(models.ServerEvent)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if sEv.Type != models.ServerEventPrivateMessage {
			t.Errorf("WS received wrong event: %v", sEv)
		}
	case <-time.After(1 * time.Second):
		t.Error("WS did not receive server event")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after cancel")
	}

	// Verify Disconnect called
	select {
	case id := <-hub.disconnectCh:
		if id != userID {
			t.Errorf("Expected Disconnect with %s, got %s", userID, id)
		}
	default:
		t.Error("Disconnect not called")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockEventHub()
	ws := newMockWS()

	conn, err := NewConnection(hub, ws, "user2")
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}

	// Simulate ReadJSON error immediately
	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return on error")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
}

func TestConnection_ConnectError(t *testing.T) {
	hub := newMockEventHub()
	hub.connectErr = errors.New("storage down")

	if _, err := NewConnection(hub, newMockWS(), "user3"); err == nil {
		t.Error("Expected NewConnection to propagate Connect error")
	}
}
