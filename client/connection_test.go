package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"home-control/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var fastBackoff = ExponentialBackoff{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond}

// fakeServer sends a hello on every connection and hands the connection to the test
type fakeServer struct {
	server      *httptest.Server
	conns       chan *websocket.Conn
	connections atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := fs.connections.Add(1)
		hello, _ := protocol.CreateMessage(protocol.MessageTypeHello, protocol.HelloPayload{
			ServerVersion: "test",
			DebugValues:   []string{fmt.Sprintf("Connection: %d", n)},
		}, "")
		if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http") + "/ws"
}

func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func readCommand(t *testing.T, conn *websocket.Conn) (string, protocol.CommandPayload) {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.ParseMessage(data)
	require.NoError(t, err)
	require.Equal(t, protocol.MessageTypeCommand, msg.Type)
	var payload protocol.CommandPayload
	require.NoError(t, protocol.ParsePayload(msg, &payload))
	return msg.RequestID, payload
}

func writeResult(t *testing.T, conn *websocket.Conn, requestID string, result protocol.CommandResultPayload) {
	t.Helper()
	data, err := protocol.CreateMessage(protocol.MessageTypeCommandResult, result, requestID)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func success(t *testing.T, data any) protocol.CommandResultPayload {
	t.Helper()
	result, err := protocol.SuccessResult(data)
	require.NoError(t, err)
	return result
}

func nextEvent(t *testing.T, c *Connection) Event {
	t.Helper()
	select {
	case event, ok := <-c.Events():
		require.True(t, ok, "events closed")
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func startConnection(t *testing.T, fs *fakeServer) *Connection {
	t.Helper()
	c, err := NewConnection(fs.url(), fastBackoff)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		// drain so Run can return
		for range c.Events() {
		}
		assert.ErrorIs(t, <-done, context.Canceled)
	})
	return c
}

func TestNewConnection_InvalidURL(t *testing.T) {
	_, err := NewConnection("http://localhost:8080/ws", nil)
	assert.Error(t, err)
	_, err = NewConnection("://", nil)
	assert.Error(t, err)
}

func TestSend_NotConnected(t *testing.T) {
	c, err := NewConnection("ws://localhost:1/ws", nil)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, c.State())
	assert.ErrorIs(t, c.Send(context.Background(), "environment-rooms", nil, nil), ErrNotConnected)
}

func TestConnection_HandshakeAndSend(t *testing.T) {
	fs := newFakeServer(t)
	c := startConnection(t, fs)
	conn := fs.accept(t)

	assert.Equal(t, EventConnect, nextEvent(t, c).Type)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, []string{"Connection: 1"}, c.DebugValues())

	go func() {
		requestID, payload := readCommand(t, conn)
		assert.Equal(t, "req-1", requestID)
		assert.Equal(t, "environment-services", payload.Name)
		assert.JSONEq(t, `{"room":"Kitchen"}`, string(payload.Parameters))
		writeResult(t, conn, requestID, success(t, map[string][]string{"services": {"a"}}))
	}()

	var result struct {
		Services []string `json:"services"`
	}
	err := c.Send(context.Background(), "environment-services", map[string]string{"room": "Kitchen"}, &result)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, result.Services)
}

func TestConnection_ConcurrentSendsOutOfOrderReplies(t *testing.T) {
	const n = 8
	fs := newFakeServer(t)
	c := startConnection(t, fs)
	conn := fs.accept(t)
	require.Equal(t, EventConnect, nextEvent(t, c).Type)

	go func() {
		type request struct {
			id   string
			name string
		}
		var requests []request
		for i := 0; i < n; i++ {
			id, payload := readCommand(t, conn)
			requests = append(requests, request{id: id, name: payload.Name})
		}
		// reply in reverse order
		for i := len(requests) - 1; i >= 0; i-- {
			writeResult(t, conn, requests[i].id, success(t, map[string]string{"name": requests[i].name}))
		}
	}()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			name := fmt.Sprintf("cmd-%d", i)
			var result struct {
				Name string `json:"name"`
			}
			if err := c.Send(ctx, name, nil, &result); err != nil {
				return err
			}
			if result.Name != name {
				return fmt.Errorf("%s got the reply for %s", name, result.Name)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestConnection_DisconnectRejectsPendingAndReconnects(t *testing.T) {
	const n = 3
	fs := newFakeServer(t)
	c := startConnection(t, fs)
	conn := fs.accept(t)
	require.Equal(t, EventConnect, nextEvent(t, c).Type)

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- c.Send(context.Background(), "Philips Hue/lights", nil, nil)
		}()
	}
	for i := 0; i < n; i++ {
		readCommand(t, conn)
	}
	conn.Close()

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrDisconnected)
		case <-time.After(5 * time.Second):
			t.Fatal("pending send was not rejected")
		}
	}

	event := nextEvent(t, c)
	assert.Equal(t, EventDisconnect, event.Type)
	assert.Error(t, event.Err)

	fs.accept(t)
	assert.Equal(t, EventConnect, nextEvent(t, c).Type)
	assert.Equal(t, int32(2), fs.connections.Load())
	assert.Equal(t, []string{"Connection: 2"}, c.DebugValues())
}

func TestConnection_CommandError(t *testing.T) {
	fs := newFakeServer(t)
	c := startConnection(t, fs)
	conn := fs.accept(t)
	require.Equal(t, EventConnect, nextEvent(t, c).Type)

	go func() {
		requestID, _ := readCommand(t, conn)
		writeResult(t, conn, requestID, protocol.ErrorResult(protocol.ErrorCodeUnhandledCommand, "No handler for command: bogus"))
	}()

	err := c.Send(context.Background(), "bogus", nil, nil)
	var cmdErr *protocol.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "bogus", cmdErr.Command)
	assert.True(t, protocol.IsUnhandled(err))
}

func TestConnection_UnknownReplyIsDropped(t *testing.T) {
	fs := newFakeServer(t)
	c := startConnection(t, fs)
	conn := fs.accept(t)
	require.Equal(t, EventConnect, nextEvent(t, c).Type)

	go func() {
		requestID, _ := readCommand(t, conn)
		writeResult(t, conn, "req-999", success(t, map[string]int{"n": 999}))
		writeResult(t, conn, requestID, success(t, map[string]int{"n": 1}))
	}()

	var result struct {
		N int `json:"n"`
	}
	require.NoError(t, c.Send(context.Background(), "environment-rooms", nil, &result))
	assert.Equal(t, 1, result.N)
}

func TestConnection_SendContextCancelled(t *testing.T) {
	fs := newFakeServer(t)
	c := startConnection(t, fs)
	conn := fs.accept(t)
	require.Equal(t, EventConnect, nextEvent(t, c).Type)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		readCommand(t, conn)
		cancel()
	}()

	assert.ErrorIs(t, c.Send(ctx, "environment-rooms", nil, nil), context.Canceled)

	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}

func TestConnection_ServiceEvents(t *testing.T) {
	fs := newFakeServer(t)
	c := startConnection(t, fs)
	conn := fs.accept(t)
	require.Equal(t, EventConnect, nextEvent(t, c).Type)

	received := make(chan string, 2)
	unsubscribe := c.Subscribe("Philips Hue", func(event string, data json.RawMessage) {
		received <- event + " " + string(data)
	})
	defer unsubscribe()
	c.Subscribe("Other", func(event string, data json.RawMessage) {
		received <- "other"
	})

	data, err := protocol.CreateMessage(protocol.MessageTypeServiceEvent, protocol.ServiceEventPayload{
		Service: "Philips Hue",
		Event:   "light-state",
		Data:    json.RawMessage(`{"on":true}`),
	}, "")
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case got := <-received:
		assert.Equal(t, `light-state {"on":true}`, got)
	case <-time.After(5 * time.Second):
		t.Fatal("service event not delivered")
	}
}

func TestConnection_DialFailureEmitsNoEvents(t *testing.T) {
	fs := newFakeServer(t)
	url := fs.url()
	fs.server.Close()

	c, err := NewConnection(url, fastBackoff)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case event, ok := <-c.Events():
		assert.False(t, ok, "unexpected event %v", event.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.ErrorIs(t, <-done, context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultBackoff.Next(tt.attempt), "attempt %d", tt.attempt)
	}
}
