//go:build integration

package helpers

import (
	"encoding/json"
	"fmt"
	"time"

	"home-control/protocol"

	"github.com/gorilla/websocket"
)

// WebSocketConnection is a raw protocol connection to the server
type WebSocketConnection struct {
	conn   *websocket.Conn
	url    string
	closed bool
	lastID int
}

// NewWebSocketConnection dials the server
func NewWebSocketConnection(serverURL string) (*WebSocketConnection, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, _, err := dialer.Dial(serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %v", err)
	}

	return &WebSocketConnection{
		conn: conn,
		url:  serverURL,
	}, nil
}

// SendCommand sends a command and returns its request id
func (wsc *WebSocketConnection) SendCommand(name string, params any) (string, error) {
	if wsc.closed {
		return "", fmt.Errorf("connection closed")
	}

	payload := protocol.CommandPayload{Name: name}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return "", err
		}
		payload.Parameters = raw
	}

	wsc.lastID++
	requestID := fmt.Sprintf("raw-%d", wsc.lastID)
	data, err := protocol.CreateMessage(protocol.MessageTypeCommand, payload, requestID)
	if err != nil {
		return "", err
	}
	return requestID, wsc.conn.WriteMessage(websocket.TextMessage, data)
}

// ReceiveMessage reads the next message
func (wsc *WebSocketConnection) ReceiveMessage(timeout time.Duration) (*protocol.Message, error) {
	if wsc.closed {
		return nil, fmt.Errorf("connection closed")
	}

	if timeout > 0 {
		_ = wsc.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	_, data, err := wsc.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("receive failed: %v", err)
	}
	return protocol.ParseMessage(data)
}

// WaitForMessage reads messages until one matches predicate
func (wsc *WebSocketConnection) WaitForMessage(predicate func(*protocol.Message) bool, timeout time.Duration) (*protocol.Message, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		message, err := wsc.ReceiveMessage(time.Until(deadline))
		if err != nil {
			return nil, err
		}

		if predicate(message) {
			return message, nil
		}
	}

	return nil, fmt.Errorf("timeout: no matching message received")
}

// Close closes the connection
func (wsc *WebSocketConnection) Close() error {
	if wsc.closed {
		return nil
	}

	wsc.closed = true
	return wsc.conn.Close()
}

// WaitForCondition polls condition until it holds or timeout expires
func WaitForCondition(condition func() bool, timeout time.Duration, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}

	return false
}
