package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the server.
	writeWait = 10 * time.Second

	// Time allowed between two pings from the server. The server pings
	// every 54 seconds.
	pongWait = 60 * time.Second
)

// errNoConnection is returned by a transport that was never dialed or was closed
var errNoConnection = errors.New("websocket connection is not open")

// websocketTransport is the gorilla/websocket connection used by Connection.
// Reads happen only on the Run goroutine, writes may come from any goroutine.
type websocketTransport struct {
	conn       *websocket.Conn
	writeMutex sync.Mutex
}

// validateServerURL checks that serverURL is a ws:// or wss:// URL
func validateServerURL(serverURL string) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server URL %q: scheme must be ws or wss", serverURL)
	}
	return nil
}

// dialWebSocket connects to the server
func dialWebSocket(ctx context.Context, dialer *websocket.Dialer, serverURL string) (*websocketTransport, error) {
	conn, _, err := dialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, err
	}

	t := &websocketTransport{conn: conn}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return t, nil
}

// ReadMessage reads the next text message from the server
func (t *websocketTransport) ReadMessage() ([]byte, error) {
	if t.conn == nil {
		return nil, errNoConnection
	}
	_, message, err := t.conn.ReadMessage()
	return message, err
}

// WriteMessage sends a text message to the server
func (t *websocketTransport) WriteMessage(data []byte) error {
	if t.conn == nil {
		return errNoConnection
	}
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the connection
func (t *websocketTransport) Close() error {
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
