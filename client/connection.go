package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"home-control/protocol"

	"github.com/gorilla/websocket"
)

// reply is what a pending request receives: a command result or a transport error
type reply struct {
	result protocol.CommandResultPayload
	err    error
}

type subscription struct {
	service string
	handler func(event string, data json.RawMessage)
}

// Connection is the panel side of the websocket protocol. Run keeps it
// connected, reconnecting with a Backoff delay; Send issues commands and
// waits for their replies.
type Connection struct {
	url     string
	backoff Backoff
	dialer  *websocket.Dialer
	events  chan Event

	mu          sync.Mutex
	state       State
	transport   *websocketTransport
	debugValues []string
	lastID      uint64
	pending     map[string]chan reply

	subMu         sync.RWMutex
	subscriptions map[int]subscription
	lastSubID     int
}

// NewConnection creates a connection to serverURL. It does not dial until Run is called.
func NewConnection(serverURL string, backoff Backoff) (*Connection, error) {
	if err := validateServerURL(serverURL); err != nil {
		return nil, err
	}
	if backoff == nil {
		backoff = DefaultBackoff
	}

	return &Connection{
		url:           serverURL,
		backoff:       backoff,
		dialer:        websocket.DefaultDialer,
		events:        make(chan Event),
		state:         StateDisconnected,
		pending:       make(map[string]chan reply),
		subscriptions: make(map[int]subscription),
	}, nil
}

// URL returns the server URL
func (c *Connection) URL() string {
	return c.url
}

// Events delivers connect and disconnect events. It must be drained while Run
// is active; it is closed when Run returns.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// State returns the current state
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DebugValues returns the debug values of the last hello received from the server
func (c *Connection) DebugValues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.debugValues...)
}

// Subscribe registers handler for the service events of serviceID. Handlers run
// on the read goroutine and must not wait on Send. The returned function removes
// the subscription.
func (c *Connection) Subscribe(serviceID string, handler func(event string, data json.RawMessage)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.lastSubID++
	id := c.lastSubID
	c.subscriptions[id] = subscription{service: serviceID, handler: handler}

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subscriptions, id)
	}
}

func (c *Connection) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// Run connects to the server and keeps reconnecting until ctx is cancelled.
// It returns ctx.Err().
func (c *Connection) Run(ctx context.Context) error {
	defer close(c.events)

	attempt := 0
	for {
		c.setState(StateConnecting)
		transport, err := c.connect(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := c.backoff.Next(attempt)
			slog.Warn("Connection to server failed", "url", c.url, "attempt", attempt+1, "retryIn", delay, "err", err)
			attempt++
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		attempt = 0
		slog.Info("Connected to server", "url", c.url)
		if !c.emit(ctx, Event{Type: EventConnect}) {
			c.lost(transport)
			return ctx.Err()
		}

		err = c.readLoop(ctx, transport)
		c.lost(transport)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("Connection to server lost", "url", c.url, "err", err)
		if !c.emit(ctx, Event{Type: EventDisconnect, Err: err}) {
			return ctx.Err()
		}

		delay := c.backoff.Next(attempt)
		attempt++
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// connect dials and waits for the hello message. The connection only counts as
// established once the hello was received.
func (c *Connection) connect(ctx context.Context) (*websocketTransport, error) {
	transport, err := dialWebSocket(ctx, c.dialer, c.url)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = transport.Close() })
	defer stop()

	data, err := transport.ReadMessage()
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("error waiting for hello: %w", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type != protocol.MessageTypeHello {
		_ = transport.Close()
		return nil, fmt.Errorf("server did not start with a hello message")
	}
	var hello protocol.HelloPayload
	if err := protocol.ParsePayload(msg, &hello); err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("error parsing hello: %w", err)
	}

	c.mu.Lock()
	c.transport = transport
	c.debugValues = hello.DebugValues
	c.state = StateConnected
	c.mu.Unlock()

	slog.Debug("Hello received", "serverVersion", hello.ServerVersion)
	return transport, nil
}

// lost moves to Disconnected and rejects every pending request
func (c *Connection) lost(transport *websocketTransport) {
	_ = transport.Close()

	c.mu.Lock()
	c.state = StateDisconnected
	c.transport = nil
	pending := c.pending
	c.pending = make(map[string]chan reply)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: ErrDisconnected}
	}
}

func (c *Connection) emit(ctx context.Context, event Event) bool {
	select {
	case c.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// readLoop dispatches server messages until the transport fails
func (c *Connection) readLoop(ctx context.Context, transport *websocketTransport) error {
	stop := context.AfterFunc(ctx, func() { _ = transport.Close() })
	defer stop()

	for {
		data, err := transport.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			slog.Warn("Error parsing message from server", "err", err)
			continue
		}

		switch msg.Type {
		case protocol.MessageTypeCommandResult:
			c.handleResult(msg)
		case protocol.MessageTypeServiceEvent:
			c.handleServiceEvent(msg)
		case protocol.MessageTypeErrorNotification:
			var payload protocol.ErrorNotificationPayload
			_ = protocol.ParsePayload(msg, &payload)
			slog.Warn("Error notification from server", "code", payload.Code, "message", payload.Message)
		case protocol.MessageTypeHello:
			slog.Debug("Ignoring repeated hello")
		default:
			slog.Debug("Ignoring unknown message", "type", msg.Type)
		}
	}
}

func (c *Connection) handleResult(msg *protocol.Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.RequestID]
	delete(c.pending, msg.RequestID)
	c.mu.Unlock()

	if !ok {
		slog.Warn("Dropping reply to unknown request", "requestId", msg.RequestID)
		return
	}

	var result protocol.CommandResultPayload
	if err := protocol.ParsePayload(msg, &result); err != nil {
		ch <- reply{err: fmt.Errorf("error parsing command result: %w", err)}
		return
	}
	ch <- reply{result: result}
}

func (c *Connection) handleServiceEvent(msg *protocol.Message) {
	var payload protocol.ServiceEventPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		slog.Warn("Error parsing service event", "err", err)
		return
	}

	c.subMu.RLock()
	var handlers []func(event string, data json.RawMessage)
	for _, sub := range c.subscriptions {
		if sub.service == payload.Service {
			handlers = append(handlers, sub.handler)
		}
	}
	c.subMu.RUnlock()

	for _, handler := range handlers {
		handler(payload.Event, payload.Data)
	}
}

// Send issues command with params and waits for its reply, decoding the
// result data into result when it is not nil. There is no reply timeout: Send
// returns when the reply arrives, when ctx is done, or with ErrDisconnected
// when the transport is lost. A reply with success=false is returned as a
// *protocol.CommandError.
func (c *Connection) Send(ctx context.Context, command string, params any, result any) error {
	payload := protocol.CommandPayload{Name: command}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("error marshaling parameters of %s: %w", command, err)
		}
		payload.Parameters = raw
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	transport := c.transport
	c.lastID++
	requestID := fmt.Sprintf("req-%d", c.lastID)
	ch := make(chan reply, 1)
	c.pending[requestID] = ch
	c.mu.Unlock()

	data, err := protocol.CreateMessage(protocol.MessageTypeCommand, payload, requestID)
	if err != nil {
		c.forget(requestID)
		return fmt.Errorf("error creating message: %w", err)
	}

	if err := transport.WriteMessage(data); err != nil {
		c.forget(requestID)
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		return decodeResult(command, r.result, result)
	case <-ctx.Done():
		c.forget(requestID)
		return ctx.Err()
	}
}

func (c *Connection) forget(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, requestID)
}

func decodeResult(command string, payload protocol.CommandResultPayload, result any) error {
	if !payload.Success {
		cmdErr := &protocol.CommandError{Command: command, Code: protocol.ErrorCodeInternalServerError}
		if payload.Error != nil {
			cmdErr.Code = payload.Error.Code
			cmdErr.Message = payload.Error.Message
		}
		return cmdErr
	}
	if result == nil || len(payload.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload.Data, result); err != nil {
		return fmt.Errorf("error decoding result of %s: %w", command, err)
	}
	return nil
}
