package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"home-control/environment"
	"home-control/protocol"
	"home-control/service"
)

// WebSocketServer connects the transport to the command router
type WebSocketServer struct {
	ctx       context.Context
	cancel    context.CancelFunc
	transport WebSocketTransport
	server    *Server
}

// NewWebSocketServer creates a new WebSocket server listening on addr
func NewWebSocketServer(ctx context.Context, addr string, srv *Server) *WebSocketServer {
	serverCtx, cancel := context.WithCancel(ctx)
	return newWebSocketServer(serverCtx, cancel, NewDefaultWebSocketTransport(serverCtx, addr), srv)
}

func newWebSocketServer(ctx context.Context, cancel context.CancelFunc, transport WebSocketTransport, srv *Server) *WebSocketServer {
	ws := &WebSocketServer{
		ctx:       ctx,
		cancel:    cancel,
		transport: transport,
		server:    srv,
	}

	transport.SetConnectHandler(ws.handleClientConnect)
	transport.SetMessageHandler(ws.handleClientMessage)
	transport.SetDisconnectHandler(ws.handleClientDisconnect)

	return ws
}

// Transport returns the underlying transport
func (ws *WebSocketServer) Transport() WebSocketTransport {
	return ws.transport
}

// Start starts the WebSocket server
func (ws *WebSocketServer) Start(options StartOptions) error {
	return ws.transport.Start(options)
}

// Stop stops the WebSocket server
func (ws *WebSocketServer) Stop() error {
	ws.cancel()
	return ws.transport.Stop()
}

// handleClientConnect is called when a new client connects
func (ws *WebSocketServer) handleClientConnect(connID string) error {
	slog.Debug("New WebSocket connection established", "connID", connID)

	payload := protocol.HelloPayload{
		ServerVersion: ws.server.options.Version,
		DebugValues:   ws.debugValues(connID),
	}
	return ws.sendMessageToClient(connID, protocol.MessageTypeHello, payload, "")
}

// debugValues are shown by panels in their configuration dialog
func (ws *WebSocketServer) debugValues(connID string) []string {
	env := ws.server.Environment()
	return []string{
		fmt.Sprintf("Server version: %s", ws.server.options.Version),
		fmt.Sprintf("Server started: %s", ws.server.StartedAt().Format(time.RFC3339)),
		fmt.Sprintf("Connection: %s", connID),
		fmt.Sprintf("Rooms: %d, services: %d", len(env.Rooms()), len(ws.server.Services().Services())),
	}
}

// handleClientMessage is called when a message is received from a client
func (ws *WebSocketServer) handleClientMessage(connID string, message []byte) error {
	msg, err := protocol.ParseMessage(message)
	if err != nil {
		slog.Warn("Error parsing message", "connID", connID, "err", err)
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Error parsing message: %v", err),
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, "")
	}

	switch msg.Type {
	case protocol.MessageTypeCommand:
		result := ws.handleCommandFromClient(connID, msg)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	default:
		slog.Warn("Unknown message type", "connID", connID, "type", msg.Type)
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Unknown message type: %s", msg.Type),
		}
		if msg.RequestID != "" {
			// The sender waits for a reply to this request
			return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult,
				protocol.ErrorResult(errorPayload.Code, "%s", errorPayload.Message), msg.RequestID)
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, "")
	}
}

// handleCommandFromClient runs one command through the router and converts
// the outcome into a command_result payload
func (ws *WebSocketServer) handleCommandFromClient(connID string, msg *protocol.Message) protocol.CommandResultPayload {
	var payload protocol.CommandPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return protocol.ErrorResult(protocol.ErrorCodeInvalidRequestFormat, "Error parsing command payload: %v", err)
	}
	if payload.Name == "" {
		return protocol.ErrorResult(protocol.ErrorCodeInvalidRequestFormat, "No command specified")
	}

	client := clientHandle{id: connID, ws: ws}
	result, err := ws.server.HandleCommand(ws.ctx, client, payload.Name, payload.Parameters)
	if err != nil {
		var paramErr *environment.ParameterError
		switch {
		case errors.Is(err, ErrUnhandled):
			slog.Warn("Unhandled command", "connID", connID, "command", payload.Name)
			return protocol.ErrorResult(protocol.ErrorCodeUnhandledCommand, "No handler for command: %s", payload.Name)
		case errors.As(err, &paramErr), errors.Is(err, service.ErrInvalidParameters):
			return protocol.ErrorResult(protocol.ErrorCodeInvalidParameters, "%v", err)
		default:
			slog.Error("Command failed", "connID", connID, "command", payload.Name, "err", err)
			return protocol.ErrorResult(protocol.ErrorCodeServiceError, "%v", err)
		}
	}

	resultPayload, err := protocol.SuccessResult(result)
	if err != nil {
		return protocol.ErrorResult(protocol.ErrorCodeInternalServerError, "%v", err)
	}
	return resultPayload
}

// handleClientDisconnect is called when a client disconnects
func (ws *WebSocketServer) handleClientDisconnect(connID string) {
	slog.Debug("WebSocket connection closed", "connID", connID)
}

// sendMessageToClient sends a message to a client
func (ws *WebSocketServer) sendMessageToClient(connID string, msgType protocol.MessageType, payload interface{}, requestID string) error {
	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		return fmt.Errorf("error creating message: %v", err)
	}

	return ws.transport.SendMessage(connID, data)
}

func serviceEvent(serviceID, event string, payload any) (protocol.ServiceEventPayload, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return protocol.ServiceEventPayload{}, fmt.Errorf("error marshaling %s event %s: %w", serviceID, event, err)
	}
	return protocol.ServiceEventPayload{Service: serviceID, Event: event, Data: data}, nil
}

// Broadcast sends a service event to every connected client
func (ws *WebSocketServer) Broadcast(serviceID, event string, payload any) error {
	eventPayload, err := serviceEvent(serviceID, event, payload)
	if err != nil {
		return err
	}

	data, err := protocol.CreateMessage(protocol.MessageTypeServiceEvent, eventPayload, "")
	if err != nil {
		slog.Error("Error creating broadcast message", "err", err)
		return err
	}

	return ws.transport.BroadcastMessage(data)
}

// clientHandle is the service.Client for one connection
type clientHandle struct {
	id string
	ws *WebSocketServer
}

func (c clientHandle) ID() string {
	return c.id
}

func (c clientHandle) Push(serviceID, event string, payload any) error {
	eventPayload, err := serviceEvent(serviceID, event, payload)
	if err != nil {
		return err
	}
	return c.ws.sendMessageToClient(c.id, protocol.MessageTypeServiceEvent, eventPayload, "")
}
