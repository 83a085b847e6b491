package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType defines the type of message being sent between client and server
type MessageType string

const (
	// Server -> Client message types
	MessageTypeHello             MessageType = "hello"
	MessageTypeCommandResult     MessageType = "command_result"
	MessageTypeServiceEvent      MessageType = "service_event"
	MessageTypeErrorNotification MessageType = "error_notification"

	// Client -> Server message types
	MessageTypeCommand MessageType = "command"
)

// ErrorCode defines error codes for error messages
type ErrorCode string

// Client Request Related
const (
	ErrorCodeInvalidRequestFormat ErrorCode = "INVALID_REQUEST_FORMAT"
	ErrorCodeInvalidParameters    ErrorCode = "INVALID_PARAMETERS"
	ErrorCodeUnhandledCommand     ErrorCode = "UNHANDLED_COMMAND"
)

// Server/Service Related
const (
	ErrorCodeServiceError        ErrorCode = "SERVICE_ERROR"
	ErrorCodeInternalServerError ErrorCode = "INTERNAL_SERVER_ERROR"
)

// Message is the base structure for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// Error represents an error in the WebSocket protocol
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// HelloPayload is the payload for the hello message, sent once per connection
// before any command is answered.
type HelloPayload struct {
	ServerVersion string   `json:"serverVersion"`
	DebugValues   []string `json:"debugValues"`
}

// CommandPayload is the payload for the command message
type CommandPayload struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// CommandResultPayload is the payload for the command_result message
type CommandResultPayload struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// ServiceEventPayload is the payload for the service_event message
type ServiceEventPayload struct {
	Service string          `json:"service"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorNotificationPayload is the payload for the error_notification message
type ErrorNotificationPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// CommandError is returned to callers when the server answered a command with
// success=false.
type CommandError struct {
	Command string
	Code    ErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %s: %s", e.Command, e.Code, e.Message)
}

// IsUnhandled reports whether err is a CommandError for a command that no
// server component claimed.
func IsUnhandled(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == ErrorCodeUnhandledCommand
}

// SuccessResult builds a successful CommandResultPayload from any JSON-encodable value.
func SuccessResult(data any) (CommandResultPayload, error) {
	if data == nil {
		return CommandResultPayload{Success: true}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return CommandResultPayload{}, fmt.Errorf("error marshaling result: %w", err)
	}
	return CommandResultPayload{Success: true, Data: raw}, nil
}

// ErrorResult builds a failed CommandResultPayload.
func ErrorResult(code ErrorCode, format string, args ...any) CommandResultPayload {
	return CommandResultPayload{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

// CreateMessage creates a new Message with the given type and payload
func CreateMessage(msgType MessageType, payload interface{}, requestID string) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	msg := Message{
		Type:      msgType,
		Payload:   payloadBytes,
		RequestID: requestID,
	}

	return json.Marshal(msg)
}

// ParseMessage parses a JSON message into a Message struct
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &msg, nil
}

// ParsePayload parses the payload of a message into the given struct
func ParsePayload(msg *Message, payload interface{}) error {
	return json.Unmarshal(msg.Payload, payload)
}
