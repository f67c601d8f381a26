// Package events defines the events urd publishes and the bus that
// delivers them to subscribers (login log, MQTT telemetry, metrics).
package events

import "time"

// EventType identifies an event on the EventBus.
type EventType string

const (
	// Login events
	EventLoginAccepted EventType = "login_accepted"
	EventLoginRefused  EventType = "login_refused"
	EventEnter         EventType = "enter"

	// Session events
	EventSessionClosed EventType = "session_closed"
	EventSessionKicked EventType = "session_kicked"

	// Connection events
	EventConnectionOpened   EventType = "connection_opened"
	EventConnectionClosed   EventType = "connection_closed"
	EventConnectionRejected EventType = "connection_rejected"

	// Char-server reachability
	EventCharServerDown EventType = "char_server_down"
	EventCharServerUp   EventType = "char_server_up"

	// System events
	EventStartup  EventType = "startup"
	EventShutdown EventType = "shutdown"
)

// Event is a single message on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// LoginAcceptedPayload is emitted after a session was recorded.
type LoginAcceptedPayload struct {
	Time      time.Time `json:"time"`
	UserID    string    `json:"userid"`
	AccountID uint32    `json:"account_id"`
	Level     uint32    `json:"level"`
	SessionID uint64    `json:"session_id"`
	Remote    string    `json:"remote"`
	Version   uint32    `json:"version"`
}

// LoginRefusedPayload is emitted when a login gets a LoginRefused or
// BanNotification response. Reason is the wire reason name.
type LoginRefusedPayload struct {
	Time    time.Time `json:"time"`
	UserID  string    `json:"userid"`
	Remote  string    `json:"remote"`
	Reason  string    `json:"reason"`
	Code    uint8     `json:"code"`
	Version uint32    `json:"version"`
}

// EnterPayload is emitted for an acknowledged EnterRequest.
type EnterPayload struct {
	AccountID uint32 `json:"account_id"`
	Remote    string `json:"remote"`
}

// SessionClosedPayload is emitted when a session leaves the registry.
type SessionClosedPayload struct {
	UserID    string        `json:"userid"`
	AccountID uint32        `json:"account_id"`
	SessionID uint64        `json:"session_id"`
	Remote    string        `json:"remote"`
	Duration  time.Duration `json:"duration_ns"`
	Reason    string        `json:"reason"`
}

// ConnectionPayload describes a connection lifecycle change.
type ConnectionPayload struct {
	Remote string `json:"remote"`
	Reason string `json:"reason,omitempty"`
}

// SystemPayload accompanies startup and shutdown.
type SystemPayload struct {
	Version string    `json:"version"`
	Listen  string    `json:"listen"`
	Time    time.Time `json:"time"`
}

// CharServerPayload reports a reachability change of a char server.
type CharServerPayload struct {
	Name  string    `json:"name"`
	Addr  string    `json:"addr"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}
