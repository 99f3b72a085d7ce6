package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrStalePong     = errors.New("connection stale (no pong)")
	ErrAlreadyClosed = errors.New("already closed")
	ErrMissingToken  = errors.New("auth token unavailable")
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reserved message types handled by the Manager itself. Every other type is
// forwarded verbatim to the Event Bus under a topic equal to the type.
const (
	TypeConnectionEstablished = "connection_established"
	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Envelope is the wire format of every dashboard message.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// TimestampedMessage wraps raw message data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Snapshot is a point-in-time view of the Manager, exposed for
// observability. LastPongAt is zero until the first heartbeat ack.
type Snapshot struct {
	State      State
	Attempts   int
	Epoch      int64
	LastPongAt time.Time
	LastErr    error
}
