// File: internal/control/types.go
package control

import (
	"context"

	"github.com/list91/SocketClicker/internal/dispatcher"
	"github.com/list91/SocketClicker/internal/store"
)

// Controller is the part of the dispatcher the control surface drives
// (satisfied by *dispatcher.Dispatcher).
type Controller interface {
	Status() dispatcher.Status
	Pause()
	Resume()
	Paused() bool
}

// HistoryReader reads journaled outcomes (satisfied by *store.Journal).
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]store.Entry, error)
	ByCommand(ctx context.Context, commandID string) ([]store.Entry, error)
}

// Response is the envelope of every JSON reply.
type Response struct {
	Status string `json:"status"` // "success" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// LogLevelRequest is the body of PUT /api/v1/log-level.
type LogLevelRequest struct {
	Level string `json:"level"`
}

// MessageType names an event pushed over the events socket.
type MessageType string

const (
	MsgTypeCommandResult MessageType = "CommandResult"
	MsgTypeStatusUpdate  MessageType = "StatusUpdate"
)

// WSMessage is one event on the events socket.
type WSMessage struct {
	Type MessageType `json:"type"`
	Data any         `json:"data,omitempty"`
	// Timestamp is RFC3339 in UTC.
	Timestamp string `json:"timestamp"`
}
