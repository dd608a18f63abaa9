package ws

import (
	"github.com/tasksync/backend/internal/event"
)

type MessageType string

const (
	MsgConnected  MessageType = "connected"
	MsgTaskUpdate MessageType = "task_update"
	MsgPing       MessageType = "ping"
	MsgPong       MessageType = "pong"
	MsgError      MessageType = "error"
)

type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ConnectedPayload acknowledges a successful handshake. DeviceID echoes what
// the client supplied so it can confirm which device identity the server
// will use for echo suppression.
type ConnectedPayload struct {
	Message  string `json:"message"`
	DeviceID string `json:"device_id,omitempty"`
}

// TaskUpdatePayload carries one delivered update event.
type TaskUpdatePayload struct {
	Type event.Type   `json:"type"`
	Data event.Update `json:"data"`
}

// clientMessage is the envelope for frames received from clients. Only the
// type is inspected; anything unrecognized is ignored.
type clientMessage struct {
	Type MessageType `json:"type"`
}

type HealthResponse struct {
	Status      string  `json:"status"`
	Service     string  `json:"service"`
	Connections int     `json:"connections"`
	Uptime      float64 `json:"uptime_seconds"`
}

type StatsResponse struct {
	Connections      int     `json:"connections"`
	Users            int     `json:"users"`
	Delivered        int64   `json:"delivered"`
	DroppedSends     int64   `json:"dropped_sends"`
	BridgePublishes  int64   `json:"bridge_publishes"`
	BridgeDeliveries int64   `json:"bridge_deliveries"`
	Uptime           float64 `json:"uptime_seconds"`
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryMB         float64 `json:"memory_mb"`
}
