package models

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
)

// Client -> server event kinds.
const (
	KindJoinAdmin    = "join-admin"
	KindSystemStatus = "system-status"
	KindAPIHealth    = "api-health"
	KindUserActivity = "user-activity"
	KindLogEntry     = "log-entry"
	KindError        = "error"
	KindAdminMessage = "admin-message"
	KindPing         = "ping"
)

// Server -> client event kinds.
const (
	KindConnected      = "connected"
	KindAdminJoined    = "admin-joined"
	KindAdminOnline    = "admin-online"
	KindAdminOffline   = "admin-offline"
	KindStatusUpdate   = "status-update"
	KindHealthUpdate   = "health-update"
	KindActivityUpdate = "activity-update"
	KindNewLog         = "new-log"
	KindErrorAlert     = "error-alert"
	KindAdminBroadcast = "admin-broadcast"
	KindSystemStats    = "system-stats"
	KindPong           = "pong"
)

// KindDisconnected is a client-local pseudo event fired by the client wrapper
// when the transport drops. It never travels over the wire.
const KindDisconnected = "disconnected"

// Envelope is the tagged payload attached to every relayed event.
type Envelope struct {
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
}

// NewEnvelope builds a stamped envelope with the payload marshaled in place.
func NewEnvelope(kind string, data interface{}) (Envelope, error) {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Kind:      kind,
		Data:      raw,
		Timestamp: Now(),
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return sonic.Unmarshal(e.Data, v)
}

// Now returns the wire timestamp format used across the relay.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

type JoinAdmin struct {
	Email  string `json:"email"`
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type AdminPresence struct {
	SocketID  string `json:"socketId"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

type Connected struct {
	SocketID  string `json:"socketId"`
	Timestamp string `json:"timestamp"`
}

type LogEntry struct {
	ID        string `json:"id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Source    string `json:"source,omitempty"`
	Timestamp string `json:"timestamp"`
}

type ErrorReport struct {
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Source    string `json:"source,omitempty"`
	Timestamp string `json:"timestamp"`
}

type AdminMessage struct {
	Message   string `json:"message"`
	From      string `json:"from,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Ping carries a client identifier and the client send time in unix milliseconds.
type Ping struct {
	Client    string `json:"client"`
	Timestamp int64  `json:"timestamp"`
}

type Pong struct {
	Client    string `json:"client"`
	Timestamp int64  `json:"timestamp"`
	Latency   int64  `json:"latency"`
	Server    string `json:"server"`
}

type SystemStats struct {
	ConnectedClients int     `json:"connectedClients"`
	AdminClients     int     `json:"adminClients"`
	Uptime           float64 `json:"uptime"`
	Timestamp        string  `json:"timestamp"`
}

type APIHealth struct {
	Endpoint  string `json:"endpoint"`
	Status    int    `json:"status"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
	Timestamp string `json:"timestamp"`
}

type UserActivity struct {
	UserID    string `json:"userId,omitempty"`
	Action    string `json:"action"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

type SystemStatus struct {
	Component string  `json:"component"`
	Status    string  `json:"status"`
	CPU       float64 `json:"cpu,omitempty"`
	Memory    float64 `json:"memory,omitempty"`
	Timestamp string  `json:"timestamp"`
}
