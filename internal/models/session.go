package models

import "time"

// Session is one live client connection, owned by the session registry.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	NodeID       string    `json:"node_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// CloseReason records why a session left the registry.
type CloseReason string

const (
	CloseClient       CloseReason = "client_closed"
	CloseTimeout      CloseReason = "heartbeat_timeout"
	CloseSlowConsumer CloseReason = "slow_consumer"
	CloseFlushFailed  CloseReason = "flush_failed"
	CloseShutdown     CloseReason = "shutdown"
)
