package models

import "time"

type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
	PresenceTyping  PresenceState = "typing"
)

// PresenceEvent is transient: it is fanned out once and never stored.
// ConversationID is only set for typing events.
type PresenceEvent struct {
	UserID         string        `json:"user_id"`
	State          PresenceState `json:"state"`
	ConversationID string        `json:"conversation_id,omitempty"`
	At             time.Time     `json:"at"`
}
