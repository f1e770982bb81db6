package models

// EnvelopeKind tags what a node-to-node envelope carries.
type EnvelopeKind string

const (
	EnvelopeMessage  EnvelopeKind = "message"
	EnvelopeReceipt  EnvelopeKind = "receipt"
	EnvelopePresence EnvelopeKind = "presence"
	EnvelopeLink     EnvelopeKind = "link"
)

// Link announces that two users now share a conversation.
type Link struct {
	Users [2]string `json:"users"`
}

// Envelope is relayed between nodes so each can finish delivery to its own sessions.
type Envelope struct {
	Origin   string         `json:"origin"`
	Kind     EnvelopeKind   `json:"kind"`
	Message  *DMMessage     `json:"message,omitempty"`
	Presence *PresenceEvent `json:"presence,omitempty"`
	Link     *Link          `json:"link,omitempty"`
}
