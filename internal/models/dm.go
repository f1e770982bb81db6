package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLength is the longest message body accepted, in characters.
const MaxContentLength = 2000

type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageImage  MessageType = "IMAGE"
	MessageSystem MessageType = "SYSTEM"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageSystem:
		return true
	}
	return false
}

// DeliveryStatus is the lifecycle of a sequenced message as seen by its recipient.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// CanTransition reports whether a message in status s may move to status to.
// Status only moves forward; staying in place is allowed so that repeated
// acks and read receipts are no-ops.
func (s DeliveryStatus) CanTransition(to DeliveryStatus) bool {
	from, next := s.rank(), to.rank()
	if from < 0 || next < 0 {
		return false
	}
	return next >= from
}

type DMConversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"` // Always 2 for DM
	LastSeq      int64     `json:"last_seq"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Has reports whether userID is one of the two participants.
func (c *DMConversation) Has(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Other returns the participant that is not userID.
func (c *DMConversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Payload is what a sender supplies; the sequencer stamps everything else.
type Payload struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

// Normalize defaults the type and validates the content.
func (p Payload) Normalize() (Payload, error) {
	if p.Type == "" {
		p.Type = MessageText
	}
	if !p.Type.Valid() {
		return p, NewError(ErrInvalidPayload, "unknown message type "+string(p.Type))
	}
	if strings.TrimSpace(p.Content) == "" {
		return p, NewError(ErrInvalidPayload, "content cannot be empty")
	}
	if utf8.RuneCountInString(p.Content) > MaxContentLength {
		return p, NewError(ErrInvalidPayload, "content exceeds 2000 characters")
	}
	return p, nil
}

// DMMessage is immutable once sequenced except for Status.
type DMMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Seq            int64          `json:"seq"`
	SenderID       string         `json:"sender_id"`
	RecipientID    string         `json:"recipient_id"`
	Type           MessageType    `json:"type"`
	Content        string         `json:"content"`
	Status         DeliveryStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Preview is a short, notification-safe rendering of the message.
func (m *DMMessage) Preview() string {
	switch m.Type {
	case MessageImage:
		return "Sent a photo"
	case MessageSystem:
		return m.Content
	}
	if utf8.RuneCountInString(m.Content) <= 80 {
		return m.Content
	}
	return string([]rune(m.Content)[:80]) + "…"
}
