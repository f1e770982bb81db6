// Package storage defines the durable store consumed by the messaging core.
package storage

import (
	"context"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// ConversationStore persists two-party conversations.
type ConversationStore interface {
	// StartOrGetConversation returns the conversation between a and b, creating
	// it when missing. created reports whether a new conversation was made.
	StartOrGetConversation(ctx context.Context, a, b string) (conv *models.DMConversation, created bool, err error)
	GetConversation(ctx context.Context, conversationID string) (*models.DMConversation, error)
	GetConversations(ctx context.Context, userID string) ([]*models.DMConversation, error)
	Participants(ctx context.Context, conversationID string) ([2]string, error)
}

// MessageStore persists sequenced messages.
type MessageStore interface {
	MaxSequence(ctx context.Context, conversationID string) (int64, error)
	// SaveMessage stores m at (m.ConversationID, m.Seq). Saving the same message
	// id at the same slot again succeeds; a different id there returns
	// models.ErrSequenceConflict.
	SaveMessage(ctx context.Context, m *models.DMMessage) error
	GetMessage(ctx context.Context, conversationID string, seq int64) (*models.DMMessage, error)
	// GetMessages returns messages with fromSeq <= seq <= toSeq in ascending order.
	GetMessages(ctx context.Context, conversationID string, fromSeq, toSeq int64) ([]*models.DMMessage, error)
	// History returns up to limit messages with seq < beforeSeq, newest first.
	// beforeSeq <= 0 means from the latest message.
	History(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]*models.DMMessage, error)
	// PendingFor returns pending messages addressed to recipientID with
	// seq <= uptoSeq, in ascending order.
	PendingFor(ctx context.Context, conversationID, recipientID string, uptoSeq int64) ([]*models.DMMessage, error)
	// UpdateStatus moves a message forward. changed is false when the message
	// was already in status to; a backwards move returns models.ErrStatusRegression.
	UpdateStatus(ctx context.Context, conversationID string, seq int64, to models.DeliveryStatus) (m *models.DMMessage, changed bool, err error)
}

// DeviceStore persists push-notification tokens.
type DeviceStore interface {
	SaveDeviceToken(ctx context.Context, t models.DeviceToken) error
	DeleteDeviceToken(ctx context.Context, token string) error
	DeviceTokens(ctx context.Context, userID string) ([]models.DeviceToken, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	ConversationStore
	MessageStore
	DeviceStore
	Close() error
}
