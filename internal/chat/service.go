// Package chat is the entry point to the messaging core used by both the
// HTTP API and the websocket transport.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-realtime/internal/delivery"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
	"github.com/Vasu1712/scenyx-realtime/internal/storage"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

type Sequencer interface {
	Send(ctx context.Context, conversationID, senderID string, payload models.Payload) (*models.DMMessage, error)
}

type Router interface {
	Deliver(ctx context.Context, msg *models.DMMessage) (delivery.Outcome, error)
	Ack(ctx context.Context, userID, conversationID string, seq int64) (*models.DMMessage, error)
	MarkRead(ctx context.Context, readerID, conversationID string, seq int64) (*models.DMMessage, error)
}

type Presence interface {
	Broadcast(ctx context.Context, ev models.PresenceEvent)
	Link(ctx context.Context, userA, userB string)
	OnlinePeers(ctx context.Context, userID string) ([]string, error)
}

// Eligibility decides whether two users may open a conversation, e.g. only
// after a confirmed match.
type Eligibility interface {
	CanMessage(ctx context.Context, userID, peerID string) (bool, error)
}

// AllowAll lets any two distinct users talk.
type AllowAll struct{}

func (AllowAll) CanMessage(context.Context, string, string) (bool, error) { return true, nil }

type Service struct {
	store       storage.Store
	sequencer   Sequencer
	router      Router
	presence    Presence
	eligibility Eligibility
	log         zerolog.Logger
}

type Option func(*Service)

// WithEligibility gates new conversations.
func WithEligibility(e Eligibility) Option {
	return func(s *Service) { s.eligibility = e }
}

func NewService(store storage.Store, sequencer Sequencer, router Router, presence Presence, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		sequencer:   sequencer,
		router:      router,
		presence:    presence,
		eligibility: AllowAll{},
		log:         log.With().Str("component", "chat").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartConversation returns the conversation between userID and peerID, creating it if needed.
func (s *Service) StartConversation(ctx context.Context, userID, peerID string) (*models.DMConversation, bool, error) {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return nil, false, models.NewError(models.ErrInvalidPayload, "peer id is required")
	}
	if peerID == userID {
		return nil, false, models.NewError(models.ErrInvalidPayload, "cannot start a conversation with yourself")
	}
	ok, err := s.eligibility.CanMessage(ctx, userID, peerID)
	if err != nil {
		return nil, false, fmt.Errorf("check eligibility: %w", err)
	}
	if !ok {
		return nil, false, models.NewError(models.ErrChatAccessDenied, peerID)
	}
	conv, created, err := s.store.StartOrGetConversation(ctx, userID, peerID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.presence.Link(ctx, userID, peerID)
		s.log.Info().Str("dm_id", conv.ID).Str("user_id", userID).Str("peer_id", peerID).Msg("conversation started")
	}
	return conv, created, nil
}

func (s *Service) Conversations(ctx context.Context, userID string) ([]*models.DMConversation, error) {
	return s.store.GetConversations(ctx, userID)
}

// Conversation loads a conversation the caller takes part in.
func (s *Service) Conversation(ctx context.Context, userID, conversationID string) (*models.DMConversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Has(userID) {
		return nil, models.NewError(models.ErrNotParticipant, userID)
	}
	return conv, nil
}

// History pages backwards through a conversation, newest first.
func (s *Service) History(ctx context.Context, userID, conversationID string, beforeSeq int64, limit int) ([]*models.DMMessage, error) {
	if _, err := s.Conversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.store.History(ctx, conversationID, beforeSeq, limit)
}

// Send sequences and persists the message, then delivers it. Once Send
// returns a message it is durable; delivery problems only affect who sees it now.
func (s *Service) Send(ctx context.Context, userID, conversationID string, payload models.Payload) (*models.DMMessage, delivery.Outcome, error) {
	msg, err := s.sequencer.Send(ctx, conversationID, userID, payload)
	if err != nil {
		return nil, delivery.Outcome{}, err
	}
	out, err := s.router.Deliver(ctx, msg)
	if err != nil {
		s.log.Warn().Err(err).Str("dm_id", conversationID).Int64("seq", msg.Seq).Msg("delivery incomplete")
	}
	return msg, out, nil
}

func (s *Service) Ack(ctx context.Context, userID, conversationID string, seq int64) (*models.DMMessage, error) {
	return s.router.Ack(ctx, userID, conversationID, seq)
}

func (s *Service) MarkRead(ctx context.Context, userID, conversationID string, seq int64) (*models.DMMessage, error) {
	return s.router.MarkRead(ctx, userID, conversationID, seq)
}

// Typing tells the other participant that userID is typing.
func (s *Service) Typing(ctx context.Context, userID, conversationID string) error {
	if _, err := s.Conversation(ctx, userID, conversationID); err != nil {
		return err
	}
	s.presence.Broadcast(ctx, models.PresenceEvent{
		UserID:         userID,
		State:          models.PresenceTyping,
		ConversationID: conversationID,
		At:             time.Now(),
	})
	return nil
}

func (s *Service) OnlinePeers(ctx context.Context, userID string) ([]string, error) {
	return s.presence.OnlinePeers(ctx, userID)
}

// RegisterDevice stores a push token for userID.
func (s *Service) RegisterDevice(ctx context.Context, userID, token, platform string) (models.DeviceToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.DeviceToken{}, models.NewError(models.ErrInvalidPayload, "token is required")
	}
	d := models.DeviceToken{UserID: userID, Token: token, Platform: platform, CreatedAt: time.Now()}
	if err := s.store.SaveDeviceToken(ctx, d); err != nil {
		return models.DeviceToken{}, err
	}
	return d, nil
}

// UnregisterDevice removes a token the caller owns. Unknown tokens are ignored.
func (s *Service) UnregisterDevice(ctx context.Context, userID, token string) error {
	tokens, err := s.store.DeviceTokens(ctx, userID)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if t.Token == token {
			return s.store.DeleteDeviceToken(ctx, token)
		}
	}
	return nil
}

func (s *Service) Devices(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	return s.store.DeviceTokens(ctx, userID)
}
