package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
	"github.com/Vasu1712/scenyx-realtime/internal/storage"
	"github.com/google/uuid"
)

var _ storage.Store = (*DMStore)(nil)

type DMStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.DMConversation // dmID -> conversation
	messages      map[string][]*models.DMMessage    // dmID -> messages, index seq-1
	userIndex     map[string][]string               // userID -> []dmID
	devices       map[string]models.DeviceToken     // token -> device
	now           func() time.Time
}

func NewDMStore() *DMStore {
	return &DMStore{
		conversations: make(map[string]*models.DMConversation),
		messages:      make(map[string][]*models.DMMessage),
		userIndex:     make(map[string][]string),
		devices:       make(map[string]models.DeviceToken),
		now:           time.Now,
	}
}

func (s *DMStore) StartOrGetConversation(_ context.Context, user1, user2 string) (*models.DMConversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Check if conversation exists
	for _, dmID := range s.userIndex[user1] {
		conv := s.conversations[dmID]
		if (conv.Participants[0] == user1 && conv.Participants[1] == user2) ||
			(conv.Participants[0] == user2 && conv.Participants[1] == user1) {
			c := *conv
			return &c, false, nil
		}
	}
	// Create new conversation
	now := s.now()
	dmID := uuid.NewString()
	conv := &models.DMConversation{
		ID:           dmID,
		Participants: [2]string{user1, user2},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[dmID] = conv
	s.userIndex[user1] = append(s.userIndex[user1], dmID)
	s.userIndex[user2] = append(s.userIndex[user2], dmID)
	c := *conv
	return &c, true, nil
}

func (s *DMStore) GetConversation(_ context.Context, dmID string) (*models.DMConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[dmID]
	if !ok {
		return nil, models.NewError(models.ErrConversationNotFound, dmID)
	}
	c := *conv
	return &c, nil
}

func (s *DMStore) GetConversations(_ context.Context, userID string) ([]*models.DMConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.DMConversation
	for _, dmID := range s.userIndex[userID] {
		c := *s.conversations[dmID]
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return result, nil
}

func (s *DMStore) Participants(_ context.Context, dmID string) ([2]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[dmID]
	if !ok {
		return [2]string{}, models.NewError(models.ErrConversationNotFound, dmID)
	}
	return conv.Participants, nil
}

func (s *DMStore) MaxSequence(_ context.Context, dmID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[dmID]
	if !ok {
		return 0, models.NewError(models.ErrConversationNotFound, dmID)
	}
	return conv.LastSeq, nil
}

func (s *DMStore) SaveMessage(_ context.Context, msg *models.DMMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return models.NewError(models.ErrConversationNotFound, msg.ConversationID)
	}
	if msg.Seq < 1 {
		return models.NewError(models.ErrInvalidPayload, "sequence must be positive")
	}
	msgs := s.messages[msg.ConversationID]
	if msg.Seq <= int64(len(msgs)) {
		if existing := msgs[msg.Seq-1]; existing.ID == msg.ID {
			return nil
		}
		return models.ErrSequenceConflict
	}
	if msg.Seq != int64(len(msgs))+1 {
		return models.ErrSequenceConflict
	}
	m := *msg
	s.messages[msg.ConversationID] = append(msgs, &m)
	conv.LastSeq = msg.Seq
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

func (s *DMStore) GetMessage(_ context.Context, dmID string, seq int64) (*models.DMMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[dmID]
	if seq < 1 || seq > int64(len(msgs)) {
		return nil, models.NewError(models.ErrMessageNotFound, dmID)
	}
	m := *msgs[seq-1]
	return &m, nil
}

func (s *DMStore) GetMessages(_ context.Context, dmID string, fromSeq, toSeq int64) ([]*models.DMMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[dmID]
	if fromSeq < 1 {
		fromSeq = 1
	}
	if toSeq > int64(len(msgs)) {
		toSeq = int64(len(msgs))
	}
	var result []*models.DMMessage
	for seq := fromSeq; seq <= toSeq; seq++ {
		m := *msgs[seq-1]
		result = append(result, &m)
	}
	return result, nil
}

func (s *DMStore) History(_ context.Context, dmID string, beforeSeq int64, limit int) ([]*models.DMMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[dmID]
	start := int64(len(msgs))
	if beforeSeq > 0 && beforeSeq-1 < start {
		start = beforeSeq - 1
	}
	var result []*models.DMMessage
	for seq := start; seq >= 1 && len(result) < limit; seq-- {
		m := *msgs[seq-1]
		result = append(result, &m)
	}
	return result, nil
}

func (s *DMStore) PendingFor(_ context.Context, dmID, recipientID string, uptoSeq int64) ([]*models.DMMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.DMMessage
	for _, msg := range s.messages[dmID] {
		if msg.Seq > uptoSeq {
			break
		}
		if msg.RecipientID == recipientID && msg.Status == models.StatusPending {
			m := *msg
			result = append(result, &m)
		}
	}
	return result, nil
}

func (s *DMStore) UpdateStatus(_ context.Context, dmID string, seq int64, to models.DeliveryStatus) (*models.DMMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[dmID]
	if seq < 1 || seq > int64(len(msgs)) {
		return nil, false, models.NewError(models.ErrMessageNotFound, dmID)
	}
	msg := msgs[seq-1]
	if !msg.Status.CanTransition(to) {
		return nil, false, models.NewError(models.ErrStatusRegression, string(msg.Status)+" -> "+string(to))
	}
	changed := msg.Status != to
	msg.Status = to
	m := *msg
	return &m, changed, nil
}

func (s *DMStore) Close() error {
	return nil
}
