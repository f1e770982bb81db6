package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// ConversationSource lists the users that share a conversation with userID.
type ConversationSource interface {
	Peers(ctx context.Context, userID string) ([]string, error)
}

// PeersFunc adapts a function to ConversationSource.
type PeersFunc func(ctx context.Context, userID string) ([]string, error)

func (f PeersFunc) Peers(ctx context.Context, userID string) ([]string, error) {
	return f(ctx, userID)
}

type conversationLister interface {
	GetConversations(ctx context.Context, userID string) ([]*models.DMConversation, error)
}

// ConversationPeers derives interest from the conversations in a store.
func ConversationPeers(store conversationLister) PeersFunc {
	return func(ctx context.Context, userID string) ([]string, error) {
		convs, err := store.GetConversations(ctx, userID)
		if err != nil {
			return nil, err
		}
		peers := make([]string, 0, len(convs))
		for _, c := range convs {
			peers = append(peers, c.Other(userID))
		}
		return peers, nil
	}
}

// SubscriberSet records which users are interested in whose presence:
// two users are interested in each other when they share a conversation.
// A user's set is loaded from the source on first use and kept current by Link.
type SubscriberSet struct {
	source ConversationSource

	mu    sync.RWMutex
	peers map[string]map[string]struct{} // userID -> peers, present once loaded
}

func NewSubscriberSet(source ConversationSource) *SubscriberSet {
	return &SubscriberSet{
		source: source,
		peers:  make(map[string]map[string]struct{}),
	}
}

// Peers returns the users interested in userID's presence, sorted.
func (s *SubscriberSet) Peers(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	set, ok := s.peers[userID]
	if ok {
		result := keys(set)
		s.mu.RUnlock()
		return result, nil
	}
	s.mu.RUnlock()

	loaded, err := s.source.Peers(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok = s.peers[userID]
	if !ok {
		set = make(map[string]struct{}, len(loaded))
		s.peers[userID] = set
	}
	for _, p := range loaded {
		set[p] = struct{}{}
	}
	return keys(set), nil
}

// Link records that a and b now share a conversation.
func (s *SubscriberSet) Link(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.peers[a]; ok {
		set[b] = struct{}{}
	}
	if set, ok := s.peers[b]; ok {
		set[a] = struct{}{}
	}
}

// Forget drops userID's cached set; the next Peers call reloads it.
func (s *SubscriberSet) Forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, userID)
}

func keys(set map[string]struct{}) []string {
	result := make([]string, 0, len(set))
	for k := range set {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}
