// Package presence fans online, offline and typing events out to the live
// sessions of interested peers. Delivery is best-effort: a peer that is
// offline when the event happens never sees it.
package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-realtime/internal/backpressure"
	"github.com/Vasu1712/scenyx-realtime/internal/metrics"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

type Registry interface {
	Lookup(userID string) []models.Session
	Online(userID string) bool
}

type Queue interface {
	Enqueue(sessionID string, f models.Frame) backpressure.Verdict
}

// Participants resolves the two members of a conversation.
type Participants interface {
	Participants(ctx context.Context, conversationID string) ([2]string, error)
}

// Publisher relays events and new conversation links to the other nodes of the cluster.
type Publisher interface {
	PublishPresence(ctx context.Context, ev models.PresenceEvent) error
	PublishLink(ctx context.Context, userA, userB string) error
}

// Locator reports the nodes a user has sessions on.
type Locator interface {
	Nodes(ctx context.Context, userID string) ([]string, error)
}

const sinkTimeout = 5 * time.Second

type Broadcaster struct {
	registry     Registry
	queue        Queue
	subscribers  *SubscriberSet
	participants Participants
	publisher    Publisher
	locator      Locator
	log          zerolog.Logger
}

type Option func(*Broadcaster)

// WithPublisher mirrors every event to other nodes.
func WithPublisher(p Publisher) Option {
	return func(b *Broadcaster) { b.publisher = p }
}

// WithLocator lets OnlinePeers see sessions on other nodes.
func WithLocator(l Locator) Option {
	return func(b *Broadcaster) { b.locator = l }
}

func NewBroadcaster(registry Registry, queue Queue, subscribers *SubscriberSet, participants Participants, log zerolog.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		registry:     registry,
		queue:        queue,
		subscribers:  subscribers,
		participants: participants,
		log:          log.With().Str("component", "presence").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast fans ev out on this node and publishes it to the cluster.
func (b *Broadcaster) Broadcast(ctx context.Context, ev models.PresenceEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.BroadcastLocal(ctx, ev)
	if b.publisher != nil {
		if err := b.publisher.PublishPresence(ctx, ev); err != nil {
			b.log.Debug().Err(err).Str("user_id", ev.UserID).Msg("presence publish failed")
		}
	}
}

// BroadcastLocal pushes ev to interested sessions on this node and returns
// how many accepted it. An offline event drops the user's cached interest set
// so the next load sees conversations created on any node.
func (b *Broadcaster) BroadcastLocal(ctx context.Context, ev models.PresenceEvent) int {
	if ev.State == models.PresenceOffline {
		defer b.subscribers.Forget(ev.UserID)
	}

	targets, err := b.targets(ctx, ev)
	if err != nil {
		b.log.Warn().Err(err).Str("user_id", ev.UserID).Str("state", string(ev.State)).Msg("presence targets unavailable")
		return 0
	}

	frame := models.PresenceFrame(ev)
	accepted := 0
	for _, peer := range targets {
		for _, sess := range b.registry.Lookup(peer) {
			if b.queue.Enqueue(sess.ID, frame) == backpressure.Accepted {
				accepted++
			}
		}
	}
	if accepted > 0 {
		metrics.PresenceFanout.WithLabelValues(string(ev.State)).Add(float64(accepted))
	}
	return accepted
}

// targets resolves who should see ev. Typing goes to the other participant only.
func (b *Broadcaster) targets(ctx context.Context, ev models.PresenceEvent) ([]string, error) {
	if ev.State != models.PresenceTyping {
		return b.subscribers.Peers(ctx, ev.UserID)
	}
	p, err := b.participants.Participants(ctx, ev.ConversationID)
	if err != nil {
		return nil, err
	}
	switch ev.UserID {
	case p[0]:
		return []string{p[1]}, nil
	case p[1]:
		return []string{p[0]}, nil
	}
	return nil, models.NewError(models.ErrNotParticipant, ev.UserID)
}

// Sink adapts Broadcast to the session registry's presence hook.
func (b *Broadcaster) Sink() func(models.PresenceEvent) {
	return func(ev models.PresenceEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		b.Broadcast(ctx, ev)
	}
}

// Link records a new conversation between userA and userB here and on the
// other nodes.
func (b *Broadcaster) Link(ctx context.Context, userA, userB string) {
	b.subscribers.Link(userA, userB)
	if b.publisher == nil {
		return
	}
	if err := b.publisher.PublishLink(ctx, userA, userB); err != nil {
		b.log.Warn().Err(err).Str("user_a", userA).Str("user_b", userB).Msg("link publish failed")
	}
}

// LinkLocal records a conversation link relayed from another node.
func (b *Broadcaster) LinkLocal(userA, userB string) {
	b.subscribers.Link(userA, userB)
}

// OnlinePeers returns the peers of userID that have a live session anywhere.
func (b *Broadcaster) OnlinePeers(ctx context.Context, userID string) ([]string, error) {
	peers, err := b.subscribers.Peers(ctx, userID)
	if err != nil {
		return nil, err
	}
	online := make([]string, 0, len(peers))
	for _, p := range peers {
		if b.registry.Online(p) {
			online = append(online, p)
			continue
		}
		if b.locator == nil {
			continue
		}
		nodes, err := b.locator.Nodes(ctx, p)
		if err != nil {
			b.log.Debug().Err(err).Str("user_id", p).Msg("cluster presence lookup failed")
			continue
		}
		if len(nodes) > 0 {
			online = append(online, p)
		}
	}
	return online, nil
}
