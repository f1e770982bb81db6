// Package sequencer assigns gapless per-conversation sequence numbers and
// persists each message before it is handed to delivery.
package sequencer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Vasu1712/scenyx-realtime/internal/metrics"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// Store is the slice of storage the sequencer depends on.
type Store interface {
	GetConversation(ctx context.Context, conversationID string) (*models.DMConversation, error)
	MaxSequence(ctx context.Context, conversationID string) (int64, error)
	SaveMessage(ctx context.Context, m *models.DMMessage) error
}

// Config controls striping and the persistence retry policy.
type Config struct {
	Stripes        int
	CacheSize      int // last-seq entries kept per stripe
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// stripe serializes every conversation that hashes onto it. last caches the
// last persisted seq of recently active conversations; an evicted entry is
// reloaded from the store.
type stripe struct {
	mu   sync.Mutex
	last *lru.Cache // conversationID -> int64
}

type Sequencer struct {
	store   Store
	stripes []*stripe
	cfg     Config
	now     func() time.Time
	newID   func() string
	log     zerolog.Logger
}

type Option func(*Sequencer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Sequencer) { s.newID = gen }
}

func New(store Store, cfg Config, log zerolog.Logger, opts ...Option) *Sequencer {
	if cfg.Stripes <= 0 {
		cfg.Stripes = 256
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 50 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	s := &Sequencer{
		store:   store,
		stripes: make([]*stripe, cfg.Stripes),
		cfg:     cfg,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     log.With().Str("component", "sequencer").Logger(),
	}
	for i := range s.stripes {
		// lru.New only fails for a non-positive size.
		cache, _ := lru.New(cfg.CacheSize)
		s.stripes[i] = &stripe{last: cache}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sequencer) stripeFor(conversationID string) *stripe {
	return s.stripes[xxhash.Sum64String(conversationID)%uint64(len(s.stripes))]
}

func (s *Sequencer) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.MaxRetries), ctx)
}

// Send validates the sender, stamps the next sequence number and persists the
// message with status pending. Only persistence is retried.
func (s *Sequencer) Send(ctx context.Context, conversationID, senderID string, payload models.Payload) (*models.DMMessage, error) {
	start := time.Now()
	defer func() { metrics.SendDuration.Observe(time.Since(start).Seconds()) }()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, models.ErrConversationNotFound) {
			return nil, err
		}
		return nil, models.WrapError(models.ErrPersistenceFailure, "load conversation", err)
	}
	if !conv.Has(senderID) {
		return nil, models.NewError(models.ErrNotParticipant, senderID)
	}
	payload, err = payload.Normalize()
	if err != nil {
		return nil, err
	}

	st := s.stripeFor(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	var last int64
	if v, ok := st.last.Get(conversationID); ok {
		last = v.(int64)
	} else {
		if last, err = s.store.MaxSequence(ctx, conversationID); err != nil {
			return nil, models.WrapError(models.ErrPersistenceFailure, "load last sequence", err)
		}
	}

	msg := &models.DMMessage{
		ID:             s.newID(),
		ConversationID: conversationID,
		Seq:            last + 1,
		SenderID:       senderID,
		RecipientID:    conv.Other(senderID),
		Type:           payload.Type,
		Content:        payload.Content,
		Status:         models.StatusPending,
		CreatedAt:      s.now(),
	}

	save := func() error {
		err := s.store.SaveMessage(ctx, msg)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, models.ErrConversationNotFound):
			return backoff.Permanent(err)
		case errors.Is(err, models.ErrSequenceConflict):
			// Another node wrote this slot; move past whatever it holds.
			taken, merr := s.store.MaxSequence(ctx, conversationID)
			if merr == nil && taken >= msg.Seq {
				msg.Seq = taken + 1
			}
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.PersistRetries.Inc()
		s.log.Warn().Err(err).
			Str("conversation_id", conversationID).
			Int64("seq", msg.Seq).
			Dur("backoff", wait).
			Msg("retrying message persistence")
	}

	if err := backoff.RetryNotify(save, s.backOff(ctx), notify); err != nil {
		st.last.Remove(conversationID)
		if errors.Is(err, models.ErrConversationNotFound) {
			return nil, err
		}
		metrics.PersistFailures.Inc()
		s.log.Error().Err(err).
			Str("conversation_id", conversationID).
			Str("message_id", msg.ID).
			Msg("message persistence failed")
		return nil, models.WrapError(models.ErrPersistenceFailure, "save message", err)
	}

	st.last.Add(conversationID, msg.Seq)
	metrics.MessagesSequenced.Inc()
	return msg, nil
}
