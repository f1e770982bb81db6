// Package delivery pushes sequenced messages to live sessions in order and
// falls back to offline notification when the recipient is unreachable.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-realtime/internal/backpressure"
	"github.com/Vasu1712/scenyx-realtime/internal/metrics"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// Registry is the session lookup the router needs.
type Registry interface {
	Lookup(userID string) []models.Session
	DeregisterWithReason(sessionID string, reason models.CloseReason)
}

// Queue is the backpressure-guarded outbound path.
type Queue interface {
	Enqueue(sessionID string, f models.Frame) backpressure.Verdict
	EnqueueWait(ctx context.Context, sessionID string, f models.Frame) backpressure.Verdict
}

// Store is the durable message state the router reads and advances.
type Store interface {
	GetConversations(ctx context.Context, userID string) ([]*models.DMConversation, error)
	MaxSequence(ctx context.Context, conversationID string) (int64, error)
	GetMessage(ctx context.Context, conversationID string, seq int64) (*models.DMMessage, error)
	GetMessages(ctx context.Context, conversationID string, fromSeq, toSeq int64) ([]*models.DMMessage, error)
	PendingFor(ctx context.Context, conversationID, recipientID string, uptoSeq int64) ([]*models.DMMessage, error)
	UpdateStatus(ctx context.Context, conversationID string, seq int64, to models.DeliveryStatus) (*models.DMMessage, bool, error)
}

// Notifier is the offline push collaborator.
type Notifier interface {
	NotifyOffline(ctx context.Context, userID, preview string) error
}

// Remote reaches sessions that live on other nodes.
type Remote interface {
	Nodes(ctx context.Context, userID string) ([]string, error)
	Forward(ctx context.Context, nodeID string, env models.Envelope) error
}

// Outcome summarizes one Deliver call.
type Outcome struct {
	Pushed        int  // recipient sessions on this node that accepted the frame
	Remote        int  // other nodes the message was relayed to
	SlowConsumers int  // recipient sessions disconnected while pushing
	Offline       bool // offline notification path was taken
}

// sessionState is the per-session ordering cursor.
type sessionState struct {
	userID string
	ready  chan struct{} // closed once the connect flush finished

	mu   sync.Mutex
	next map[string]int64 // conversationID -> next seq this session expects

	// Messages that arrive while the connect flush runs are parked here and
	// replayed by the flush before it finishes.
	lateMu   sync.Mutex
	flushing bool
	late     []*models.DMMessage
}

// park hands msg to a running connect flush. It reports false once the
// flush is done and the caller must push msg itself.
func (st *sessionState) park(msg *models.DMMessage) bool {
	st.lateMu.Lock()
	defer st.lateMu.Unlock()
	if !st.flushing {
		return false
	}
	st.late = append(st.late, msg)
	return true
}

// takeLate returns the parked messages, or ends the flushing phase when none are left.
func (st *sessionState) takeLate() []*models.DMMessage {
	st.lateMu.Lock()
	defer st.lateMu.Unlock()
	late := st.late
	st.late = nil
	if len(late) == 0 {
		st.flushing = false
	}
	return late
}

func (st *sessionState) cursor(conversationID string) int64 {
	if n, ok := st.next[conversationID]; ok {
		return n
	}
	return 1
}

type Router struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	registry     Registry
	queue        Queue
	store        Store
	notifier     Notifier
	remote       Remote
	nodeID       string
	flushTimeout time.Duration
	log          zerolog.Logger
}

type Option func(*Router)

// WithRemote enables relaying to sessions on other nodes.
func WithRemote(nodeID string, remote Remote) Option {
	return func(r *Router) {
		r.nodeID = nodeID
		r.remote = remote
	}
}

// WithFlushTimeout bounds how long the connect flush may wait on a full outbox.
func WithFlushTimeout(d time.Duration) Option {
	return func(r *Router) { r.flushTimeout = d }
}

func NewRouter(registry Registry, queue Queue, store Store, notifier Notifier, log zerolog.Logger, opts ...Option) *Router {
	r := &Router{
		sessions:     make(map[string]*sessionState),
		registry:     registry,
		queue:        queue,
		store:        store,
		notifier:     notifier,
		flushTimeout: 30 * time.Second,
		log:          log.With().Str("component", "delivery-router").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) state(sessionID string) *sessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Deliver pushes msg to the recipient's live sessions here and on other nodes.
// With nobody reachable the message stays pending and the recipient is
// notified offline exactly once.
func (r *Router) Deliver(ctx context.Context, msg *models.DMMessage) (Outcome, error) {
	out := r.DeliverLocal(ctx, msg)

	if r.remote != nil {
		nodes, err := r.remote.Nodes(ctx, msg.RecipientID)
		if err != nil {
			r.log.Warn().Err(err).Str("user_id", msg.RecipientID).Msg("cluster lookup failed, delivering locally only")
		}
		env := models.Envelope{Origin: r.nodeID, Kind: models.EnvelopeMessage, Message: msg}
		for _, node := range nodes {
			if node == r.nodeID {
				continue
			}
			if err := r.remote.Forward(ctx, node, env); err != nil {
				r.log.Warn().Err(err).Str("node_id", node).Int64("seq", msg.Seq).Msg("relay to node failed")
				continue
			}
			out.Remote++
		}
	}

	if out.Pushed > 0 || out.Remote > 0 {
		metrics.RecordDelivery("pushed")
		return out, nil
	}

	out.Offline = true
	metrics.RecordDelivery("offline")
	if r.notifier == nil {
		return out, nil
	}
	if err := r.notifier.NotifyOffline(ctx, msg.RecipientID, msg.Preview()); err != nil {
		metrics.OfflineNotifications.WithLabelValues("failed").Inc()
		r.log.Warn().Err(err).Str("user_id", msg.RecipientID).Msg("offline notification failed")
		return out, nil
	}
	metrics.OfflineNotifications.WithLabelValues("sent").Inc()
	return out, nil
}

// DeliverLocal runs ordered delivery against the sessions on this node only.
// Sessions of both participants advance their cursors; only the recipient's
// sessions receive frames.
func (r *Router) DeliverLocal(ctx context.Context, msg *models.DMMessage) Outcome {
	var out Outcome
	for _, sess := range r.registry.Lookup(msg.RecipientID) {
		switch r.push(ctx, sess.ID, msg) {
		case pushAccepted:
			out.Pushed++
		case pushDisconnected:
			out.SlowConsumers++
		}
	}
	if msg.SenderID != msg.RecipientID {
		for _, sess := range r.registry.Lookup(msg.SenderID) {
			r.push(ctx, sess.ID, msg)
		}
	}
	return out
}

type pushResult int

const (
	pushAccepted pushResult = iota
	pushSkipped
	pushDisconnected
)

// push brings one session's cursor up to msg.Seq, filling any gap from the
// store so the session never sees N+1 before N.
func (r *Router) push(ctx context.Context, sessionID string, msg *models.DMMessage) pushResult {
	st := r.state(sessionID)
	if st == nil {
		// Registered but not yet announced to the router; its connect flush
		// reads the store after msg was persisted.
		return pushAccepted
	}
	if st.park(msg) {
		if msg.RecipientID == st.userID {
			return pushAccepted
		}
		return pushSkipped
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return r.advance(ctx, sessionID, st, msg)
}

// advance does the ordered push with st.mu held.
func (r *Router) advance(ctx context.Context, sessionID string, st *sessionState, msg *models.DMMessage) pushResult {
	next := st.cursor(msg.ConversationID)
	if msg.Seq < next {
		if msg.RecipientID == st.userID {
			return pushAccepted
		}
		return pushSkipped
	}

	if msg.Seq > next {
		gap, err := r.store.GetMessages(ctx, msg.ConversationID, next, msg.Seq-1)
		if err != nil {
			r.log.Error().Err(err).
				Str("session_id", sessionID).
				Str("conversation_id", msg.ConversationID).
				Int64("from", next).
				Int64("to", msg.Seq-1).
				Msg("gap fill failed, disconnecting session")
			r.registry.DeregisterWithReason(sessionID, models.CloseFlushFailed)
			return pushDisconnected
		}
		for _, m := range gap {
			if m.RecipientID != st.userID {
				continue
			}
			if r.queue.Enqueue(sessionID, models.MessageFrame(m)) != backpressure.Accepted {
				return pushDisconnected
			}
		}
	}

	if msg.RecipientID != st.userID {
		st.next[msg.ConversationID] = msg.Seq + 1
		return pushSkipped
	}
	switch r.queue.Enqueue(sessionID, models.MessageFrame(msg)) {
	case backpressure.Accepted:
		st.next[msg.ConversationID] = msg.Seq + 1
		return pushAccepted
	case backpressure.Disconnected:
		return pushDisconnected
	}
	return pushSkipped
}

// SessionOpened starts the pending-message flush for a new session.
func (r *Router) SessionOpened(s models.Session) {
	st := &sessionState{
		userID: s.UserID,
		ready:    make(chan struct{}),
		next:     make(map[string]int64),
		flushing: true,
	}
	r.mu.Lock()
	r.sessions[s.ID] = st
	r.mu.Unlock()

	go r.flush(s, st)
}

// flush pushes every pending message addressed to the user, ascending per
// conversation, and sets the session cursors past them. Messages delivered
// meanwhile are replayed through the normal ordered path afterwards.
func (r *Router) flush(s models.Session, st *sessionState) {
	defer close(st.ready)

	ctx, cancel := context.WithTimeout(context.Background(), r.flushTimeout)
	defer cancel()

	st.mu.Lock()
	err := r.flushLocked(ctx, s, st)
	for {
		late := st.takeLate()
		if len(late) == 0 {
			break
		}
		if err != nil {
			continue
		}
		for _, m := range late {
			r.advance(ctx, s.ID, st, m)
		}
	}
	st.mu.Unlock()

	if err != nil {
		r.log.Error().Err(err).Str("session_id", s.ID).Str("user_id", s.UserID).Msg("pending flush failed, disconnecting session")
		r.registry.DeregisterWithReason(s.ID, models.CloseFlushFailed)
	}
}

func (r *Router) flushLocked(ctx context.Context, s models.Session, st *sessionState) error {
	convs, err := r.store.GetConversations(ctx, s.UserID)
	if err != nil {
		return err
	}
	flushed := 0
	for _, conv := range convs {
		last, err := r.store.MaxSequence(ctx, conv.ID)
		if err != nil {
			return err
		}
		pending, err := r.store.PendingFor(ctx, conv.ID, s.UserID, last)
		if err != nil {
			return err
		}
		for _, m := range pending {
			switch r.queue.EnqueueWait(ctx, s.ID, models.MessageFrame(m)) {
			case backpressure.Accepted:
				flushed++
			default:
				// Session is gone; nothing left to flush into.
				return nil
			}
		}
		st.next[conv.ID] = last + 1
	}
	if flushed > 0 {
		r.log.Debug().Str("session_id", s.ID).Int("messages", flushed).Msg("flushed pending messages")
	}
	return nil
}

// SessionClosed drops the session's cursors.
func (r *Router) SessionClosed(s models.Session, _ models.CloseReason) {
	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()
}
