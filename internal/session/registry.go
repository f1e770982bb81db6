// Package session tracks which users have live connections and on which node.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-realtime/internal/metrics"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// Observer is told about every session entering or leaving the registry.
// Calls happen outside the registry lock, in the order observers were added.
type Observer interface {
	SessionOpened(s models.Session)
	SessionClosed(s models.Session, reason models.CloseReason)
}

// Mirror publishes local sessions to a cluster-wide directory.
type Mirror interface {
	Announce(ctx context.Context, s models.Session) error
	Withdraw(ctx context.Context, s models.Session) error
	Touch(ctx context.Context, s models.Session) error
}

// PresenceSink receives online/offline transitions.
type PresenceSink func(ev models.PresenceEvent)

const mirrorTimeout = 2 * time.Second

// Registry is the node-local source of truth for live sessions.
// Thread-safe: register, deregister and lookup are atomic with respect to each other.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session     // sessionID -> session
	byUser    map[string]map[string]struct{} // userID -> set of sessionIDs
	observers []Observer
	presence  PresenceSink
	mirror    Mirror
	timeout   time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

type Option func(*Registry)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMirror mirrors sessions into a cluster directory.
func WithMirror(m Mirror) Option {
	return func(r *Registry) { r.mirror = m }
}

// NewRegistry creates a registry that reaps sessions idle for longer than timeout.
func NewRegistry(timeout time.Duration, log zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*models.Session),
		byUser:   make(map[string]map[string]struct{}),
		timeout:  timeout,
		now:      time.Now,
		log:      log.With().Str("component", "session-registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddObserver appends an observer. Call before serving traffic.
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// SetPresenceSink sets where online/offline events go.
func (r *Registry) SetPresenceSink(sink PresenceSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence = sink
}

// Register adds a live session. It fails with ErrDuplicateSession if sessionID is already active.
// The user's first session emits an online presence event.
func (r *Registry) Register(userID, sessionID, nodeID string) (models.Session, error) {
	now := r.now()

	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return models.Session{}, models.NewError(models.ErrDuplicateSession, sessionID)
	}
	sess := &models.Session{
		ID:           sessionID,
		UserID:       userID,
		NodeID:       nodeID,
		CreatedAt:    now,
		LastActivity: now,
	}
	r.sessions[sessionID] = sess
	ids, ok := r.byUser[userID]
	if !ok {
		ids = make(map[string]struct{})
		r.byUser[userID] = ids
	}
	first := len(ids) == 0
	ids[sessionID] = struct{}{}
	snapshot := *sess
	observers, presence := r.observers, r.presence
	r.mu.Unlock()

	metrics.RecordSessionOpened()
	r.log.Debug().Str("session_id", sessionID).Str("user_id", userID).Msg("session registered")

	for _, o := range observers {
		o.SessionOpened(snapshot)
	}
	r.mirrorCall(snapshot, "announce", func(ctx context.Context, m Mirror) error { return m.Announce(ctx, snapshot) })
	if first && presence != nil {
		presence(models.PresenceEvent{UserID: userID, State: models.PresenceOnline, At: now})
	}
	return snapshot, nil
}

// Deregister removes a session. It is idempotent: unknown ids are ignored.
func (r *Registry) Deregister(sessionID string) {
	r.DeregisterWithReason(sessionID, models.CloseClient)
}

// DeregisterWithReason removes a session and records why.
// The user's last session leaving emits an offline presence event.
func (r *Registry) DeregisterWithReason(sessionID string, reason models.CloseReason) {
	r.mu.Lock()
	sess, last, ok := r.removeLocked(sessionID)
	observers, presence := r.observers, r.presence
	r.mu.Unlock()
	if !ok {
		return
	}
	r.closed(sess, last, reason, observers, presence)
}

// removeLocked must be called with r.mu held.
func (r *Registry) removeLocked(sessionID string) (models.Session, bool, bool) {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return models.Session{}, false, false
	}
	delete(r.sessions, sessionID)
	last := false
	if ids, ok := r.byUser[sess.UserID]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(r.byUser, sess.UserID)
			last = true
		}
	}
	return *sess, last, true
}

func (r *Registry) closed(sess models.Session, last bool, reason models.CloseReason, observers []Observer, presence PresenceSink) {
	metrics.RecordSessionClosed(string(reason))
	r.log.Debug().
		Str("session_id", sess.ID).
		Str("user_id", sess.UserID).
		Str("reason", string(reason)).
		Msg("session deregistered")

	for _, o := range observers {
		o.SessionClosed(sess, reason)
	}
	r.mirrorCall(sess, "withdraw", func(ctx context.Context, m Mirror) error { return m.Withdraw(ctx, sess) })
	if last && presence != nil {
		presence(models.PresenceEvent{UserID: sess.UserID, State: models.PresenceOffline, At: r.now()})
	}
}

// Lookup returns the live sessions of userID. An empty result means the user is offline here.
func (r *Registry) Lookup(userID string) []models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byUser[userID]
	if len(ids) == 0 {
		return nil
	}
	result := make([]models.Session, 0, len(ids))
	for id := range ids {
		result = append(result, *r.sessions[id])
	}
	return result
}

// Online reports whether userID has at least one live session on this node.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Heartbeat refreshes the session's last activity.
func (r *Registry) Heartbeat(sessionID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return models.NewError(models.ErrSessionNotFound, sessionID)
	}
	sess.LastActivity = r.now()
	snapshot := *sess
	r.mu.Unlock()

	r.mirrorCall(snapshot, "touch", func(ctx context.Context, m Mirror) error { return m.Touch(ctx, snapshot) })
	return nil
}

// Reap removes every session whose last activity is older than the timeout
// and returns them. Each reaped session is treated as a disconnect.
func (r *Registry) Reap(now time.Time) []models.Session {
	type removal struct {
		sess models.Session
		last bool
	}

	r.mu.Lock()
	var removed []removal
	for id, sess := range r.sessions {
		if now.Sub(sess.LastActivity) <= r.timeout {
			continue
		}
		s, last, ok := r.removeLocked(id)
		if ok {
			removed = append(removed, removal{sess: s, last: last})
		}
	}
	observers, presence := r.observers, r.presence
	r.mu.Unlock()

	result := make([]models.Session, 0, len(removed))
	for _, rm := range removed {
		r.log.Info().
			Str("session_id", rm.sess.ID).
			Str("user_id", rm.sess.UserID).
			Dur("idle", now.Sub(rm.sess.LastActivity)).
			Msg("reaping idle session")
		r.closed(rm.sess, rm.last, models.CloseTimeout, observers, presence)
		result = append(result, rm.sess)
	}
	return result
}

// CloseAll deregisters every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.DeregisterWithReason(id, models.CloseShutdown)
	}
}

func (r *Registry) mirrorCall(sess models.Session, op string, fn func(context.Context, Mirror) error) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := fn(ctx, r.mirror); err != nil {
		r.log.Warn().Err(err).Str("op", op).Str("session_id", sess.ID).Msg("cluster mirror failed")
	}
}
