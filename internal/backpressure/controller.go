// Package backpressure bounds the unconsumed outbound work of every session.
//
// Presence, typing and receipt frames are best-effort and are dropped when a
// session's queue is full. Message frames are never dropped: a full queue on a
// message frame closes the outbox and hands the session to the slow-consumer
// hook, which deregisters it so the message follows the offline path.
package backpressure

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-realtime/internal/metrics"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// Verdict is the result of offering a frame to a session.
type Verdict int

const (
	Accepted Verdict = iota
	Dropped
	Disconnected
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Dropped:
		return "dropped"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// SlowConsumerHook is called once, outside any controller lock, for each
// session disconnected for not draining its outbox.
type SlowConsumerHook func(sessionID string)

// Controller owns one Outbox per live session.
type Controller struct {
	capacity int
	mu       sync.RWMutex
	outboxes map[string]*Outbox
	onSlow   SlowConsumerHook
	log      zerolog.Logger
}

// NewController creates a controller whose outboxes hold capacity frames.
func NewController(capacity int, log zerolog.Logger) *Controller {
	if capacity <= 0 {
		capacity = 1
	}
	return &Controller{
		capacity: capacity,
		outboxes: make(map[string]*Outbox),
		log:      log.With().Str("component", "backpressure").Logger(),
	}
}

// OnSlowConsumer sets the hook that tears the session down. Call before serving traffic.
func (c *Controller) OnSlowConsumer(hook SlowConsumerHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSlow = hook
}

// Attach creates the outbox for sessionID, or returns the existing one.
func (c *Controller) Attach(sessionID string) *Outbox {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o, ok := c.outboxes[sessionID]; ok {
		return o
	}
	o := newOutbox(sessionID, c.capacity)
	c.outboxes[sessionID] = o
	return o
}

// Detach closes and forgets the outbox. Unknown ids are ignored.
func (c *Controller) Detach(sessionID string, reason models.CloseReason) {
	c.mu.Lock()
	o, ok := c.outboxes[sessionID]
	delete(c.outboxes, sessionID)
	c.mu.Unlock()

	if ok {
		o.close(reason)
	}
}

// Outbox returns the outbox of a live session.
func (c *Controller) Outbox(sessionID string) (*Outbox, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.outboxes[sessionID]
	return o, ok
}

// Enqueue offers a frame to the session's outbox without blocking.
func (c *Controller) Enqueue(sessionID string, f models.Frame) Verdict {
	o, hook, ok := c.lookup(sessionID)
	if !ok {
		return Dropped
	}
	return c.settle(o, f, o.offer(f), hook)
}

// EnqueueWait is Enqueue for backlog replay: it waits for queue space until
// ctx ends instead of disconnecting on a full queue straight away.
func (c *Controller) EnqueueWait(ctx context.Context, sessionID string, f models.Frame) Verdict {
	o, hook, ok := c.lookup(sessionID)
	if !ok {
		return Dropped
	}
	return c.settle(o, f, o.offerWait(ctx, f), hook)
}

func (c *Controller) lookup(sessionID string) (*Outbox, SlowConsumerHook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.outboxes[sessionID]
	return o, c.onSlow, ok
}

// settle records the verdict; a disconnect runs the slow-consumer hook with no lock held.
func (c *Controller) settle(o *Outbox, f models.Frame, v Verdict, hook SlowConsumerHook) Verdict {
	switch v {
	case Dropped:
		metrics.FramesDropped.WithLabelValues(string(f.Kind)).Inc()
	case Disconnected:
		metrics.SlowConsumers.Inc()
		c.log.Warn().
			Str("session_id", o.SessionID()).
			Int("capacity", o.Cap()).
			Str("kind", string(f.Kind)).
			Msg("outbox full on undroppable frame, disconnecting slow consumer")
		c.Detach(o.SessionID(), models.CloseSlowConsumer)
		if hook != nil {
			hook(o.SessionID())
		}
	}
	return v
}

// SessionOpened implements session.Observer.
func (c *Controller) SessionOpened(s models.Session) {
	c.Attach(s.ID)
}

// SessionClosed implements session.Observer.
func (c *Controller) SessionClosed(s models.Session, reason models.CloseReason) {
	c.Detach(s.ID, reason)
}
