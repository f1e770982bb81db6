package backpressure

import (
	"context"
	"sync"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// Outbox is the bounded outbound queue of one session.
// The writer drains C() until Done() is closed.
type Outbox struct {
	sessionID string
	ch        chan models.Frame
	done      chan struct{}
	mu        sync.Mutex
	closed    bool
	reason    models.CloseReason
}

func newOutbox(sessionID string, capacity int) *Outbox {
	return &Outbox{
		sessionID: sessionID,
		ch:        make(chan models.Frame, capacity),
		done:      make(chan struct{}),
	}
}

func (o *Outbox) SessionID() string { return o.sessionID }

// C returns the frames waiting to be written.
func (o *Outbox) C() <-chan models.Frame { return o.ch }

// Done is closed when the session is torn down; in-flight pushes stop there.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Len is the number of queued frames.
func (o *Outbox) Len() int { return len(o.ch) }

// Cap is the queue capacity.
func (o *Outbox) Cap() int { return cap(o.ch) }

// Reason reports why the outbox was closed, empty while open.
func (o *Outbox) Reason() models.CloseReason {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

func (o *Outbox) offer(f models.Frame) Verdict {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return Dropped
	}
	select {
	case o.ch <- f:
		return Accepted
	default:
	}
	if f.Droppable() {
		return Dropped
	}
	o.closeLocked(models.CloseSlowConsumer)
	return Disconnected
}

// offerWait blocks until the frame fits, the outbox closes or ctx ends.
// A context that ends first is treated like a full queue on an undroppable frame.
func (o *Outbox) offerWait(ctx context.Context, f models.Frame) Verdict {
	select {
	case <-o.done:
		return Dropped
	default:
	}
	select {
	case o.ch <- f:
		return Accepted
	case <-o.done:
		return Dropped
	case <-ctx.Done():
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return Dropped
	}
	o.closeLocked(models.CloseSlowConsumer)
	return Disconnected
}

func (o *Outbox) close(reason models.CloseReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked(reason)
}

func (o *Outbox) closeLocked(reason models.CloseReason) {
	if o.closed {
		return
	}
	o.closed = true
	o.reason = reason
	close(o.done)
}
