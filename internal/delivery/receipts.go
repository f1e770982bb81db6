package delivery

import (
	"context"

	"github.com/Vasu1712/scenyx-realtime/internal/metrics"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// Ack records that the recipient's session received a message: pending -> delivered.
// Acking an already delivered message is a no-op; acking a read message is rejected.
func (r *Router) Ack(ctx context.Context, userID, conversationID string, seq int64) (*models.DMMessage, error) {
	return r.transition(ctx, userID, conversationID, seq, models.StatusDelivered)
}

// MarkRead moves a message to read. It is idempotent and can never be undone.
func (r *Router) MarkRead(ctx context.Context, readerID, conversationID string, seq int64) (*models.DMMessage, error) {
	return r.transition(ctx, readerID, conversationID, seq, models.StatusRead)
}

func (r *Router) transition(ctx context.Context, userID, conversationID string, seq int64, to models.DeliveryStatus) (*models.DMMessage, error) {
	msg, err := r.store.GetMessage(ctx, conversationID, seq)
	if err != nil {
		return nil, err
	}
	if msg.RecipientID != userID {
		return nil, models.NewError(models.ErrNotParticipant, userID)
	}

	updated, changed, err := r.store.UpdateStatus(ctx, conversationID, seq, to)
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	metrics.RecordStatusTransition(string(to))
	r.notifySender(ctx, updated)
	return updated, nil
}

// notifySender sends a best-effort receipt to the sender's sessions everywhere.
func (r *Router) notifySender(ctx context.Context, msg *models.DMMessage) {
	r.ReceiptLocal(msg)
	if r.remote == nil {
		return
	}
	nodes, err := r.remote.Nodes(ctx, msg.SenderID)
	if err != nil {
		r.log.Debug().Err(err).Str("user_id", msg.SenderID).Msg("cluster lookup for receipt failed")
		return
	}
	env := models.Envelope{Origin: r.nodeID, Kind: models.EnvelopeReceipt, Message: msg}
	for _, node := range nodes {
		if node == r.nodeID {
			continue
		}
		if err := r.remote.Forward(ctx, node, env); err != nil {
			r.log.Debug().Err(err).Str("node_id", node).Msg("receipt relay failed")
		}
	}
}

// ReceiptLocal pushes a receipt frame to the sender's sessions on this node.
func (r *Router) ReceiptLocal(msg *models.DMMessage) {
	frame := models.ReceiptFrame(msg)
	for _, sess := range r.registry.Lookup(msg.SenderID) {
		r.queue.Enqueue(sess.ID, frame)
	}
}

// HandleEnvelope finishes delivery of a message or receipt relayed from another node.
func (r *Router) HandleEnvelope(ctx context.Context, env models.Envelope) {
	if env.Message == nil {
		return
	}
	switch env.Kind {
	case models.EnvelopeMessage:
		out := r.DeliverLocal(ctx, env.Message)
		r.log.Debug().
			Str("origin", env.Origin).
			Str("conversation_id", env.Message.ConversationID).
			Int64("seq", env.Message.Seq).
			Int("pushed", out.Pushed).
			Msg("relayed message delivered")
	case models.EnvelopeReceipt:
		r.ReceiptLocal(env.Message)
	}
}
