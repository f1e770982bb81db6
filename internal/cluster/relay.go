package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/valkey-io/valkey-go"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// EnvelopeHandler finishes delivery of a relayed message or receipt.
type EnvelopeHandler interface {
	HandleEnvelope(ctx context.Context, env models.Envelope)
}

// PresenceHandler fans a relayed presence event out to local sessions and
// records conversation links made on other nodes.
type PresenceHandler interface {
	BroadcastLocal(ctx context.Context, ev models.PresenceEvent) int
	LinkLocal(userA, userB string)
}

// dispatchTimeout bounds the handling of one inbound envelope.
const dispatchTimeout = 5 * time.Second

// Relay moves envelopes between nodes over Valkey pub/sub. Every node
// listens on its own channel plus the shared presence channel.
type Relay struct {
	client valkey.Client
	nodeID string
	log    zerolog.Logger
}

func NewRelay(client valkey.Client, nodeID string, log zerolog.Logger) *Relay {
	return &Relay{
		client: client,
		nodeID: nodeID,
		log:    log.With().Str("component", "cluster-relay").Logger(),
	}
}

// Forward publishes env to one node's channel.
func (r *Relay) Forward(ctx context.Context, nodeID string, env models.Envelope) error {
	if env.Origin == "" {
		env.Origin = r.nodeID
	}
	return r.publish(ctx, nodeChannel(nodeID), env)
}

// PublishPresence implements presence.Publisher.
func (r *Relay) PublishPresence(ctx context.Context, ev models.PresenceEvent) error {
	return r.publish(ctx, presenceChannel, models.Envelope{Origin: r.nodeID, Kind: models.EnvelopePresence, Presence: &ev})
}

// PublishLink implements presence.Publisher.
func (r *Relay) PublishLink(ctx context.Context, userA, userB string) error {
	return r.publish(ctx, presenceChannel, models.Envelope{
		Origin: r.nodeID,
		Kind:   models.EnvelopeLink,
		Link:   &models.Link{Users: [2]string{userA, userB}},
	})
}

func (r *Relay) publish(ctx context.Context, channel string, env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	cmd := r.client.B().Publish().Channel(channel).Message(string(data)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Run subscribes and dispatches until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, messages EnvelopeHandler, presence PresenceHandler) error {
	r.log.Info().Str("node_id", r.nodeID).Msg("cluster relay subscribed")
	sub := r.client.B().Subscribe().Channel(nodeChannel(r.nodeID), presenceChannel).Build()
	err := r.client.Receive(ctx, sub, func(msg valkey.PubSubMessage) {
		r.handle(ctx, msg.Message, messages, presence)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// handle gives one envelope its own deadline so a slow handler cannot hold
// the subscription for longer than dispatchTimeout.
func (r *Relay) handle(ctx context.Context, payload string, messages EnvelopeHandler, presence PresenceHandler) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	r.dispatch(ctx, payload, messages, presence)
}

func (r *Relay) dispatch(ctx context.Context, payload string, messages EnvelopeHandler, presence PresenceHandler) {
	var env models.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.Warn().Err(err).Msg("discarding malformed envelope")
		return
	}
	if env.Origin == r.nodeID {
		return
	}
	switch env.Kind {
	case models.EnvelopeMessage, models.EnvelopeReceipt:
		messages.HandleEnvelope(ctx, env)
	case models.EnvelopePresence:
		if env.Presence != nil {
			presence.BroadcastLocal(ctx, *env.Presence)
		}
	case models.EnvelopeLink:
		if env.Link != nil {
			presence.LinkLocal(env.Link.Users[0], env.Link.Users[1])
		}
	default:
		r.log.Warn().Str("kind", string(env.Kind)).Msg("discarding envelope of unknown kind")
	}
}

// Remote joins the directory and relay into what the delivery router needs.
type Remote struct {
	*Directory
	*Relay
}
