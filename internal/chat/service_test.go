package chat

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-realtime/internal/backpressure"
	"github.com/Vasu1712/scenyx-realtime/internal/delivery"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
	"github.com/Vasu1712/scenyx-realtime/internal/presence"
	"github.com/Vasu1712/scenyx-realtime/internal/sequencer"
	"github.com/Vasu1712/scenyx-realtime/internal/session"
	"github.com/Vasu1712/scenyx-realtime/internal/storage/memory"
)

type countingNotifier struct {
	users []string
}

func (n *countingNotifier) NotifyOffline(_ context.Context, userID, _ string) error {
	n.users = append(n.users, userID)
	return nil
}

type stack struct {
	svc      *Service
	registry *session.Registry
	queue    *backpressure.Controller
	notifier *countingNotifier
}

func newStack(t *testing.T, opts ...Option) *stack {
	t.Helper()
	log := zerolog.Nop()
	store := memory.NewDMStore()
	registry := session.NewRegistry(time.Minute, log)
	queue := backpressure.NewController(16, log)
	notifier := &countingNotifier{}
	router := delivery.NewRouter(registry, queue, store, notifier, log)
	broadcaster := presence.NewBroadcaster(registry, queue, presence.NewSubscriberSet(presence.ConversationPeers(store)), store, log)
	registry.AddObserver(queue)
	registry.AddObserver(router)
	registry.SetPresenceSink(broadcaster.Sink())
	queue.OnSlowConsumer(func(id string) { registry.DeregisterWithReason(id, models.CloseSlowConsumer) })

	seq := sequencer.New(store, sequencer.Config{Stripes: 4, MaxRetries: 2, InitialBackoff: time.Millisecond}, log)
	return &stack{
		svc:      NewService(store, seq, router, broadcaster, log, opts...),
		registry: registry,
		queue:    queue,
		notifier: notifier,
	}
}

func (s *stack) connect(t *testing.T, userID, sessionID string) *backpressure.Outbox {
	t.Helper()
	_, err := s.registry.Register(userID, sessionID, "node-a")
	require.NoError(t, err)
	out, ok := s.queue.Outbox(sessionID)
	require.True(t, ok)
	return out
}

func nextFrame(t *testing.T, out *backpressure.Outbox, kind models.FrameKind) models.Frame {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case f := <-out.C():
			if f.Kind == kind {
				return f
			}
		case <-timeout:
			t.Fatalf("no %s frame", kind)
		}
	}
}

func TestStartConversation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	conv, created, err := s.svc.StartConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.svc.StartConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	_, _, err = s.svc.StartConversation(ctx, "alice", "alice")
	assert.ErrorIs(t, err, models.ErrInvalidPayload)
	_, _, err = s.svc.StartConversation(ctx, "alice", " ")
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	convs, err := s.svc.Conversations(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestSendToOfflineThenReconnect(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	conv, _, err := s.svc.StartConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	msg, out, err := s.svc.Send(ctx, "alice", conv.ID, models.Payload{Content: "hi"})
	require.NoError(t, err)
	assert.True(t, out.Offline)
	assert.Equal(t, models.StatusPending, msg.Status)
	assert.Equal(t, []string{"bob"}, s.notifier.users)

	bob := s.connect(t, "bob", "bob-1")
	f := nextFrame(t, bob, models.FrameMessage)
	assert.Equal(t, msg.ID, f.Payload.(*models.DMMessage).ID)

	acked, err := s.svc.Ack(ctx, "bob", conv.ID, msg.Seq)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, acked.Status)

	read, err := s.svc.MarkRead(ctx, "bob", conv.ID, msg.Seq)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, read.Status)
}

func TestSendRejectsStrangers(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	conv, _, _ := s.svc.StartConversation(ctx, "alice", "bob")

	_, _, err := s.svc.Send(ctx, "mallory", conv.ID, models.Payload{Content: "hi"})
	assert.ErrorIs(t, err, models.ErrNotParticipant)

	_, err = s.svc.History(ctx, "mallory", conv.ID, 0, 10)
	assert.ErrorIs(t, err, models.ErrNotParticipant)

	err = s.svc.Typing(ctx, "mallory", conv.ID)
	assert.ErrorIs(t, err, models.ErrNotParticipant)
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	conv, _, _ := s.svc.StartConversation(ctx, "alice", "bob")
	for i := 0; i < 5; i++ {
		_, _, err := s.svc.Send(ctx, "alice", conv.ID, models.Payload{Content: "msg"})
		require.NoError(t, err)
	}

	page, err := s.svc.History(ctx, "bob", conv.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Seq)

	page, err = s.svc.History(ctx, "bob", conv.ID, page[1].Seq, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(3), page[0].Seq)
}

func TestTypingAndOnlinePeers(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	conv, _, _ := s.svc.StartConversation(ctx, "alice", "bob")
	bob := s.connect(t, "bob", "bob-1")

	require.NoError(t, s.svc.Typing(ctx, "alice", conv.ID))
	f := nextFrame(t, bob, models.FrameTyping)
	assert.Equal(t, conv.ID, f.Payload.(models.PresenceEvent).ConversationID)

	peers, err := s.svc.OnlinePeers(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, peers)
}

func TestDevices(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.svc.RegisterDevice(ctx, "bob", "tok-1", "ios")
	require.NoError(t, err)
	_, err = s.svc.RegisterDevice(ctx, "bob", "", "ios")
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	// Another user cannot remove bob's token.
	require.NoError(t, s.svc.UnregisterDevice(ctx, "alice", "tok-1"))
	devices, _ := s.svc.Devices(ctx, "bob")
	assert.Len(t, devices, 1)

	require.NoError(t, s.svc.UnregisterDevice(ctx, "bob", "tok-1"))
	devices, _ = s.svc.Devices(ctx, "bob")
	assert.Empty(t, devices)
}

// matches allows only the listed pairs, in either order.
type matches map[[2]string]bool

func (m matches) CanMessage(_ context.Context, userID, peerID string) (bool, error) {
	return m[[2]string{userID, peerID}] || m[[2]string{peerID, userID}], nil
}

func TestStartConversationRequiresEligibility(t *testing.T) {
	s := newStack(t, WithEligibility(matches{{"alice", "bob"}: true}))
	ctx := context.Background()

	_, created, err := s.svc.StartConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, created)

	_, _, err = s.svc.StartConversation(ctx, "alice", "mallory")
	assert.ErrorIs(t, err, models.ErrChatAccessDenied)
	code, status := models.ErrorCode(err)
	assert.Equal(t, "CH005", code)
	assert.Equal(t, 403, status)

	convs, err := s.svc.Conversations(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}
