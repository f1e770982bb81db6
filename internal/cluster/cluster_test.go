package cluster

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-realtime/internal/config"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

func TestEntryRoundTrip(t *testing.T) {
	at := time.Unix(1700000000, 0)
	node, seen, ok := decodeEntry(encodeEntry("node-a", at))
	require.True(t, ok)
	assert.Equal(t, "node-a", node)
	assert.True(t, seen.Equal(at))

	for _, raw := range []string{"", "node-a", "|123", "node-a|soon"} {
		_, _, ok := decodeEntry(raw)
		assert.False(t, ok, raw)
	}
}

func TestLiveNodesSkipsStaleEntries(t *testing.T) {
	now := time.Unix(1700000000, 0)
	entries := map[string]string{
		"s1": encodeEntry("node-b", now),
		"s2": encodeEntry("node-a", now.Add(-time.Second)),
		"s3": encodeEntry("node-b", now),
		"s4": encodeEntry("node-c", now.Add(-time.Hour)),
		"s5": "garbage",
	}
	assert.Equal(t, []string{"node-a", "node-b"}, liveNodes(entries, now.Add(-time.Minute)))
}

type recordingHandler struct {
	envelopes []models.Envelope
	presence  []models.PresenceEvent
	links     [][2]string
	deadlines []time.Time
}

func (h *recordingHandler) HandleEnvelope(ctx context.Context, env models.Envelope) {
	h.envelopes = append(h.envelopes, env)
	if d, ok := ctx.Deadline(); ok {
		h.deadlines = append(h.deadlines, d)
	}
}

func (h *recordingHandler) LinkLocal(userA, userB string) {
	h.links = append(h.links, [2]string{userA, userB})
}

func (h *recordingHandler) BroadcastLocal(_ context.Context, ev models.PresenceEvent) int {
	h.presence = append(h.presence, ev)
	return 1
}

func encode(t *testing.T, env models.Envelope) string {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return string(data)
}

func TestDispatchRoutesByKind(t *testing.T) {
	r := NewRelay(nil, "node-a", zerolog.Nop())
	h := &recordingHandler{}
	ctx := context.Background()
	msg := &models.DMMessage{ID: "m1", ConversationID: "c1", Seq: 3}

	r.dispatch(ctx, encode(t, models.Envelope{Origin: "node-b", Kind: models.EnvelopeMessage, Message: msg}), h, h)
	r.dispatch(ctx, encode(t, models.Envelope{Origin: "node-b", Kind: models.EnvelopeReceipt, Message: msg}), h, h)
	r.dispatch(ctx, encode(t, models.Envelope{Origin: "node-b", Kind: models.EnvelopePresence,
		Presence: &models.PresenceEvent{UserID: "bob", State: models.PresenceOnline}}), h, h)

	// Own presence echoes and junk are ignored.
	r.dispatch(ctx, encode(t, models.Envelope{Origin: "node-a", Kind: models.EnvelopePresence,
		Presence: &models.PresenceEvent{UserID: "alice", State: models.PresenceOnline}}), h, h)
	r.dispatch(ctx, encode(t, models.Envelope{Origin: "node-b", Kind: models.EnvelopeLink,
		Link: &models.Link{Users: [2]string{"alice", "dave"}}}), h, h)
	r.dispatch(ctx, encode(t, models.Envelope{Origin: "node-b", Kind: models.EnvelopeLink}), h, h)
	r.dispatch(ctx, "{not json", h, h)
	r.dispatch(ctx, encode(t, models.Envelope{Origin: "node-b", Kind: "bogus"}), h, h)

	require.Len(t, h.envelopes, 2)
	assert.Equal(t, int64(3), h.envelopes[0].Message.Seq)
	assert.Equal(t, models.EnvelopeReceipt, h.envelopes[1].Kind)
	require.Len(t, h.presence, 1)
	assert.Equal(t, "bob", h.presence[0].UserID)
	assert.Equal(t, [][2]string{{"alice", "dave"}}, h.links)
}

func TestHandleBoundsEachEnvelope(t *testing.T) {
	r := NewRelay(nil, "node-a", zerolog.Nop())
	h := &recordingHandler{}
	msg := &models.DMMessage{ID: "m1", ConversationID: "c1", Seq: 1}

	start := time.Now()
	r.handle(context.Background(), encode(t, models.Envelope{Origin: "node-b", Kind: models.EnvelopeMessage, Message: msg}), h, h)

	require.Len(t, h.deadlines, 1)
	assert.WithinDuration(t, start.Add(dispatchTimeout), h.deadlines[0], time.Second)
}

// TestDirectoryAgainstValkey needs a live server; set VALKEY_ADDR to run it.
func TestDirectoryAgainstValkey(t *testing.T) {
	addr := os.Getenv("VALKEY_ADDR")
	if addr == "" {
		t.Skip("VALKEY_ADDR not set")
	}
	client, err := NewClient(&config.Config{ValkeyAddr: addr})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	dir := NewDirectory(client, time.Minute)
	user := "directory-test-" + time.Now().Format("150405.000000")
	s1 := models.Session{ID: "s1", UserID: user, NodeID: "node-a"}
	s2 := models.Session{ID: "s2", UserID: user, NodeID: "node-b"}

	require.NoError(t, dir.Announce(ctx, s1))
	require.NoError(t, dir.Announce(ctx, s2))
	nodes, err := dir.Nodes(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a", "node-b"}, nodes)

	require.NoError(t, dir.Withdraw(ctx, s1))
	require.NoError(t, dir.Touch(ctx, s2))
	nodes, err = dir.Nodes(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-b"}, nodes)

	require.NoError(t, dir.Withdraw(ctx, s2))
	nodes, err = dir.Nodes(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}
