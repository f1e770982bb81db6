package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessage(conv *models.DMConversation, seq int64, id string) *models.DMMessage {
	return &models.DMMessage{
		ID:             id,
		ConversationID: conv.ID,
		Seq:            seq,
		SenderID:       conv.Participants[0],
		RecipientID:    conv.Participants[1],
		Type:           models.MessageText,
		Content:        "hi",
		Status:         models.StatusPending,
		CreatedAt:      time.Now(),
	}
}

func TestStartOrGetConversation(t *testing.T) {
	ctx := context.Background()
	s := NewDMStore()

	conv, created, err := s.StartOrGetConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.StartOrGetConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	convs, err := s.GetConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)

	p, err := s.Participants(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, [2]string{"alice", "bob"}, p)

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrConversationNotFound)
}

func TestSaveMessageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewDMStore()
	conv, _, _ := s.StartOrGetConversation(ctx, "alice", "bob")

	m := newMessage(conv, 1, "m1")
	require.NoError(t, s.SaveMessage(ctx, m))
	require.NoError(t, s.SaveMessage(ctx, m))

	err := s.SaveMessage(ctx, newMessage(conv, 1, "other"))
	assert.ErrorIs(t, err, models.ErrSequenceConflict)

	err = s.SaveMessage(ctx, newMessage(conv, 3, "m3"))
	assert.ErrorIs(t, err, models.ErrSequenceConflict)

	last, err := s.MaxSequence(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestMessageQueries(t *testing.T) {
	ctx := context.Background()
	s := NewDMStore()
	conv, _, _ := s.StartOrGetConversation(ctx, "alice", "bob")
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.SaveMessage(ctx, newMessage(conv, i, "m"+string(rune('0'+i)))))
	}

	msgs, err := s.GetMessages(ctx, conv.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(2), msgs[0].Seq)
	assert.Equal(t, int64(4), msgs[2].Seq)

	hist, err := s.History(ctx, conv.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, int64(5), hist[0].Seq)
	assert.Equal(t, int64(4), hist[1].Seq)

	hist, err = s.History(ctx, conv.ID, 2, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, int64(1), hist[0].Seq)

	_, _, err = s.UpdateStatus(ctx, conv.ID, 2, models.StatusDelivered)
	require.NoError(t, err)
	pending, err := s.PendingFor(ctx, conv.ID, "bob", 4)
	require.NoError(t, err)
	var seqs []int64
	for _, m := range pending {
		seqs = append(seqs, m.Seq)
	}
	assert.Equal(t, []int64{1, 3, 4}, seqs)

	_, err = s.GetMessage(ctx, conv.ID, 9)
	assert.ErrorIs(t, err, models.ErrMessageNotFound)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := NewDMStore()
	conv, _, _ := s.StartOrGetConversation(ctx, "alice", "bob")
	require.NoError(t, s.SaveMessage(ctx, newMessage(conv, 1, "m1")))

	m, changed, err := s.UpdateStatus(ctx, conv.ID, 1, models.StatusRead)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusRead, m.Status)

	_, changed, err = s.UpdateStatus(ctx, conv.ID, 1, models.StatusRead)
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = s.UpdateStatus(ctx, conv.ID, 1, models.StatusDelivered)
	assert.ErrorIs(t, err, models.ErrStatusRegression)
}

func TestDeviceTokens(t *testing.T) {
	ctx := context.Background()
	s := NewDMStore()
	require.NoError(t, s.SaveDeviceToken(ctx, models.DeviceToken{UserID: "bob", Token: "t2", Platform: "ios"}))
	require.NoError(t, s.SaveDeviceToken(ctx, models.DeviceToken{UserID: "bob", Token: "t1", Platform: "android"}))
	require.NoError(t, s.SaveDeviceToken(ctx, models.DeviceToken{UserID: "alice", Token: "t3"}))

	tokens, err := s.DeviceTokens(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "t1", tokens[0].Token)
	assert.False(t, tokens[0].CreatedAt.IsZero())

	require.NoError(t, s.DeleteDeviceToken(ctx, "t1"))
	tokens, _ = s.DeviceTokens(ctx, "bob")
	assert.Len(t, tokens, 1)
}
