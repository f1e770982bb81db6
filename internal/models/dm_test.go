package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to DeliveryStatus
		allowed  bool
	}{
		{StatusPending, StatusDelivered, true},
		{StatusPending, StatusRead, true},
		{StatusDelivered, StatusRead, true},
		{StatusDelivered, StatusDelivered, true},
		{StatusRead, StatusRead, true},
		{StatusRead, StatusDelivered, false},
		{StatusRead, StatusPending, false},
		{StatusDelivered, StatusPending, false},
		{StatusPending, DeliveryStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPayloadNormalize(t *testing.T) {
	p, err := Payload{Content: "hi"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, MessageText, p.Type)

	_, err = Payload{Content: "   "}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Payload{Type: "VIDEO", Content: "x"}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Payload{Content: strings.Repeat("가", MaxContentLength)}.Normalize()
	assert.NoError(t, err, "limit counts characters, not bytes")

	_, err = Payload{Content: strings.Repeat("a", MaxContentLength+1)}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestConversationParticipants(t *testing.T) {
	c := &DMConversation{Participants: [2]string{"alice", "bob"}}
	assert.True(t, c.Has("alice"))
	assert.False(t, c.Has("carol"))
	assert.Equal(t, "bob", c.Other("alice"))
	assert.Equal(t, "alice", c.Other("bob"))
}

func TestMessagePreview(t *testing.T) {
	m := &DMMessage{Type: MessageImage, Content: "https://cdn/x.png"}
	assert.Equal(t, "Sent a photo", m.Preview())

	m = &DMMessage{Type: MessageText, Content: strings.Repeat("b", 100)}
	assert.Equal(t, 81, len([]rune(m.Preview())))
}

func TestErrorCode(t *testing.T) {
	err := WrapError(ErrPersistenceFailure, "save message", errors.New("connection reset"))
	code, status := ErrorCode(err)
	assert.Equal(t, "C002", code)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.True(t, errors.Is(err, ErrPersistenceFailure))
	assert.False(t, errors.Is(err, ErrNotParticipant))

	code, status = ErrorCode(fmt.Errorf("lookup: %w", ErrNotParticipant))
	assert.Equal(t, "CH002", code)
	assert.Equal(t, http.StatusForbidden, status)

	code, status = ErrorCode(errors.New("boom"))
	assert.Equal(t, "C002", code)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestFrameDroppable(t *testing.T) {
	assert.False(t, MessageFrame(&DMMessage{}).Droppable())
	assert.False(t, Frame{Kind: FrameAck}.Droppable())
	assert.True(t, PresenceFrame(PresenceEvent{State: PresenceOnline}).Droppable())
	assert.Equal(t, FrameTyping, PresenceFrame(PresenceEvent{State: PresenceTyping}).Kind)
	assert.True(t, ReceiptFrame(&DMMessage{}).Droppable())
}
