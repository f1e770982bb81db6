package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-realtime/internal/auth"
	"github.com/Vasu1712/scenyx-realtime/internal/backpressure"
	"github.com/Vasu1712/scenyx-realtime/internal/chat"
	"github.com/Vasu1712/scenyx-realtime/internal/delivery"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
	"github.com/Vasu1712/scenyx-realtime/internal/notify"
	"github.com/Vasu1712/scenyx-realtime/internal/presence"
	"github.com/Vasu1712/scenyx-realtime/internal/sequencer"
	"github.com/Vasu1712/scenyx-realtime/internal/session"
	"github.com/Vasu1712/scenyx-realtime/internal/storage/memory"
)

type env struct {
	srv  *httptest.Server
	svc  *chat.Service
	conv *models.DMConversation
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zerolog.Nop()
	store := memory.NewDMStore()
	registry := session.NewRegistry(time.Minute, log)
	queue := backpressure.NewController(32, log)
	router := delivery.NewRouter(registry, queue, store, notify.NewLogNotifier(log), log)
	broadcaster := presence.NewBroadcaster(registry, queue, presence.NewSubscriberSet(presence.ConversationPeers(store)), store, log)
	registry.AddObserver(queue)
	registry.AddObserver(router)
	registry.SetPresenceSink(broadcaster.Sink())
	seq := sequencer.New(store, sequencer.Config{Stripes: 4, MaxRetries: 1}, log)
	svc := chat.NewService(store, seq, router, broadcaster, log)

	conv, _, err := svc.StartConversation(t.Context(), "alice", "bob")
	require.NoError(t, err)

	hub := NewHub(registry, queue, svc, "node-a", nil, log)
	srv := httptest.NewServer(auth.NewAuthenticator(nil).Middleware(http.HandlerFunc(hub.ServeWS)))
	t.Cleanup(srv.Close)
	return &env{srv: srv, svc: svc, conv: conv}
}

func (e *env) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type outFrame struct {
	Kind    models.FrameKind `json:"kind"`
	Payload json.RawMessage  `json:"payload"`
}

// expect reads frames until one of kind arrives.
func expect(t *testing.T, conn *websocket.Conn, kind models.FrameKind) outFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f outFrame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Kind == kind {
			return f
		}
	}
}

func TestSendAckAndReceipt(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "alice")
	bob := e.dial(t, "bob")

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":            "send",
		"request_id":      "r1",
		"conversation_id": e.conv.ID,
		"message":         map[string]string{"content": "hi bob"},
	}))

	var ack sendAck
	require.NoError(t, json.Unmarshal(expect(t, alice, models.FrameAck).Payload, &ack))
	assert.Equal(t, "r1", ack.RequestID)
	assert.Equal(t, int64(1), ack.Message.Seq)

	var msg models.DMMessage
	require.NoError(t, json.Unmarshal(expect(t, bob, models.FrameMessage).Payload, &msg))
	assert.Equal(t, "hi bob", msg.Content)

	require.NoError(t, bob.WriteJSON(map[string]any{"type": "ack", "conversation_id": e.conv.ID, "seq": msg.Seq}))
	var receipt models.Receipt
	require.NoError(t, json.Unmarshal(expect(t, alice, models.FrameReceipt).Payload, &receipt))
	assert.Equal(t, models.StatusDelivered, receipt.Status)
}

func TestErrorsAreReportedToTheClient(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{nope")))
	var reply errorReply
	require.NoError(t, json.Unmarshal(expect(t, alice, models.FrameError).Payload, &reply))
	assert.Equal(t, "C001", reply.Code)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type": "send", "request_id": "r2", "conversation_id": "missing",
		"message": map[string]string{"content": "hi"},
	}))
	require.NoError(t, json.Unmarshal(expect(t, alice, models.FrameError).Payload, &reply))
	assert.Equal(t, "r2", reply.RequestID)
	assert.Equal(t, "CH001", reply.Code)
}

func TestUnauthenticatedUpgradeIsRejected(t *testing.T) {
	e := newEnv(t)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestCloseCode(t *testing.T) {
	code, text := closeCode(models.CloseSlowConsumer)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, "slow consumer", text)

	code, _ = closeCode(models.CloseClient)
	assert.Equal(t, websocket.CloseNormalClosure, code)
}
