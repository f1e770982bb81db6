// Package ws is the websocket transport: one session per connection, with a
// read pump for client frames and a write pump draining the session outbox.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-realtime/internal/auth"
	"github.com/Vasu1712/scenyx-realtime/internal/backpressure"
	"github.com/Vasu1712/scenyx-realtime/internal/delivery"
	"github.com/Vasu1712/scenyx-realtime/internal/httpx"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size; a full 2000 character message fits comfortably.
	maxMessageSize = 16 * 1024

	requestTimeout = 10 * time.Second
)

type Registry interface {
	Register(userID, sessionID, nodeID string) (models.Session, error)
	DeregisterWithReason(sessionID string, reason models.CloseReason)
	Heartbeat(sessionID string) error
}

type Queue interface {
	Outbox(sessionID string) (*backpressure.Outbox, bool)
	Enqueue(sessionID string, f models.Frame) backpressure.Verdict
}

type Chat interface {
	Send(ctx context.Context, userID, conversationID string, payload models.Payload) (*models.DMMessage, delivery.Outcome, error)
	Ack(ctx context.Context, userID, conversationID string, seq int64) (*models.DMMessage, error)
	MarkRead(ctx context.Context, userID, conversationID string, seq int64) (*models.DMMessage, error)
	Typing(ctx context.Context, userID, conversationID string) error
}

// Hub accepts websocket connections and binds each to a registry session.
type Hub struct {
	registry Registry
	queue    Queue
	chat     Chat
	nodeID   string
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHub(registry Registry, queue Queue, chat Chat, nodeID string, allowedOrigins []string, log zerolog.Logger) *Hub {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Hub{
		registry: registry,
		queue:    queue,
		chat:     chat,
		nodeID:   nodeID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

// client is one live connection.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	session models.Session
	outbox  *backpressure.Outbox
	log     zerolog.Logger
}

// ServeWS upgrades an authenticated request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httpx.WriteError(w, models.NewError(models.ErrUnauthorized, "missing user"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	sess, err := h.registry.Register(userID, uuid.NewString(), h.nodeID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("session registration failed")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "registration failed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	outbox, ok := h.queue.Outbox(sess.ID)
	if !ok {
		// Torn down between register and here.
		conn.Close()
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		session: sess,
		outbox:  outbox,
		log:     h.log.With().Str("session_id", sess.ID).Str("user_id", userID).Logger(),
	}
	c.log.Info().Msg("websocket connected")

	go c.writePump()
	c.readPump()
}

// readPump handles client frames until the connection fails, then deregisters the session.
func (c *client) readPump() {
	defer func() {
		c.hub.registry.DeregisterWithReason(c.session.ID, models.CloseClient)
		c.conn.Close()
		c.log.Info().Msg("websocket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.hub.registry.Heartbeat(c.session.ID)
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		if err := c.hub.registry.Heartbeat(c.session.ID); err != nil {
			// Reaped or disconnected as a slow consumer.
			return
		}
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	in, err := decodeInbound(data)
	if err != nil {
		c.reply(errorFrame("", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	userID := c.session.UserID

	switch in.Type {
	case typeSend:
		if in.Message == nil {
			c.reply(errorFrame(in.RequestID, models.NewError(models.ErrInvalidPayload, "message is required")))
			return
		}
		msg, _, err := c.hub.chat.Send(ctx, userID, in.ConversationID, *in.Message)
		if err != nil {
			c.reply(errorFrame(in.RequestID, err))
			return
		}
		c.reply(models.Frame{Kind: models.FrameAck, Payload: sendAck{RequestID: in.RequestID, Message: msg}})
	case typeAck:
		if _, err := c.hub.chat.Ack(ctx, userID, in.ConversationID, in.Seq); err != nil {
			c.log.Debug().Err(err).Str("conversation_id", in.ConversationID).Int64("seq", in.Seq).Msg("ack rejected")
		}
	case typeRead:
		if _, err := c.hub.chat.MarkRead(ctx, userID, in.ConversationID, in.Seq); err != nil {
			c.reply(errorFrame(in.RequestID, err))
		}
	case typeTyping:
		if err := c.hub.chat.Typing(ctx, userID, in.ConversationID); err != nil {
			c.reply(errorFrame(in.RequestID, err))
		}
	case typeHeartbeat:
		// Already refreshed by the read loop.
	default:
		c.reply(errorFrame(in.RequestID, models.NewError(models.ErrInvalidPayload, "unknown frame type "+in.Type)))
	}
}

func (c *client) reply(f models.Frame) {
	c.hub.queue.Enqueue(c.session.ID, f)
}

// writePump is the only writer on the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.outbox.C():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.outbox.Done():
			code, text := closeCode(c.outbox.Reason())
			c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
			return
		}
	}
}

// closeCode maps why a session ended onto the websocket close frame.
func closeCode(reason models.CloseReason) (int, string) {
	switch reason {
	case models.CloseSlowConsumer:
		return websocket.ClosePolicyViolation, "slow consumer"
	case models.CloseTimeout:
		return websocket.CloseGoingAway, "heartbeat timeout"
	case models.CloseShutdown:
		return websocket.CloseGoingAway, "server shutting down"
	case models.CloseFlushFailed:
		return websocket.CloseInternalServerErr, "pending delivery failed"
	}
	return websocket.CloseNormalClosure, ""
}
