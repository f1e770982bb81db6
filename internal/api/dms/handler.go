package dms

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Vasu1712/scenyx-realtime/internal/auth"
	"github.com/Vasu1712/scenyx-realtime/internal/delivery"
	"github.com/Vasu1712/scenyx-realtime/internal/httpx"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// Chat is the messaging service behind the DM endpoints.
type Chat interface {
	StartConversation(ctx context.Context, userID, peerID string) (*models.DMConversation, bool, error)
	Conversations(ctx context.Context, userID string) ([]*models.DMConversation, error)
	History(ctx context.Context, userID, conversationID string, beforeSeq int64, limit int) ([]*models.DMMessage, error)
	Send(ctx context.Context, userID, conversationID string, payload models.Payload) (*models.DMMessage, delivery.Outcome, error)
	MarkRead(ctx context.Context, userID, conversationID string, seq int64) (*models.DMMessage, error)
	OnlinePeers(ctx context.Context, userID string) ([]string, error)
}

type DMHandler struct {
	Chat Chat
}

type sendResponse struct {
	Message  *models.DMMessage `json:"message"`
	Delivery deliveryView      `json:"delivery"`
}

type deliveryView struct {
	Pushed  int  `json:"pushed"`
	Remote  int  `json:"remote"`
	Offline bool `json:"offline"`
}

func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httpx.WriteError(w, models.NewError(models.ErrUnauthorized, "missing user"))
	}
	return userID, ok
}

// StartOrGetConversation opens the DM between the caller and peer_id.
func (h *DMHandler) StartOrGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		PeerID string `json:"peer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, models.WrapError(models.ErrInvalidPayload, "malformed body", err))
		return
	}
	conv, created, err := h.Chat.StartConversation(r.Context(), userID, req.PeerID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, conv)
}

func (h *DMHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	convs, err := h.Chat.Conversations(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if convs == nil {
		convs = []*models.DMConversation{}
	}
	httpx.WriteJSON(w, http.StatusOK, convs)
}

// GetMessages pages history newest first; ?before=<seq>&limit=<n>.
func (h *DMHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	before, err := optionalInt(q.Get("before"))
	if err != nil {
		httpx.WriteError(w, models.WrapError(models.ErrInvalidPayload, "before must be a number", err))
		return
	}
	limit, err := optionalInt(q.Get("limit"))
	if err != nil {
		httpx.WriteError(w, models.WrapError(models.ErrInvalidPayload, "limit must be a number", err))
		return
	}
	msgs, err := h.Chat.History(r.Context(), userID, mux.Vars(r)["id"], before, int(limit))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*models.DMMessage{}
	}
	httpx.WriteJSON(w, http.StatusOK, msgs)
}

func (h *DMHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var payload models.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.WriteError(w, models.WrapError(models.ErrInvalidPayload, "malformed body", err))
		return
	}
	msg, out, err := h.Chat.Send(r.Context(), userID, mux.Vars(r)["id"], payload)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, sendResponse{
		Message:  msg,
		Delivery: deliveryView{Pushed: out.Pushed, Remote: out.Remote, Offline: out.Offline},
	})
}

func (h *DMHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	seq, err := strconv.ParseInt(vars["seq"], 10, 64)
	if err != nil {
		httpx.WriteError(w, models.WrapError(models.ErrInvalidPayload, "seq must be a number", err))
		return
	}
	msg, err := h.Chat.MarkRead(r.Context(), userID, vars["id"], seq)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, msg)
}

// OnlinePeers lists the caller's conversation partners that are online.
func (h *DMHandler) OnlinePeers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	peers, err := h.Chat.OnlinePeers(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string][]string{"online": peers})
}

func optionalInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
