package dms

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterDMRoutes registers the DM endpoints on an authenticated router.
func RegisterDMRoutes(r *mux.Router, handler *DMHandler) {
	r.HandleFunc("/dms", handler.StartOrGetConversation).Methods(http.MethodPost)
	r.HandleFunc("/dms", handler.ListConversations).Methods(http.MethodGet)
	r.HandleFunc("/dms/{id}/messages", handler.GetMessages).Methods(http.MethodGet)
	r.HandleFunc("/dms/{id}/messages", handler.SendMessage).Methods(http.MethodPost)
	r.HandleFunc("/dms/{id}/messages/{seq:[0-9]+}/read", handler.MarkRead).Methods(http.MethodPost)
	r.HandleFunc("/presence/peers", handler.OnlinePeers).Methods(http.MethodGet)
}
