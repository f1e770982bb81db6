package devices

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Vasu1712/scenyx-realtime/internal/auth"
	"github.com/Vasu1712/scenyx-realtime/internal/httpx"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

type Registrar interface {
	RegisterDevice(ctx context.Context, userID, token, platform string) (models.DeviceToken, error)
	UnregisterDevice(ctx context.Context, userID, token string) error
}

// DeviceHandler manages the caller's push-notification tokens.
type DeviceHandler struct {
	Devices Registrar
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httpx.WriteError(w, models.NewError(models.ErrUnauthorized, "missing user"))
		return
	}
	var req struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, models.WrapError(models.ErrInvalidPayload, "malformed body", err))
		return
	}
	d, err := h.Devices.RegisterDevice(r.Context(), userID, req.Token, req.Platform)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, d)
}

func (h *DeviceHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httpx.WriteError(w, models.NewError(models.ErrUnauthorized, "missing user"))
		return
	}
	if err := h.Devices.UnregisterDevice(r.Context(), userID, mux.Vars(r)["token"]); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterDeviceRoutes registers the device endpoints on an authenticated router.
func RegisterDeviceRoutes(r *mux.Router, handler *DeviceHandler) {
	r.HandleFunc("/devices", handler.Register).Methods(http.MethodPost)
	r.HandleFunc("/devices/{token}", handler.Unregister).Methods(http.MethodDelete)
}
