package devices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/Vasu1712/scenyx-realtime/internal/auth"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

type fakeRegistrar struct {
	saved   []models.DeviceToken
	removed []string
}

func (f *fakeRegistrar) RegisterDevice(_ context.Context, userID, token, platform string) (models.DeviceToken, error) {
	if token == "" {
		return models.DeviceToken{}, models.NewError(models.ErrInvalidPayload, "token is required")
	}
	d := models.DeviceToken{UserID: userID, Token: token, Platform: platform}
	f.saved = append(f.saved, d)
	return d, nil
}

func (f *fakeRegistrar) UnregisterDevice(_ context.Context, userID, token string) error {
	f.removed = append(f.removed, userID+"/"+token)
	return nil
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User-ID", "bob")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDeviceRoutes(t *testing.T) {
	reg := &fakeRegistrar{}
	r := mux.NewRouter()
	r.Use(auth.NewAuthenticator(nil).Middleware)
	RegisterDeviceRoutes(r, &DeviceHandler{Devices: reg})

	rec := serve(r, http.MethodPost, "/devices", `{"token":"tok-1","platform":"ios"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []models.DeviceToken{{UserID: "bob", Token: "tok-1", Platform: "ios"}}, reg.saved)

	rec = serve(r, http.MethodPost, "/devices", `{"platform":"ios"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodDelete, "/devices/tok-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"bob/tok-1"}, reg.removed)
}
