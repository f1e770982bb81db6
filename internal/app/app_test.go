package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-realtime/internal/config"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("NODE_ID", "node-test")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("VALKEY_ADDR", "")
	t.Setenv("PUSH_GATEWAY_URL", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func request(h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	rec := request(a.Handler(), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"node":"node-test"`)

	rec = request(a.Handler(), http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConversationOverHTTP(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	h := a.Handler()

	rec := request(h, http.MethodPost, "/api/v1/dms", "alice", `{"peer_id":"bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv models.DMConversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = request(h, http.MethodPost, "/api/v1/dms/"+conv.ID+"/messages", "alice", `{"content":"hi bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"offline":true`)

	rec = request(h, http.MethodGet, "/api/v1/dms/"+conv.ID+"/messages", "mallory", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = request(h, http.MethodPost, "/api/v1/dms/"+conv.ID+"/messages/1/read", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"read"`)

	rec = request(h, http.MethodGet, "/api/v1/dms/"+conv.ID+"/messages", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []models.DMMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusRead, msgs[0].Status)
}

func TestPreflightIsAnswered(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/dms", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5173")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://127.0.0.1:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
