package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"coded", models.NewError(models.ErrNotParticipant, "mallory"), http.StatusForbidden, "CH002", "user is not a participant of the conversation: mallory"},
		{"wrapped sentinel", fmt.Errorf("load: %w", models.ErrConversationNotFound), http.StatusNotFound, "CH001", "load: conversation not found"},
		{"unknown", errors.New("pq: connection refused"), http.StatusInternalServerError, "C002", "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, fmt.Sprintf(`{"error":{"code":%q,"message":%q}}`, tt.code, tt.message), rec.Body.String())
		})
	}
}
