// Package httpx holds the JSON response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto its public code and status.
// Errors outside the taxonomy are reported without their internals.
func WriteError(w http.ResponseWriter, err error) {
	code, status := models.ErrorCode(err)
	message := "internal server error"
	var coded *models.Error
	switch {
	case errors.As(err, &coded):
		message = coded.Kind.Error()
		if coded.Reason != "" {
			message += ": " + coded.Reason
		}
	case status != http.StatusInternalServerError:
		message = err.Error()
	}
	WriteJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
