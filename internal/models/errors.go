package models

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDuplicateSession     = errors.New("session already active")
	ErrSessionNotFound      = errors.New("session not found")
	ErrNotParticipant       = errors.New("user is not a participant of the conversation")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrSlowConsumer         = errors.New("slow consumer disconnected")
	ErrPersistenceFailure   = errors.New("message could not be persisted")
	ErrStatusRegression     = errors.New("delivery status cannot move backwards")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrChatAccessDenied     = errors.New("chat access denied")

	// ErrSequenceConflict is returned by stores when another writer already
	// holds the (conversation, seq) slot with a different message.
	ErrSequenceConflict = errors.New("sequence number already taken")
)

type errorInfo struct {
	kind   error
	code   string
	status int
}

var errorTable = []errorInfo{
	{ErrDuplicateSession, "S001", http.StatusConflict},
	{ErrSessionNotFound, "S002", http.StatusNotFound},
	{ErrSlowConsumer, "S003", http.StatusServiceUnavailable},
	{ErrConversationNotFound, "CH001", http.StatusNotFound},
	{ErrNotParticipant, "CH002", http.StatusForbidden},
	{ErrMessageNotFound, "CH003", http.StatusNotFound},
	{ErrStatusRegression, "CH004", http.StatusConflict},
	{ErrChatAccessDenied, "CH005", http.StatusForbidden},
	{ErrInvalidPayload, "C001", http.StatusBadRequest},
	{ErrPersistenceFailure, "C002", http.StatusServiceUnavailable},
	{ErrUnauthorized, "A001", http.StatusUnauthorized},
}

// Error attaches a reason and an optional cause to one of the sentinels above.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func NewError(kind error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func WrapError(kind error, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Is(target error) bool {
	return e != nil && e.Kind == target
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorCode returns the public code and HTTP status for err.
// Unknown errors map to C002 / 500.
func ErrorCode(err error) (string, int) {
	for _, info := range errorTable {
		if errors.Is(err, info.kind) {
			return info.code, info.status
		}
	}
	return "C002", http.StatusInternalServerError
}
