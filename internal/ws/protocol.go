package ws

import (
	"encoding/json"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// Inbound frame types sent by clients.
const (
	typeSend      = "send"
	typeAck       = "ack"
	typeRead      = "read"
	typeTyping    = "typing"
	typeHeartbeat = "heartbeat"
)

type inbound struct {
	Type           string          `json:"type"`
	RequestID      string          `json:"request_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Seq            int64           `json:"seq,omitempty"`
	Message        *models.Payload `json:"message,omitempty"`
}

// sendAck answers a client's send once the message is durable.
type sendAck struct {
	RequestID string            `json:"request_id,omitempty"`
	Message   *models.DMMessage `json:"message"`
}

type errorReply struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func decodeInbound(data []byte) (inbound, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return in, models.WrapError(models.ErrInvalidPayload, "malformed frame", err)
	}
	return in, nil
}

func errorFrame(requestID string, err error) models.Frame {
	code, _ := models.ErrorCode(err)
	return models.Frame{Kind: models.FrameError, Payload: errorReply{RequestID: requestID, Code: code, Message: err.Error()}}
}
