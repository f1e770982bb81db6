package models

type FrameKind string

const (
	FrameMessage  FrameKind = "message"
	FrameReceipt  FrameKind = "receipt"
	FramePresence FrameKind = "presence"
	FrameTyping   FrameKind = "typing"
	FrameAck      FrameKind = "ack"
	FrameError    FrameKind = "error"
)

// Frame is one unit of outbound work for a session.
type Frame struct {
	Kind    FrameKind `json:"kind"`
	Payload any       `json:"payload"`
}

// Droppable reports whether the frame may be shed under backpressure.
// Message deliveries and send acknowledgements are never dropped.
func (f Frame) Droppable() bool {
	switch f.Kind {
	case FrameMessage, FrameAck:
		return false
	}
	return true
}

// Receipt tells a sender that a message changed status.
type Receipt struct {
	ConversationID string         `json:"conversation_id"`
	Seq            int64          `json:"seq"`
	Status         DeliveryStatus `json:"status"`
}

func MessageFrame(m *DMMessage) Frame {
	return Frame{Kind: FrameMessage, Payload: m}
}

func ReceiptFrame(m *DMMessage) Frame {
	return Frame{Kind: FrameReceipt, Payload: Receipt{ConversationID: m.ConversationID, Seq: m.Seq, Status: m.Status}}
}

func PresenceFrame(ev PresenceEvent) Frame {
	if ev.State == PresenceTyping {
		return Frame{Kind: FrameTyping, Payload: ev}
	}
	return Frame{Kind: FramePresence, Payload: ev}
}
