// Package wire models the gateway JSON protocol as a closed set of typed
// frames. Incoming payloads are decoded per variant; unknown types decode to
// nil so new server messages never break an old client.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/yagodka-im/yagodka-go/internal/model"
)

// envelope carries only the discriminator; the full payload is re-decoded
// into the variant struct.
type envelope struct {
	Type string `json:"type"`
}

// AuthOK confirms session authentication.
type AuthOK struct {
	UserID string `json:"user_id"`
}

// MessageEvent is a live message delivery.
type MessageEvent struct {
	From       string            `json:"from"`
	To         string            `json:"to,omitempty"`
	Room       string            `json:"room,omitempty"`
	Text       string            `json:"text"`
	TS         int64             `json:"ts"`
	ID         int64             `json:"id,omitempty"`
	Edited     bool              `json:"edited,omitempty"`
	EditedTS   int64             `json:"edited_ts,omitempty"`
	Attachment *model.Attachment `json:"attachment,omitempty"`
	Reply      *model.MessageRef `json:"reply,omitempty"`
	Forward    *model.MessageRef `json:"forward,omitempty"`
}

// MessageDelivered acknowledges a send reached its target.
type MessageDelivered struct {
	To   string `json:"to,omitempty"`
	Room string `json:"room,omitempty"`
	ID   int64  `json:"id"`
}

// MessageQueuedAck acknowledges a send was stored for an offline peer.
type MessageQueuedAck struct {
	To string `json:"to"`
	ID int64  `json:"id,omitempty"`
}

// MessageBlocked rejects a send permanently.
type MessageBlocked struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// MessageReadAck reports the peer's read position in a DM.
type MessageReadAck struct {
	Peer   string `json:"peer"`
	UpToID int64  `json:"up_to_id,omitempty"`
}

// HistoryRow is one message inside a history page.
type HistoryRow struct {
	From       string            `json:"from"`
	To         string            `json:"to,omitempty"`
	Room       string            `json:"room,omitempty"`
	Text       string            `json:"text"`
	TS         int64             `json:"ts"`
	ID         int64             `json:"id,omitempty"`
	Delivered  bool              `json:"delivered,omitempty"`
	Read       bool              `json:"read,omitempty"`
	Edited     bool              `json:"edited,omitempty"`
	EditedTS   int64             `json:"edited_ts,omitempty"`
	Attachment *model.Attachment `json:"attachment,omitempty"`
	Reply      *model.MessageRef `json:"reply,omitempty"`
	Forward    *model.MessageRef `json:"forward,omitempty"`
	Reactions  *model.Reactions  `json:"reactions,omitempty"`
}

// HistoryResult is a page of conversation history. BeforeID and HasMore are
// pointers: the server omits them on live-tail responses and the engine must
// tell "absent" from zero.
type HistoryResult struct {
	Room       string       `json:"room,omitempty"`
	Peer       string       `json:"peer,omitempty"`
	Rows       []HistoryRow `json:"rows"`
	BeforeID   *int64       `json:"before_id,omitempty"`
	HasMore    *bool        `json:"has_more,omitempty"`
	ReadUpToID int64        `json:"read_up_to_id,omitempty"`
	Preview    bool         `json:"preview,omitempty"`
}

// PresenceEvent reports a peer going online or offline.
type PresenceEvent struct {
	ID     string `json:"id"`
	Online bool   `json:"online"`
}

// ServerError is a generic server-side rejection.
type ServerError struct {
	Reason string `json:"reason"`
}

// Decode parses one incoming frame. Unknown types return (nil, nil); a frame
// of a known type with an unusable payload returns an error the caller is
// expected to log and drop.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("frame envelope: %w", err)
	}
	switch env.Type {
	case "auth_ok":
		var f AuthOK
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("auth_ok: %w", err)
		}
		return &f, nil
	case "message":
		var f MessageEvent
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("message: %w", err)
		}
		if f.From == "" {
			return nil, fmt.Errorf("message: missing from")
		}
		return &f, nil
	case "message_delivered":
		var f MessageDelivered
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("message_delivered: %w", err)
		}
		if f.To == "" && f.Room == "" {
			return nil, fmt.Errorf("message_delivered: missing target")
		}
		return &f, nil
	case "message_queued":
		var f MessageQueuedAck
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("message_queued: %w", err)
		}
		if f.To == "" {
			return nil, fmt.Errorf("message_queued: missing to")
		}
		return &f, nil
	case "message_blocked":
		var f MessageBlocked
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("message_blocked: %w", err)
		}
		if f.To == "" {
			return nil, fmt.Errorf("message_blocked: missing to")
		}
		if f.Reason == "" {
			f.Reason = "blocked"
		}
		return &f, nil
	case "message_read_ack":
		var f MessageReadAck
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("message_read_ack: %w", err)
		}
		if f.Peer == "" {
			return nil, fmt.Errorf("message_read_ack: missing peer")
		}
		return &f, nil
	case "history_result":
		var f HistoryResult
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("history_result: %w", err)
		}
		if f.Room == "" && f.Peer == "" {
			return nil, fmt.Errorf("history_result: missing target")
		}
		return &f, nil
	case "presence":
		var f PresenceEvent
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("presence: %w", err)
		}
		if f.ID == "" {
			return nil, fmt.Errorf("presence: missing id")
		}
		return &f, nil
	case "error":
		var f ServerError
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("error: %w", err)
		}
		return &f, nil
	}
	return nil, nil
}
