package model

import "fmt"

// Kind classifies a message by direction.
type Kind string

const (
	KindIn  Kind = "in"
	KindOut Kind = "out"
	KindSys Kind = "sys"
)

// Status is the delivery state of an outgoing message.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusError     Status = "error"
)

// MessageRef points at another message (reply or forward source).
type MessageRef struct {
	ID      int64  `json:"id,omitempty"`
	LocalID string `json:"localId,omitempty"`
	From    string `json:"from,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Reactions holds aggregate reaction counts plus the local user's pick.
type Reactions struct {
	Counts map[string]int `json:"counts"`
	Mine   string         `json:"mine,omitempty"`
}

// Attachment is the storage shape of a file attachment. Transfer itself is
// handled outside this core.
type Attachment struct {
	FileID string `json:"file_id,omitempty"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Mime   string `json:"mime,omitempty"`
}

// Message is one entry in a conversation. A confirmed message carries a
// server ID (> 0); an optimistic one carries a LocalID instead. After the
// server confirms a local send both may be set.
type Message struct {
	Kind       Kind        `json:"kind"`
	From       string      `json:"from"`
	To         string      `json:"to,omitempty"`
	Room       string      `json:"room,omitempty"`
	Text       string      `json:"text"`
	TS         int64       `json:"ts"` // unix seconds, server clock
	ID         int64       `json:"id,omitempty"`
	LocalID    string      `json:"localId,omitempty"`
	Status     Status      `json:"status,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Reply      *MessageRef `json:"reply,omitempty"`
	Forward    *MessageRef `json:"forward,omitempty"`
	Reactions  *Reactions  `json:"reactions,omitempty"`
	Edited     bool        `json:"edited,omitempty"`
	EditedTS   int64       `json:"edited_ts,omitempty"`
}

// Confirmed reports whether the message has a server id.
func (m Message) Confirmed() bool { return m.ID > 0 }

// DedupKey returns the equality key used by Merge: server id when confirmed,
// then local id, then a content composite.
func (m Message) DedupKey() string {
	if m.ID > 0 {
		return fmt.Sprintf("id:%d", m.ID)
	}
	if m.LocalID != "" {
		return "local:" + m.LocalID
	}
	return fmt.Sprintf("ts:%d|from:%s|room:%s|to:%s|text:%s", m.TS, m.From, m.Room, m.To, m.Text)
}

// SortKey orders messages by server id when present, else by timestamp.
func (m Message) SortKey() int64 {
	if m.ID > 0 {
		return m.ID
	}
	return m.TS
}

// OldestConfirmedID returns the smallest server id in msgs, or 0 when none
// is confirmed. It is the backward-pagination cursor.
func OldestConfirmedID(msgs []Message) int64 {
	var min int64
	for _, m := range msgs {
		if m.ID <= 0 {
			continue
		}
		if min == 0 || m.ID < min {
			min = m.ID
		}
	}
	return min
}

// NewestInboundID returns the largest server id among inbound messages, or 0.
func NewestInboundID(msgs []Message) int64 {
	var max int64
	for _, m := range msgs {
		if m.Kind != KindIn || m.ID <= 0 {
			continue
		}
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}

// NewestConfirmedID returns the largest server id of any non-sys message.
func NewestConfirmedID(msgs []Message) int64 {
	var max int64
	for _, m := range msgs {
		if m.Kind == KindSys || m.ID <= 0 {
			continue
		}
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}
