package wire

import "github.com/yagodka-im/yagodka-go/internal/model"

// Outgoing frames. Builders return plain structs that marshal to the
// gateway's expected shape; the connection manager does the JSON encoding.

// SendText posts a message to a peer or room. Reply and Forward ride only on
// the first transmission; queue retries resend the bare text.
type SendText struct {
	Type    string            `json:"type"`
	To      string            `json:"to,omitempty"`
	Room    string            `json:"room,omitempty"`
	Text    string            `json:"text"`
	Silent  bool              `json:"silent,omitempty"`
	Reply   *model.MessageRef `json:"reply,omitempty"`
	Forward *model.MessageRef `json:"forward,omitempty"`
}

// NewSendDM builds a direct-message send frame.
func NewSendDM(to, text string, silent bool) SendText {
	return SendText{Type: "send", To: to, Text: text, Silent: silent}
}

// NewSendRoom builds a room send frame.
func NewSendRoom(room, text string, silent bool) SendText {
	return SendText{Type: "send", Room: room, Text: text, Silent: silent}
}

// MessageRead reports our read position.
type MessageRead struct {
	Type   string `json:"type"`
	Peer   string `json:"peer,omitempty"`
	Room   string `json:"room,omitempty"`
	UpToID int64  `json:"up_to_id,omitempty"`
}

// NewPeerRead builds a DM read receipt. upToID may be 0 when unknown.
func NewPeerRead(peer string, upToID int64) MessageRead {
	return MessageRead{Type: "message_read", Peer: peer, UpToID: upToID}
}

// NewRoomRead builds a room read receipt.
func NewRoomRead(room string, upToID int64) MessageRead {
	return MessageRead{Type: "message_read", Room: room, UpToID: upToID}
}

// Ping is the heartbeat frame.
type Ping struct {
	Type string `json:"type"`
}

// NewPing builds a heartbeat frame.
func NewPing() Ping { return Ping{Type: "ping"} }

// Auth presents the session token after (re)connecting.
type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// NewAuth builds an auth frame.
func NewAuth(token string) Auth { return Auth{Type: "auth", Token: token} }

// HistoryRequest asks for a page of conversation history older than
// BeforeID (0 requests the newest page).
type HistoryRequest struct {
	Type     string `json:"type"`
	Peer     string `json:"peer,omitempty"`
	Room     string `json:"room,omitempty"`
	BeforeID int64  `json:"before_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NewHistoryRequest builds a paging request for the given conversation.
func NewHistoryRequest(peer, room string, beforeID int64, limit int) HistoryRequest {
	return HistoryRequest{Type: "history", Peer: peer, Room: room, BeforeID: beforeID, Limit: limit}
}
