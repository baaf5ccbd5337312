package model

import "strings"

// ConvKey identifies a message thread. Direct conversations use the "dm:"
// namespace, rooms use "room:"; the prefixes keep the two id spaces from
// ever colliding.
type ConvKey = string

// DMKey returns the conversation key for a direct peer.
func DMKey(peerID string) ConvKey {
	return "dm:" + peerID
}

// RoomKey returns the conversation key for a room.
func RoomKey(roomID string) ConvKey {
	return "room:" + roomID
}

// ValidKey reports whether key carries a known namespace and a non-empty id.
func ValidKey(key ConvKey) bool {
	if len(key) > 96 {
		return false
	}
	if rest, ok := strings.CutPrefix(key, "dm:"); ok {
		return rest != ""
	}
	if rest, ok := strings.CutPrefix(key, "room:"); ok {
		return rest != ""
	}
	return false
}

// IsDMKey reports whether key addresses a direct conversation.
func IsDMKey(key ConvKey) bool {
	return strings.HasPrefix(key, "dm:")
}

// KeyTarget splits a key into its namespace id. The second result is true
// for rooms.
func KeyTarget(key ConvKey) (id string, room bool) {
	if rest, ok := strings.CutPrefix(key, "dm:"); ok {
		return rest, false
	}
	if rest, ok := strings.CutPrefix(key, "room:"); ok {
		return rest, true
	}
	return "", false
}
