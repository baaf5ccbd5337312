package model

import (
	"sort"
	"strings"
)

// Sanitizer bounds for persisted outbox state. Oversized or malformed
// entries are dropped on load rather than rejected wholesale.
const (
	OutboxMaxConversations = 80
	OutboxMaxPerConv       = 60
	OutboxTextMax          = 4000
	outboxIDMax            = 64
)

// OutboxEntry is a not-yet-confirmed outgoing send. Exactly one of To/Room is
// set, matching the conversation key namespace.
type OutboxEntry struct {
	LocalID       string `json:"localId"`
	To            string `json:"to,omitempty"`
	Room          string `json:"room,omitempty"`
	Text          string `json:"text"`
	TS            int64  `json:"ts"` // creation, unix seconds
	Status        Status `json:"status,omitempty"`
	Attempts      int    `json:"attempts,omitempty"`
	LastAttemptAt int64  `json:"lastAttemptAt,omitempty"` // unix milliseconds
	WhenOnline    bool   `json:"whenOnline,omitempty"`
	Silent        bool   `json:"silent,omitempty"`
	ScheduleAt    int64  `json:"scheduleAt,omitempty"` // unix milliseconds
}

// OutboxMap is the per-conversation outbound queue state.
type OutboxMap map[ConvKey][]OutboxEntry

func normalizeID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > outboxIDMax {
		return ""
	}
	return id
}

func normalizeText(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if len(text) > OutboxTextMax {
		return text[:OutboxTextMax]
	}
	return text
}

// SanitizeOutboxEntry validates one entry against its conversation key.
// Returns false when the entry is unusable.
func SanitizeOutboxEntry(e OutboxEntry, key ConvKey) (OutboxEntry, bool) {
	e.LocalID = normalizeID(e.LocalID)
	e.Text = normalizeText(e.Text)
	if e.LocalID == "" || e.Text == "" || e.TS <= 0 {
		return OutboxEntry{}, false
	}
	if IsDMKey(key) {
		e.To = normalizeID(e.To)
		e.Room = ""
		if e.To == "" {
			return OutboxEntry{}, false
		}
	} else {
		e.Room = normalizeID(e.Room)
		e.To = ""
		if e.Room == "" {
			return OutboxEntry{}, false
		}
	}
	if e.Status != StatusQueued && e.Status != StatusSending {
		e.Status = StatusQueued
	}
	if e.Attempts < 0 {
		e.Attempts = 0
	} else if e.Attempts > 999 {
		e.Attempts = 999
	}
	if e.LastAttemptAt < 0 {
		e.LastAttemptAt = 0
	}
	if e.ScheduleAt < 0 {
		e.ScheduleAt = 0
	}
	return e, true
}

// SanitizeOutboxMap validates a loaded (possibly foreign or corrupt) outbox
// map: bad keys and entries are dropped, duplicates by local id removed,
// lists sorted by creation time and the whole map bounded by the most
// recently active conversations.
func SanitizeOutboxMap(raw OutboxMap) OutboxMap {
	type convList struct {
		key    ConvKey
		list   []OutboxEntry
		lastTS int64
	}
	var convs []convList
	for key, value := range raw {
		key = strings.TrimSpace(key)
		if !ValidKey(key) {
			continue
		}
		seen := make(map[string]bool, len(value))
		var list []OutboxEntry
		for _, it := range value {
			ent, ok := SanitizeOutboxEntry(it, key)
			if !ok || seen[ent.LocalID] {
				continue
			}
			seen[ent.LocalID] = true
			list = append(list, ent)
		}
		if len(list) == 0 {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].TS < list[j].TS })
		convs = append(convs, convList{key: key, list: list, lastTS: list[len(list)-1].TS})
	}
	sort.SliceStable(convs, func(i, j int) bool { return convs[i].lastTS > convs[j].lastTS })
	if len(convs) > OutboxMaxConversations {
		convs = convs[:OutboxMaxConversations]
	}
	out := make(OutboxMap, len(convs))
	for _, c := range convs {
		list := c.list
		if len(list) > OutboxMaxPerConv {
			list = list[len(list)-OutboxMaxPerConv:]
		}
		out[c.key] = list
	}
	return out
}

// OutboxAdd appends an entry to its conversation, keeping order by creation
// time and the per-conversation bound. No-op if the local id already exists.
// The input map is not mutated.
func OutboxAdd(outbox OutboxMap, key ConvKey, entry OutboxEntry) OutboxMap {
	if !ValidKey(key) || entry.LocalID == "" {
		return outbox
	}
	list := outbox[key]
	for _, e := range list {
		if e.LocalID == entry.LocalID {
			return outbox
		}
	}
	next := make([]OutboxEntry, 0, len(list)+1)
	next = append(next, list...)
	next = append(next, entry)
	sort.SliceStable(next, func(i, j int) bool { return next[i].TS < next[j].TS })
	if len(next) > OutboxMaxPerConv {
		next = next[len(next)-OutboxMaxPerConv:]
	}
	out := cloneOutbox(outbox)
	out[key] = next
	return out
}

// OutboxUpdate replaces the entry with the given local id through fn.
// Returns the input map unchanged when the entry is absent.
func OutboxUpdate(outbox OutboxMap, key ConvKey, localID string, fn func(OutboxEntry) OutboxEntry) OutboxMap {
	list := outbox[key]
	idx := -1
	for i, e := range list {
		if e.LocalID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return outbox
	}
	next := make([]OutboxEntry, len(list))
	copy(next, list)
	next[idx] = fn(next[idx])
	out := cloneOutbox(outbox)
	out[key] = next
	return out
}

// OutboxRemove deletes the entry with the given local id. Empty conversation
// lists are dropped from the map.
func OutboxRemove(outbox OutboxMap, key ConvKey, localID string) OutboxMap {
	list := outbox[key]
	if len(list) == 0 {
		return outbox
	}
	next := make([]OutboxEntry, 0, len(list))
	for _, e := range list {
		if e.LocalID != localID {
			next = append(next, e)
		}
	}
	if len(next) == len(list) {
		return outbox
	}
	out := cloneOutbox(outbox)
	if len(next) > 0 {
		out[key] = next
	} else {
		delete(out, key)
	}
	return out
}

func cloneOutbox(outbox OutboxMap) OutboxMap {
	out := make(OutboxMap, len(outbox)+1)
	for k, v := range outbox {
		out[k] = v
	}
	return out
}
