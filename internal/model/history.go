package model

// HistoryState tracks backward pagination for one conversation. Cursor is
// the oldest confirmed id loaded so far; it only ever moves toward older
// messages.
type HistoryState struct {
	Loaded  bool  `json:"loaded"`
	Cursor  int64 `json:"cursor,omitempty"`
	HasMore bool  `json:"hasMore"`
	Loading bool  `json:"-"`
}

// ReadMarker is the local last-read position for one conversation. Updates
// are monotonic: an id or timestamp only advances.
type ReadMarker struct {
	ID int64 `json:"id,omitempty"`
	TS int64 `json:"ts,omitempty"`
}

// Advance merges a candidate marker, keeping each field monotonic. The
// second result reports whether anything moved.
func (m ReadMarker) Advance(next ReadMarker) (ReadMarker, bool) {
	changed := false
	if next.ID > m.ID {
		m.ID = next.ID
		changed = true
	}
	if next.TS > m.TS {
		m.TS = next.TS
		changed = true
	}
	return m, changed
}
