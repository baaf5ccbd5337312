// Package readmark issues read receipts and maintains local last-read
// markers. Receipts are throttled per conversation so scrolling through a
// chat does not spray message_read frames, and marker writes are throttled
// harder still because they hit persistent storage.
package readmark

import (
	"sync"
	"time"

	"github.com/yagodka-im/yagodka-go/internal/clock"
	"github.com/yagodka-im/yagodka-go/internal/model"
	"github.com/yagodka-im/yagodka-go/internal/store"
	"github.com/yagodka-im/yagodka-go/internal/wire"
)

const (
	// WireThrottle bounds message_read frames per conversation.
	WireThrottle = 300 * time.Millisecond
	// PersistThrottle bounds last-read marker writes per conversation.
	PersistThrottle = 1200 * time.Millisecond
)

// Tracker is safe for concurrent use.
type Tracker struct {
	store   *store.Store
	send    func(v any) bool
	clk     clock.Clock
	onDirty func()

	mu          sync.Mutex
	lastSentAt  map[model.ConvKey]int64 // unix ms
	lastSavedAt map[model.ConvKey]int64 // unix ms
}

// New creates a tracker.
func New(st *store.Store, send func(v any) bool, clk clock.Clock, onDirty func()) *Tracker {
	if clk == nil {
		clk = clock.System()
	}
	if onDirty == nil {
		onDirty = func() {}
	}
	return &Tracker{
		store:       st,
		send:        send,
		clk:         clk,
		onDirty:     onDirty,
		lastSentAt:  make(map[model.ConvKey]int64),
		lastSavedAt: make(map[model.ConvKey]int64),
	}
}

// MarkRead reports our read position in a DM. upToID zero means "everything
// so far". The unread badge clears only when the receipt covers the newest
// inbound message, so a partial catch-up keeps the badge honest.
func (t *Tracker) MarkRead(peer string, upToID int64) {
	if peer == "" {
		return
	}
	st := t.store.Get()
	if st.Conn != store.ConnConnected || !st.Authed {
		return
	}
	key := model.DMKey(peer)
	unread := st.Unread[peer]
	hasUpTo := upToID > 0
	if unread <= 0 && !hasUpTo {
		return
	}
	if !t.passWireThrottle(key) {
		return
	}

	t.send(wire.NewPeerRead(peer, upToID))

	conv := st.Conversations[key]
	newestInbound := model.NewestInboundID(conv)
	clearUnread := unread > 0
	if hasUpTo && unread > 0 {
		clearUnread = newestInbound > 0 && upToID >= newestInbound
	}

	targetID := upToID
	if !hasUpTo {
		targetID = model.NewestConfirmedID(conv)
	}
	marker, markerChanged := st.LastRead[key].Advance(model.ReadMarker{
		ID: targetID,
		TS: messageTS(conv, targetID),
	})
	if markerChanged && !t.passPersistThrottle(key) {
		markerChanged = false
	}

	if !clearUnread && !markerChanged {
		return
	}
	t.store.Apply(func(prev store.State) store.State {
		next := prev
		if clearUnread {
			next = next.WithUnread(peer, 0)
		}
		if markerChanged {
			next = next.WithLastRead(key, marker)
		}
		return next
	})
	if markerChanged {
		t.onDirty()
	}
}

// MarkRoomRead records our read position in a room and reports it to the
// server. The local marker advances even offline; the frame goes out only
// when connected and authed, under the wire throttle.
func (t *Tracker) MarkRoomRead(room string, upToID int64) {
	if room == "" || upToID <= 0 {
		return
	}
	key := model.RoomKey(room)
	st := t.store.Get()
	candidate := model.ReadMarker{ID: upToID, TS: messageTS(st.Conversations[key], upToID)}
	if _, changed := st.LastRead[key].Advance(candidate); !changed {
		return
	}
	if !t.passPersistThrottle(key) {
		return
	}
	t.store.Apply(func(prev store.State) store.State {
		marker, changed := prev.LastRead[key].Advance(candidate)
		if !changed {
			return prev
		}
		return prev.WithLastRead(key, marker)
	})
	t.onDirty()

	if st.Conn != store.ConnConnected || !st.Authed {
		return
	}
	if !t.passWireThrottle(key) {
		return
	}
	t.send(wire.NewRoomRead(room, upToID))
}

func (t *Tracker) passWireThrottle(key model.ConvKey) bool {
	now := t.clk.Now().UnixMilli()
	t.mu.Lock()
	defer t.mu.Unlock()
	if now-t.lastSentAt[key] < WireThrottle.Milliseconds() {
		return false
	}
	t.lastSentAt[key] = now
	return true
}

func (t *Tracker) passPersistThrottle(key model.ConvKey) bool {
	now := t.clk.Now().UnixMilli()
	t.mu.Lock()
	defer t.mu.Unlock()
	if now-t.lastSavedAt[key] < PersistThrottle.Milliseconds() {
		return false
	}
	t.lastSavedAt[key] = now
	return true
}

func messageTS(conv []model.Message, id int64) int64 {
	if id <= 0 {
		return 0
	}
	for i := len(conv) - 1; i >= 0; i-- {
		m := conv[i]
		if m.Kind == model.KindSys || m.ID != id {
			continue
		}
		return m.TS
	}
	return 0
}
