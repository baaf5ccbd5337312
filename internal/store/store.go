// Package store holds the in-memory client state as an immutable snapshot.
// Every mutation is a pure transition applied atomically, so timer and
// transport callbacks never observe a half-updated structure.
package store

import (
	"maps"
	"sync"

	"github.com/yagodka-im/yagodka-go/internal/bus"
	"github.com/yagodka-im/yagodka-go/internal/model"
)

// ConnStatus mirrors the transport connection state for UI consumers.
type ConnStatus string

const (
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnDisconnected ConnStatus = "disconnected"
)

// State is one immutable snapshot of client state. Transition functions must
// treat all nested maps and slices as read-only and replace them on change.
type State struct {
	SelfID     string
	Authed     bool
	Conn       ConnStatus
	StatusLine string

	Conversations map[model.ConvKey][]model.Message
	Outbox        model.OutboxMap
	History       map[model.ConvKey]model.HistoryState
	LastRead      map[model.ConvKey]model.ReadMarker
	Unread        map[string]int // peer id -> unread DM count
	Online        map[string]bool
	Drafts        map[model.ConvKey]string
}

func emptyState() State {
	return State{
		Conn:          ConnDisconnected,
		Conversations: map[model.ConvKey][]model.Message{},
		Outbox:        model.OutboxMap{},
		History:       map[model.ConvKey]model.HistoryState{},
		LastRead:      map[model.ConvKey]model.ReadMarker{},
		Unread:        map[string]int{},
		Online:        map[string]bool{},
		Drafts:        map[model.ConvKey]string{},
	}
}

// WithConversation returns a copy of the state with one conversation list
// replaced.
func (st State) WithConversation(key model.ConvKey, msgs []model.Message) State {
	next := maps.Clone(st.Conversations)
	next[key] = msgs
	st.Conversations = next
	return st
}

// WithOutbox returns a copy with the outbox map replaced.
func (st State) WithOutbox(outbox model.OutboxMap) State {
	st.Outbox = outbox
	return st
}

// WithHistory returns a copy with one conversation's paging state replaced.
func (st State) WithHistory(key model.ConvKey, h model.HistoryState) State {
	next := maps.Clone(st.History)
	next[key] = h
	st.History = next
	return st
}

// WithLastRead returns a copy with one read marker replaced.
func (st State) WithLastRead(key model.ConvKey, m model.ReadMarker) State {
	next := maps.Clone(st.LastRead)
	next[key] = m
	st.LastRead = next
	return st
}

// WithUnread returns a copy with one peer's unread count replaced.
func (st State) WithUnread(peer string, count int) State {
	next := maps.Clone(st.Unread)
	next[peer] = count
	st.Unread = next
	return st
}

// WithOnline returns a copy with one peer's presence replaced.
func (st State) WithOnline(peer string, online bool) State {
	next := maps.Clone(st.Online)
	next[peer] = online
	st.Online = next
	return st
}

// Store serializes state transitions and notifies the bus once per applied
// transition.
type Store struct {
	mu    sync.Mutex
	state State
	bus   *bus.Bus
}

// New creates a store with empty state.
func New(b *bus.Bus) *Store {
	return &Store{state: emptyState(), bus: b}
}

// Get returns the current snapshot.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply runs fn against the current snapshot and installs its result,
// returning the new snapshot. Subscribers get exactly one store.updated
// event per call, even when fn changes many fields.
func (s *Store) Apply(fn func(State) State) State {
	s.mu.Lock()
	next := fn(s.state)
	s.state = next
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindStoreUpdated})
	}
	return next
}

// Reset discards all per-user state. Used on logout before the next user's
// state is hydrated.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = emptyState()
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindStoreUpdated})
	}
}
