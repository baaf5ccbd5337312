package store

import (
	"testing"
	"time"

	"github.com/yagodka-im/yagodka-go/internal/bus"
	"github.com/yagodka-im/yagodka-go/internal/model"
)

func TestApplyIsAtomicSnapshot(t *testing.T) {
	s := New(nil)
	before := s.Get()

	s.Apply(func(st State) State {
		st = st.WithConversation("dm:bob", []model.Message{{Kind: model.KindOut, Text: "hi", TS: 1}})
		st = st.WithUnread("bob", 3)
		return st
	})

	if len(before.Conversations) != 0 {
		t.Error("earlier snapshot changed after Apply")
	}
	after := s.Get()
	if len(after.Conversations["dm:bob"]) != 1 || after.Unread["bob"] != 3 {
		t.Errorf("state not applied: %+v", after)
	}
}

func TestApplyNotifiesBusOncePerBatch(t *testing.T) {
	b := bus.New()
	s := New(b)
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	s.Apply(func(st State) State {
		st = st.WithUnread("bob", 1)
		st = st.WithOnline("bob", true)
		st = st.WithLastRead("dm:bob", model.ReadMarker{ID: 4})
		return st
	})

	got := 0
	deadline := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-ch:
			got++
		case <-deadline:
			break loop
		}
	}
	if got != 1 {
		t.Errorf("got %d store.updated events, want 1", got)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := New(nil)
	s.Apply(func(st State) State {
		st.SelfID = "alice"
		st.Authed = true
		st = st.WithConversation("dm:bob", []model.Message{{Text: "x", TS: 1}})
		st.Outbox = model.OutboxAdd(st.Outbox, "dm:bob", model.OutboxEntry{LocalID: "l", To: "bob", Text: "x", TS: 1})
		return st
	})
	s.Reset()
	st := s.Get()
	if st.SelfID != "" || st.Authed || len(st.Conversations) != 0 || len(st.Outbox) != 0 {
		t.Errorf("state not reset: %+v", st)
	}
}

func TestWithHelpersCopyOnWrite(t *testing.T) {
	s := New(nil)
	s.Apply(func(st State) State {
		return st.WithHistory("room:dev", model.HistoryState{Loaded: true, Cursor: 10, HasMore: true})
	})
	first := s.Get()
	s.Apply(func(st State) State {
		return st.WithHistory("room:dev", model.HistoryState{Loaded: true, Cursor: 5, HasMore: false})
	})
	if first.History["room:dev"].Cursor != 10 {
		t.Error("old snapshot mutated by later transition")
	}
	if s.Get().History["room:dev"].Cursor != 5 {
		t.Error("new transition not visible")
	}
}
