package readmark

import (
	"sync"
	"testing"
	"time"

	"github.com/yagodka-im/yagodka-go/internal/clock"
	"github.com/yagodka-im/yagodka-go/internal/model"
	"github.com/yagodka-im/yagodka-go/internal/store"
	"github.com/yagodka-im/yagodka-go/internal/wire"
)

type sendRec struct {
	mu     sync.Mutex
	frames []any
}

func (r *sendRec) send(v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, v)
	return true
}

func (r *sendRec) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func setup(t *testing.T) (*Tracker, *store.Store, *sendRec, *clock.Fake) {
	t.Helper()
	st := store.New(nil)
	st.Apply(func(s store.State) store.State {
		s.SelfID = "alice"
		s.Authed = true
		s.Conn = store.ConnConnected
		return s
	})
	rec := &sendRec{}
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	tr := New(st, rec.send, clk, nil)
	return tr, st, rec, clk
}

func seedDM(st *store.Store, unread int, msgs ...model.Message) {
	st.Apply(func(s store.State) store.State {
		s = s.WithConversation("dm:bob", msgs)
		return s.WithUnread("bob", unread)
	})
}

func inbound(id, ts int64) model.Message {
	return model.Message{Kind: model.KindIn, From: "bob", To: "alice", Text: "m", TS: ts, ID: id}
}

func TestMarkReadSendsFrameAndClearsBadge(t *testing.T) {
	tr, st, rec, _ := setup(t)
	seedDM(st, 2, inbound(10, 100), inbound(11, 101))

	tr.MarkRead("bob", 0)
	if rec.count() != 1 {
		t.Fatalf("sent %d frames, want 1", rec.count())
	}
	fr := rec.frames[0].(wire.MessageRead)
	if fr.Peer != "bob" || fr.UpToID != 0 {
		t.Errorf("frame = %+v", fr)
	}
	s := st.Get()
	if s.Unread["bob"] != 0 {
		t.Errorf("unread = %d, want 0", s.Unread["bob"])
	}
	if s.LastRead["dm:bob"].ID != 11 {
		t.Errorf("marker = %+v", s.LastRead["dm:bob"])
	}
}

func TestMarkReadWireThrottle(t *testing.T) {
	tr, st, rec, clk := setup(t)
	seedDM(st, 1, inbound(10, 100))

	tr.MarkRead("bob", 10)
	tr.MarkRead("bob", 10) // within 300ms, dropped
	if rec.count() != 1 {
		t.Fatalf("sent %d frames, want 1", rec.count())
	}

	st.Apply(func(s store.State) store.State { return s.WithUnread("bob", 1) })
	clk.Advance(WireThrottle)
	tr.MarkRead("bob", 10)
	if rec.count() != 2 {
		t.Fatalf("sent %d frames after throttle window, want 2", rec.count())
	}
}

func TestMarkReadPartialKeepsBadge(t *testing.T) {
	tr, st, rec, _ := setup(t)
	seedDM(st, 2, inbound(10, 100), inbound(11, 101))

	// A receipt up to id 10 does not cover the newest inbound (11).
	tr.MarkRead("bob", 10)
	if rec.count() != 1 {
		t.Fatal("receipt frame missing")
	}
	if got := st.Get().Unread["bob"]; got != 2 {
		t.Errorf("unread = %d, want 2 (kept)", got)
	}
	if got := st.Get().LastRead["dm:bob"].ID; got != 10 {
		t.Errorf("marker = %d, want 10", got)
	}
}

func TestMarkReadNothingToReport(t *testing.T) {
	tr, st, rec, _ := setup(t)
	seedDM(st, 0, inbound(10, 100))

	// No unread and no explicit position: nothing to say.
	tr.MarkRead("bob", 0)
	if rec.count() != 0 {
		t.Errorf("sent %d frames, want 0", rec.count())
	}

	st.Apply(func(s store.State) store.State {
		s.Conn = store.ConnDisconnected
		return s
	})
	tr.MarkRead("bob", 10)
	if rec.count() != 0 {
		t.Error("sent a receipt while disconnected")
	}
}

func TestMarkReadPersistThrottle(t *testing.T) {
	tr, st, _, clk := setup(t)
	dirty := 0
	tr.onDirty = func() { dirty++ }
	seedDM(st, 1, inbound(10, 100), inbound(11, 101))

	tr.MarkRead("bob", 10)
	if dirty != 1 {
		t.Fatalf("dirty = %d, want 1", dirty)
	}

	// Marker would advance to 11, but the persist throttle holds it back.
	clk.Advance(WireThrottle)
	st.Apply(func(s store.State) store.State { return s.WithUnread("bob", 1) })
	tr.MarkRead("bob", 11)
	if got := st.Get().LastRead["dm:bob"].ID; got != 10 {
		t.Errorf("marker = %d, want 10 (write throttled)", got)
	}
	if dirty != 1 {
		t.Errorf("dirty = %d, want 1", dirty)
	}

	clk.Advance(PersistThrottle)
	st.Apply(func(s store.State) store.State { return s.WithUnread("bob", 1) })
	tr.MarkRead("bob", 11)
	if got := st.Get().LastRead["dm:bob"].ID; got != 11 {
		t.Errorf("marker = %d, want 11", got)
	}
	if dirty != 2 {
		t.Errorf("dirty = %d, want 2", dirty)
	}
}

func TestMarkRoomRead(t *testing.T) {
	tr, st, rec, clk := setup(t)
	st.Apply(func(s store.State) store.State {
		return s.WithConversation("room:dev", []model.Message{
			{Kind: model.KindIn, From: "bob", Room: "dev", Text: "m", TS: 100, ID: 9},
			{Kind: model.KindIn, From: "carol", Room: "dev", Text: "m", TS: 101, ID: 10},
		})
	})

	tr.MarkRoomRead("dev", 0) // no position, nothing recorded
	tr.MarkRoomRead("dev", 9)
	tr.MarkRoomRead("dev", 10) // persist-throttled
	if rec.count() != 1 {
		t.Fatalf("sent %d frames, want 1", rec.count())
	}
	fr := rec.frames[0].(wire.MessageRead)
	if fr.Room != "dev" || fr.UpToID != 9 {
		t.Errorf("frame = %+v", fr)
	}
	if m := st.Get().LastRead["room:dev"]; m.ID != 9 || m.TS != 100 {
		t.Errorf("marker = %+v", m)
	}

	clk.Advance(PersistThrottle)
	tr.MarkRoomRead("dev", 10)
	if rec.count() != 2 {
		t.Errorf("sent %d frames, want 2", rec.count())
	}
	if m := st.Get().LastRead["room:dev"]; m.ID != 10 || m.TS != 101 {
		t.Errorf("marker = %+v", m)
	}

	// A position we already hold is not re-recorded or re-sent.
	clk.Advance(PersistThrottle)
	tr.MarkRoomRead("dev", 10)
	if rec.count() != 2 {
		t.Errorf("sent %d frames after no-op, want 2", rec.count())
	}
}

func TestMarkRoomReadRecordsMarkerOffline(t *testing.T) {
	tr, st, rec, _ := setup(t)
	st.Apply(func(s store.State) store.State {
		s.Conn = store.ConnDisconnected
		return s.WithConversation("room:dev", []model.Message{
			{Kind: model.KindIn, From: "bob", Room: "dev", Text: "m", TS: 100, ID: 5},
		})
	})

	tr.MarkRoomRead("dev", 5)
	if rec.count() != 0 {
		t.Fatalf("sent %d frames while offline, want 0", rec.count())
	}
	if m := st.Get().LastRead["room:dev"]; m.ID != 5 {
		t.Errorf("marker = %+v", m)
	}
}
