package reconcile

import (
	"testing"

	"github.com/yagodka-im/yagodka-go/internal/model"
	"github.com/yagodka-im/yagodka-go/internal/store"
	"github.com/yagodka-im/yagodka-go/internal/wire"
)

func int64p(v int64) *int64 { return &v }
func boolp(v bool) *bool    { return &v }

func TestHistoryPageMergesAndSetsPaging(t *testing.T) {
	e, st, _ := newEngine(t)

	e.ApplyHistoryPage(&wire.HistoryResult{
		Peer: "bob",
		Rows: []wire.HistoryRow{
			{From: "bob", To: "alice", Text: "old", TS: 90, ID: 5},
			{From: "alice", To: "bob", Text: "mine", TS: 95, ID: 6, Delivered: true},
		},
		BeforeID: int64p(0),
		HasMore:  boolp(true),
	})

	s := st.Get()
	conv := s.Conversations["dm:bob"]
	if len(conv) != 2 {
		t.Fatalf("conversation = %+v", conv)
	}
	if conv[1].Kind != model.KindOut || conv[1].Status != model.StatusSent {
		t.Errorf("own delivered row = %+v", conv[1])
	}
	h := s.History["dm:bob"]
	if !h.Loaded || h.Cursor != 5 || !h.HasMore || h.Loading {
		t.Errorf("history state = %+v", h)
	}
}

func TestHistoryBindsPendingWithinWindow(t *testing.T) {
	e, st, _ := newEngine(t)
	seedPending(st, "dm:bob",
		[]model.Message{pendingOut("l1", "hello", 100)},
		[]model.OutboxEntry{{LocalID: "l1", To: "bob", Text: "hello", TS: 100, Status: model.StatusQueued}})

	// Server stamped the message 8 seconds later than our clock did.
	e.ApplyHistoryPage(&wire.HistoryResult{
		Peer: "bob",
		Rows: []wire.HistoryRow{{From: "alice", To: "bob", Text: "hello", TS: 108, ID: 40, Delivered: true}},
	})

	s := st.Get()
	conv := s.Conversations["dm:bob"]
	if len(conv) != 1 {
		t.Fatalf("expected one merged message, got %+v", conv)
	}
	if conv[0].ID != 40 || conv[0].LocalID != "l1" || conv[0].Status != model.StatusSent {
		t.Errorf("bound message = %+v", conv[0])
	}
	if len(s.Outbox["dm:bob"]) != 0 {
		t.Errorf("bound entry stayed in the outbox: %+v", s.Outbox["dm:bob"])
	}
}

func TestHistoryDoesNotBindOutsideWindow(t *testing.T) {
	e, st, _ := newEngine(t)
	seedPending(st, "dm:bob",
		[]model.Message{pendingOut("l1", "hello", 100)},
		[]model.OutboxEntry{{LocalID: "l1", To: "bob", Text: "hello", TS: 100, Status: model.StatusQueued}})

	e.ApplyHistoryPage(&wire.HistoryResult{
		Peer: "bob",
		Rows: []wire.HistoryRow{{From: "alice", To: "bob", Text: "hello", TS: 100 + BindWindow + 1, ID: 40}},
	})

	s := st.Get()
	if len(s.Conversations["dm:bob"]) != 2 {
		t.Errorf("conversation = %+v", s.Conversations["dm:bob"])
	}
	if len(s.Outbox["dm:bob"]) != 1 {
		t.Error("pending entry dropped without a binding")
	}
}

func TestHistoryBindingPrefersClosestTimestamp(t *testing.T) {
	e, st, _ := newEngine(t)
	seedPending(st, "dm:bob",
		[]model.Message{pendingOut("l1", "same", 100), pendingOut("l2", "same", 106)},
		[]model.OutboxEntry{
			{LocalID: "l1", To: "bob", Text: "same", TS: 100, Status: model.StatusQueued},
			{LocalID: "l2", To: "bob", Text: "same", TS: 106, Status: model.StatusQueued},
		})

	e.ApplyHistoryPage(&wire.HistoryResult{
		Peer: "bob",
		Rows: []wire.HistoryRow{{From: "alice", To: "bob", Text: "same", TS: 105, ID: 40, Delivered: true}},
	})

	left := st.Get().Outbox["dm:bob"]
	if len(left) != 1 || left[0].LocalID != "l1" {
		t.Errorf("outbox = %+v, want only l1 left", left)
	}
}

func TestHistoryStaleBeforeLeavesPagingAlone(t *testing.T) {
	e, st, _ := newEngine(t)
	st.Apply(func(s store.State) store.State {
		return s.WithHistory("dm:bob", model.HistoryState{Loaded: true, Cursor: 50, HasMore: true})
	})

	// A late page for before_id=100 after the view already paged to 50.
	e.ApplyHistoryPage(&wire.HistoryResult{
		Peer:     "bob",
		Rows:     []wire.HistoryRow{{From: "bob", To: "alice", Text: "late", TS: 90, ID: 80}},
		BeforeID: int64p(100),
		HasMore:  boolp(false),
	})

	s := st.Get()
	if len(s.Conversations["dm:bob"]) != 1 {
		t.Error("stale page rows were not merged")
	}
	h := s.History["dm:bob"]
	if !h.HasMore {
		t.Error("stale before_id response overwrote hasMore")
	}
}

func TestHistoryCursorStalledStopsPaging(t *testing.T) {
	e, st, _ := newEngine(t)
	st.Apply(func(s store.State) store.State {
		s = s.WithConversation("dm:bob", []model.Message{
			{Kind: model.KindIn, From: "bob", Text: "oldest", TS: 90, ID: 50},
		})
		return s.WithHistory("dm:bob", model.HistoryState{Loaded: true, Cursor: 50, HasMore: true})
	})

	// The server answers the before_id=50 request with the same oldest row.
	e.ApplyHistoryPage(&wire.HistoryResult{
		Peer:     "bob",
		Rows:     []wire.HistoryRow{{From: "bob", To: "alice", Text: "oldest", TS: 90, ID: 50}},
		BeforeID: int64p(50),
		HasMore:  boolp(true),
	})

	h := st.Get().History["dm:bob"]
	if h.HasMore {
		t.Error("hasMore stayed on for a page that moved the cursor nowhere")
	}
}

func TestHistoryPreviewLeavesPagingUntouched(t *testing.T) {
	e, st, _ := newEngine(t)

	e.ApplyHistoryPage(&wire.HistoryResult{
		Peer:    "bob",
		Rows:    []wire.HistoryRow{{From: "bob", To: "alice", Text: "peek", TS: 90, ID: 5}},
		Preview: true,
	})

	s := st.Get()
	if len(s.Conversations["dm:bob"]) != 1 {
		t.Error("preview rows were not merged")
	}
	if h := s.History["dm:bob"]; h.Loaded || h.Cursor != 0 {
		t.Errorf("preview touched paging state: %+v", h)
	}
}

func TestHistoryAdvancesRoomReadMarker(t *testing.T) {
	e, st, _ := newEngine(t)
	st.Apply(func(s store.State) store.State {
		return s.WithLastRead("room:dev", model.ReadMarker{ID: 5})
	})

	e.ApplyHistoryPage(&wire.HistoryResult{
		Room:       "dev",
		Rows:       []wire.HistoryRow{{From: "bob", Text: "x", TS: 90, ID: 9}},
		ReadUpToID: 8,
	})
	if got := st.Get().LastRead["room:dev"].ID; got != 8 {
		t.Errorf("marker = %d, want 8", got)
	}

	// Markers never move backwards.
	e.ApplyHistoryPage(&wire.HistoryResult{
		Room:       "dev",
		Rows:       nil,
		ReadUpToID: 3,
	})
	if got := st.Get().LastRead["room:dev"].ID; got != 8 {
		t.Errorf("marker regressed to %d", got)
	}
}
