package reconcile

import (
	"go.uber.org/zap"

	"github.com/yagodka-im/yagodka-go/internal/model"
	"github.com/yagodka-im/yagodka-go/internal/store"
	"github.com/yagodka-im/yagodka-go/internal/wire"
)

// ApplyHistoryPage merges one history_result into the conversation. Beyond
// the plain merge it:
//   - binds rows to pending outbox entries (reconnect dedup) before merging,
//   - ignores paging effects of a stale response for a before_id the view
//     has already paged past,
//   - forces hasMore off when a page moves the cursor nowhere, which would
//     otherwise refetch the same page forever,
//   - advances the room read marker from read_up_to_id.
//
// Preview pages merge rows only and leave all paging state untouched.
func (e *Engine) ApplyHistoryPage(res *wire.HistoryResult) {
	var key model.ConvKey
	switch {
	case res.Room != "":
		key = model.RoomKey(res.Room)
	case res.Peer != "":
		key = model.DMKey(res.Peer)
	default:
		return
	}

	hasBefore := res.BeforeID != nil
	var beforeID int64
	if hasBefore {
		beforeID = *res.BeforeID
	}
	// since_id tails often omit has_more; leaving the flag alone keeps
	// prefetch unblocked.
	shouldSetHasMore := hasBefore || res.HasMore != nil
	hasMore := false
	switch {
	case res.HasMore != nil:
		hasMore = *res.HasMore
	case hasBefore:
		hasMore = len(res.Rows) > 0
	}

	var logFields []zap.Field
	e.store.Apply(func(prev store.State) store.State {
		incoming := e.rowsToMessages(res, prev.SelfID)
		baseConv := prev.Conversations[key]
		baseConv, outbox := bindRows(baseConv, prev.Outbox, key, incoming)

		nextConv := model.Merge(baseConv, incoming)
		delta := len(nextConv) - len(baseConv)
		cursor := model.OldestConfirmedID(nextConv)
		prevHist := prev.History[key]

		staleBefore := hasBefore && beforeID > 0 &&
			prevHist.Cursor > 0 && beforeID > prevHist.Cursor
		cursorStalled := hasBefore && !staleBefore && delta <= 0 &&
			cursor > 0 && prevHist.Cursor > 0 && cursor == prevHist.Cursor

		next := prev.WithConversation(key, nextConv).WithOutbox(outbox)

		if res.Room != "" && res.ReadUpToID > 0 {
			marker, changed := next.LastRead[key].Advance(model.ReadMarker{ID: res.ReadUpToID})
			if changed {
				next = next.WithLastRead(key, marker)
			}
		}

		logFields = []zap.Field{
			zap.String("key", key),
			zap.Int("rows", len(res.Rows)),
			zap.Int("delta", delta),
			zap.Int64("cursor", cursor),
			zap.Bool("stale_before", staleBefore),
			zap.Bool("cursor_stalled", cursorStalled),
		}

		if res.Preview {
			return next
		}

		hist := prevHist
		hist.Loaded = true
		hist.Loading = false
		if cursor > 0 {
			hist.Cursor = cursor
		}
		if shouldSetHasMore && !staleBefore {
			hist.HasMore = hasMore && !cursorStalled
		}
		return next.WithHistory(key, hist)
	})
	e.logger.Debug("history page applied", logFields...)
	e.onDirty()
}

func (e *Engine) rowsToMessages(res *wire.HistoryResult, selfID string) []model.Message {
	out := make([]model.Message, 0, len(res.Rows))
	for _, r := range res.Rows {
		if r.From == "" {
			continue
		}
		room := res.Room
		if room == "" {
			room = r.Room
		}
		kind := model.KindIn
		if r.From == selfID {
			kind = model.KindOut
		}
		ts := r.TS
		if ts <= 0 {
			ts = e.clk.Now().Unix()
		}
		var status model.Status
		if room == "" && kind == model.KindOut && r.ID > 0 {
			switch {
			case r.Read:
				status = model.StatusRead
			case r.Delivered:
				status = model.StatusSent
			default:
				status = model.StatusQueued
			}
		}
		out = append(out, model.Message{
			Kind:       kind,
			From:       r.From,
			To:         r.To,
			Room:       room,
			Text:       r.Text,
			TS:         ts,
			ID:         r.ID,
			Status:     status,
			Attachment: r.Attachment,
			Reply:      r.Reply,
			Forward:    r.Forward,
			Reactions:  r.Reactions,
			Edited:     r.Edited,
			EditedTS:   r.EditedTS,
		})
	}
	return out
}

// bindRows claims pending outbox entries for confirmed outgoing rows that
// look like the same message: identical text, compatible target and a
// timestamp within BindWindow. The closest timestamp wins; two pending
// entries with the same text inside the window can still cross, which is the
// accepted cost of not having an idempotency key on the wire.
func bindRows(conv []model.Message, outbox model.OutboxMap, key model.ConvKey, incoming []model.Message) ([]model.Message, model.OutboxMap) {
	left := outbox[key]
	if len(left) == 0 || len(incoming) == 0 {
		return conv, outbox
	}
	left = append([]model.OutboxEntry(nil), left...)

	for _, inc := range incoming {
		if inc.Kind != model.KindOut || inc.ID <= 0 || inc.Attachment != nil || inc.Text == "" {
			continue
		}
		bestIdx := -1
		var bestDelta int64
		for i, e := range left {
			if e.Text != inc.Text {
				continue
			}
			if e.To != "" && inc.To != "" && e.To != inc.To {
				continue
			}
			if e.Room != "" && inc.Room != "" && e.Room != inc.Room {
				continue
			}
			delta := e.TS - inc.TS
			if delta < 0 {
				delta = -delta
			}
			if delta > BindWindow {
				continue
			}
			if bestIdx < 0 || delta < bestDelta {
				bestIdx = i
				bestDelta = delta
			}
		}
		if bestIdx < 0 {
			continue
		}
		localID := left[bestIdx].LocalID
		left = append(left[:bestIdx], left[bestIdx+1:]...)
		if localID == "" {
			continue
		}

		for i, m := range conv {
			if m.Kind != model.KindOut || m.Confirmed() || m.LocalID != localID {
				continue
			}
			next := append([]model.Message(nil), conv...)
			next[i].ID = inc.ID
			next[i].TS = inc.TS
			if inc.Status != "" {
				next[i].Status = inc.Status
			}
			conv = next
			break
		}
		outbox = model.OutboxRemove(outbox, key, localID)
	}
	return conv, outbox
}
