package outbox

import (
	"sort"

	"github.com/yagodka-im/yagodka-go/internal/model"
)

// MergeSnapshot folds a persisted outbox snapshot into the live map. Live
// entries win per local id, so an in-flight send keeps its status; snapshot
// entries absent locally are appended with statuses collapsed to queued, as
// no send from the saved context is still running here.
func MergeSnapshot(live, snapshot model.OutboxMap) model.OutboxMap {
	merged := model.OutboxMap{}
	for key, list := range live {
		var kept []model.OutboxEntry
		for _, e := range list {
			if e.LocalID == "" {
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) > 0 {
			merged[key] = kept
		}
	}
	for key, list := range snapshot {
		base := merged[key]
		seen := make(map[string]bool, len(base))
		for _, e := range base {
			seen[e.LocalID] = true
		}
		var extras []model.OutboxEntry
		for _, e := range list {
			if e.LocalID == "" || seen[e.LocalID] {
				continue
			}
			if e.Status != model.StatusSent {
				e.Status = model.StatusQueued
			}
			extras = append(extras, e)
		}
		if len(extras) == 0 {
			continue
		}
		next := append(append([]model.OutboxEntry(nil), base...), extras...)
		sort.SliceStable(next, func(i, j int) bool { return next[i].TS < next[j].TS })
		merged[key] = next
	}
	return merged
}

// FillConversations inserts an optimistic queued message for every outbox
// entry that has no conversation counterpart yet. Used after hydrating a
// persisted snapshot, where the cache and the queue were saved at different
// moments.
func FillConversations(selfID string, conversations map[model.ConvKey][]model.Message, outbox model.OutboxMap) (map[model.ConvKey][]model.Message, bool) {
	changed := false
	out := conversations
	for key, list := range outbox {
		if len(list) == 0 {
			continue
		}
		conv := out[key]
		have := make(map[string]bool, len(conv))
		for _, m := range conv {
			if m.LocalID != "" {
				have[m.LocalID] = true
			}
		}
		var add []model.Message
		for _, e := range list {
			if e.LocalID == "" || have[e.LocalID] {
				continue
			}
			add = append(add, model.Message{
				Kind:    model.KindOut,
				From:    selfID,
				To:      e.To,
				Room:    e.Room,
				Text:    e.Text,
				TS:      e.TS,
				LocalID: e.LocalID,
				Status:  model.StatusQueued,
			})
		}
		if len(add) == 0 {
			continue
		}
		if !changed {
			next := make(map[model.ConvKey][]model.Message, len(out))
			for k, v := range out {
				next[k] = v
			}
			out = next
			changed = true
		}
		out[key] = model.Merge(conv, add)
	}
	return out, changed
}
