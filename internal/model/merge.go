package model

import "sort"

// mergeLocalFields carries client-only fields of the existing message over
// to the incoming one when the incoming copy lacks them. Server history rows
// never know our local ids or refs.
func mergeLocalFields(prev, next Message) Message {
	if next.LocalID == "" {
		next.LocalID = prev.LocalID
	}
	if next.Reply == nil {
		next.Reply = prev.Reply
	}
	if next.Forward == nil {
		next.Forward = prev.Forward
	}
	return next
}

// Merge unifies a held conversation with an incoming batch. Keyed by
// DedupKey; incoming wins on collision but keeps local-only fields. The
// result is sorted by SortKey. Applying the same batch twice yields an
// identical result.
func Merge(prev, incoming []Message) []Message {
	merged := make([]Message, 0, len(prev)+len(incoming))
	index := make(map[string]int, len(prev)+len(incoming))
	for _, m := range prev {
		k := m.DedupKey()
		if i, ok := index[k]; ok {
			merged[i] = m
			continue
		}
		index[k] = len(merged)
		merged = append(merged, m)
	}
	for _, m := range incoming {
		k := m.DedupKey()
		if i, ok := index[k]; ok {
			merged[i] = mergeLocalFields(merged[i], m)
			continue
		}
		index[k] = len(merged)
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].SortKey() < merged[j].SortKey()
	})
	return merged
}
