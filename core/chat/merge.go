package chat

import "sort"

// mergeMessages merges two chronologically-ascending lists: concatenate,
// stable-sort ascending by creation time, deduplicate by ID preferring the
// most recently-seen copy. Equal-timestamp ties keep concatenation order
// (stable sort); the store promises no finer ordering than its timestamp
// granularity, so this tie-break is arrival order on purpose.
//
// Used identically by live updates, background reconciles and pagination
// prepends.
func mergeMessages(a, b []Message) []Message {
	merged := make([]Message, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})

	out := merged[:0]
	pos := make(map[string]int, len(merged))
	for _, m := range merged {
		if i, seen := pos[m.ID]; seen {
			out[i] = m // same ID ⇒ same timestamp; later copy wins in place
			continue
		}
		pos[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// diffNew returns the messages of `in` whose IDs are not present in `have`.
func diffNew(have, in []Message) []Message {
	ids := make(map[string]bool, len(have))
	for _, m := range have {
		ids[m.ID] = true
	}
	var fresh []Message
	for _, m := range in {
		if !ids[m.ID] {
			fresh = append(fresh, m)
		}
	}
	return fresh
}
