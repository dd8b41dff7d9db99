package suggest

import "container/heap"

type cursor struct {
	list int
	pos  int
}

type mergeHeap struct {
	lists   [][]RankedCompletion
	cursors []cursor
}

func (h *mergeHeap) head(i int) RankedCompletion {
	c := h.cursors[i]
	return h.lists[c.list][c.pos]
}

func (h *mergeHeap) Len() int { return len(h.cursors) }

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.head(i), h.head(j)
	if a.Score != b.Score || a.SurfaceForm != b.SurfaceForm {
		return before(a, b)
	}
	return h.cursors[i].list < h.cursors[j].list
}

func (h *mergeHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }

func (h *mergeHeap) Push(x any) { h.cursors = append(h.cursors, x.(cursor)) }

func (h *mergeHeap) Pop() any {
	old := h.cursors
	n := len(old)
	c := old[n-1]
	h.cursors = old[:n-1]
	return c
}

// MergePartitions merges per-partition ranked lists into one list of at most
// size results. Each input must already be in result order. With
// skipDuplicates a surface form is kept only once across all partitions.
func MergePartitions(lists [][]RankedCompletion, size int, skipDuplicates bool) []RankedCompletion {
	if size <= 0 {
		return nil
	}
	h := &mergeHeap{lists: lists}
	for i, l := range lists {
		if len(l) > 0 {
			h.cursors = append(h.cursors, cursor{list: i})
		}
	}
	heap.Init(h)

	var seen map[string]bool
	if skipDuplicates {
		seen = make(map[string]bool)
	}
	out := make([]RankedCompletion, 0, size)
	for h.Len() > 0 && len(out) < size {
		rc := h.head(0)
		c := &h.cursors[0]
		c.pos++
		if c.pos == len(lists[c.list]) {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
		if skipDuplicates {
			if seen[rc.SurfaceForm] {
				continue
			}
			seen[rc.SurfaceForm] = true
		}
		out = append(out, rc)
	}
	return out
}
