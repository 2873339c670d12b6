package transport

import "container/heap"

type reorderEntry struct {
	seq  uint64
	item []byte
}

// reorderHeap is a min-heap on sequence number.
type reorderHeap []reorderEntry

func (h reorderHeap) Len() int           { return len(h) }
func (h reorderHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h reorderHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *reorderHeap) Push(x any) { *h = append(*h, x.(reorderEntry)) }

func (h *reorderHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = reorderEntry{}
	*h = old[:n-1]
	return e
}

// ReorderBuffer orders received playback items by sequence number. It is
// owned by the receive loop and is not safe for concurrent use.
type ReorderBuffer struct {
	h reorderHeap
}

// NewReorderBuffer returns an empty buffer.
func NewReorderBuffer() *ReorderBuffer {
	return &ReorderBuffer{}
}

// Push adds an item. Duplicate sequence numbers are kept and delivered
// adjacently.
func (b *ReorderBuffer) Push(seq uint64, item []byte) {
	heap.Push(&b.h, reorderEntry{seq: seq, item: item})
}

// Len returns the number of buffered items.
func (b *ReorderBuffer) Len() int {
	return b.h.Len()
}

// Drain removes every item and returns them in ascending sequence order.
func (b *ReorderBuffer) Drain() [][]byte {
	if b.h.Len() == 0 {
		return nil
	}
	out := make([][]byte, 0, b.h.Len())
	for b.h.Len() > 0 {
		out = append(out, heap.Pop(&b.h).(reorderEntry).item)
	}
	return out
}
