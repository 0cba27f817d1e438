// Package queue provides the bounded heaps used for top-k label selection.
package queue

import (
	"container/heap"
	"slices"
)

// Compile time check to ensure PriorityQueue satisfies the heap interface.
var _ heap.Interface = (*PriorityQueue)(nil)

// Item is a scored label.
type Item struct {
	Label int32   // Label is the label id.
	Score float32 // Score is the log-probability of the label.
}

// PriorityQueue is a value-based binary heap of Items.
type PriorityQueue struct {
	isMaxHeap bool
	items     []Item
}

// NewMin initializes a new priority queue with the lowest score on top.
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{items: make([]Item, 0, capacity)}
}

// NewMax initializes a new priority queue with the highest score on top.
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{isMaxHeap: true, items: make([]Item, 0, capacity)}
}

// TopItem returns the top element of the heap.
func (pq *PriorityQueue) TopItem() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	return pq.items[0], true
}

// PushItem inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) PushItem(item Item) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PopItem removes and returns the top element while maintaining the heap invariant.
func (pq *PriorityQueue) PopItem() (Item, bool) {
	n := len(pq.items)
	if n == 0 {
		return Item{}, false
	}
	root := pq.items[0]
	last := pq.items[n-1]
	pq.items = pq.items[:n-1]
	if n-1 > 0 {
		pq.items[0] = last
		pq.siftDown(0)
	}
	return root, true
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !pq.Less(i, p) {
			return
		}
		pq.items[i], pq.items[p] = pq.items[p], pq.items[i]
		i = p
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		r := l + 1
		if r < n && pq.Less(r, l) {
			best = r
		}
		if !pq.Less(best, i) {
			return
		}
		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}

// Len returns the number of elements in the priority queue.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// Less orders by score, then by label so equal scores pop deterministically.
func (pq *PriorityQueue) Less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	if a.Score != b.Score {
		if pq.isMaxHeap {
			return a.Score > b.Score
		}
		return a.Score < b.Score
	}
	return a.Label > b.Label
}

// Swap swaps the elements with indexes i and j.
func (pq *PriorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

// Push adds x to the priority queue.
func (pq *PriorityQueue) Push(x any) {
	pq.items = append(pq.items, x.(Item))
}

// Pop removes and returns the last element of the backing slice.
func (pq *PriorityQueue) Pop() any {
	n := len(pq.items)
	if n == 0 {
		return Item{}
	}
	item := pq.items[n-1]
	pq.items = pq.items[:n-1]
	return item
}

// Reset clears the priority queue for reuse.
func (pq *PriorityQueue) Reset() {
	pq.items = pq.items[:0]
}

// TopK keeps the k highest-scoring items seen so far.
type TopK struct {
	k    int
	heap *PriorityQueue
}

// NewTopK returns an empty selector for k items.
func NewTopK(k int) *TopK {
	return &TopK{k: k, heap: NewMin(k + 1)}
}

// Len returns the number of retained items.
func (t *TopK) Len() int { return t.heap.Len() }

// Full reports whether k items are retained.
func (t *TopK) Full() bool { return t.heap.Len() >= t.k }

// Min returns the weakest retained score.
func (t *TopK) Min() (float32, bool) {
	it, ok := t.heap.TopItem()
	return it.Score, ok
}

// Beats reports whether score would enter a full selector.
func (t *TopK) Beats(score float32) bool {
	if !t.Full() {
		return true
	}
	m, _ := t.Min()
	return score >= m
}

// Offer adds an item, evicting the weakest one when more than k are held.
func (t *TopK) Offer(label int32, score float32) {
	if !t.Beats(score) {
		return
	}
	t.heap.PushItem(Item{Label: label, Score: score})
	if t.heap.Len() > t.k {
		t.heap.PopItem()
	}
}

// Sorted returns the retained items by descending score. Equal scores are
// ordered by ascending label.
func (t *TopK) Sorted() []Item {
	out := slices.Clone(t.heap.items)
	slices.SortFunc(out, func(a, b Item) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return int(a.Label - b.Label)
		}
	})
	return out
}

// Reset empties the selector for reuse with the same k.
func (t *TopK) Reset() {
	t.heap.Reset()
}
