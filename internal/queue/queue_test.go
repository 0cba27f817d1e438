package queue

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueueOrder(t *testing.T) {
	minQ := NewMin(4)
	maxQ := NewMax(4)
	for i, s := range []float32{3, 1, 4, 1, 5} {
		minQ.PushItem(Item{Label: int32(i), Score: s})
		maxQ.PushItem(Item{Label: int32(i), Score: s})
	}

	var asc, desc []float32
	for minQ.Len() > 0 {
		it, _ := minQ.PopItem()
		asc = append(asc, it.Score)
	}
	for maxQ.Len() > 0 {
		it, _ := maxQ.PopItem()
		desc = append(desc, it.Score)
	}
	assert.Equal(t, []float32{1, 1, 3, 4, 5}, asc)
	assert.Equal(t, []float32{5, 4, 3, 1, 1}, desc)

	_, ok := minQ.PopItem()
	assert.False(t, ok)
}

func TestPriorityQueueHeapInterface(t *testing.T) {
	pq := NewMin(0)
	heap.Push(pq, Item{Label: 1, Score: 2})
	heap.Push(pq, Item{Label: 2, Score: -1})
	heap.Push(pq, Item{Label: 3, Score: 0})

	it := heap.Pop(pq).(Item)
	assert.Equal(t, int32(2), it.Label)
	pq.Reset()
	assert.Equal(t, 0, pq.Len())
}

func TestTopK(t *testing.T) {
	top := NewTopK(3)
	for i, s := range []float32{-2, -0.5, -3, -0.1, -1, -0.5} {
		top.Offer(int32(i), s)
	}

	require.Equal(t, 3, top.Len())
	got := top.Sorted()
	assert.Equal(t, []Item{
		{Label: 3, Score: -0.1},
		{Label: 1, Score: -0.5},
		{Label: 5, Score: -0.5},
	}, got)

	m, ok := top.Min()
	require.True(t, ok)
	assert.Equal(t, float32(-0.5), m)
	assert.False(t, top.Beats(-0.6))
	assert.True(t, top.Beats(-0.5))
}

func TestTopKFewerThanK(t *testing.T) {
	top := NewTopK(5)
	top.Offer(7, -1)
	assert.False(t, top.Full())
	assert.Equal(t, []Item{{Label: 7, Score: -1}}, top.Sorted())
}
