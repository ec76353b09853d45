package services

import (
	"container/heap"
	"time"
)

// QueueItem is one slot key waiting for the rate gate to admit it.
// EventStartsAt governs ordering; seq breaks ties by insertion order (the
// tie-break across targets is an open question, see DESIGN.md).
type QueueItem struct {
	SlotKey       string
	TargetID      string
	EventStartsAt time.Time

	seq   int
	index int
}

// PriorityQueue is the single per-engine priority queue keyed by
// eventStartsAt, soonest first, implemented as a min-heap.
type PriorityQueue struct {
	items  []*QueueItem
	nextSeq int
}

// NewPriorityQueue returns an empty queue.
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{}
	heap.Init(pq)
	return pq
}

// Len implements heap.Interface.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// Less implements heap.Interface: soonest eventStartsAt first, ties broken
// by stable insertion order.
func (pq *PriorityQueue) Less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	if !a.EventStartsAt.Equal(b.EventStartsAt) {
		return a.EventStartsAt.Before(b.EventStartsAt)
	}
	return a.seq < b.seq
}

// Swap implements heap.Interface.
func (pq *PriorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].index = i
	pq.items[j].index = j
}

// Push implements heap.Interface. Use Enqueue from outside this package.
func (pq *PriorityQueue) Push(x any) {
	item := x.(*QueueItem)
	item.index = len(pq.items)
	pq.items = append(pq.items, item)
}

// Pop implements heap.Interface. Use Dequeue from outside this package.
func (pq *PriorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	pq.items = old[:n-1]
	return item
}

// Enqueue adds slotKey to the queue with priority unchanged if it is
// already present (re-enqueue after a rate-limit response keeps original
// ordering).
func (pq *PriorityQueue) Enqueue(slotKey, targetID string, eventStartsAt time.Time) {
	for _, it := range pq.items {
		if it.SlotKey == slotKey {
			return
		}
	}
	item := &QueueItem{SlotKey: slotKey, TargetID: targetID, EventStartsAt: eventStartsAt, seq: pq.nextSeq}
	pq.nextSeq++
	heap.Push(pq, item)
}

// Peek returns the head of the queue without removing it.
func (pq *PriorityQueue) Peek() (*QueueItem, bool) {
	if len(pq.items) == 0 {
		return nil, false
	}
	return pq.items[0], true
}

// Dequeue removes and returns the head of the queue.
func (pq *PriorityQueue) Dequeue() (*QueueItem, bool) {
	if len(pq.items) == 0 {
		return nil, false
	}
	item := heap.Pop(pq).(*QueueItem)
	return item, true
}

// Remove removes slotKey from the queue if present (used by Cancel, which
// clears its timer and dequeues its id from the rate gate).
func (pq *PriorityQueue) Remove(slotKey string) bool {
	for i, it := range pq.items {
		if it.SlotKey == slotKey {
			heap.Remove(pq, i)
			return true
		}
	}
	return false
}

// Contains reports whether slotKey is currently queued.
func (pq *PriorityQueue) Contains(slotKey string) bool {
	for _, it := range pq.items {
		if it.SlotKey == slotKey {
			return true
		}
	}
	return false
}
