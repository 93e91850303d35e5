// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lease

import (
	"container/heap"
	"time"
)

// expiryQueue is a map-backed min-heap of (id, expiry) pairs, ordered
// by ascending expiry. It supports idempotent insert/update/remove in
// addition to the usual heap peek/pop, which container/heap does not
// provide directly.
//
// Tie-breaking on equal expiry is unspecified: find_expired_leases
// re-polls, so no caller depends on pop order among equal expiries.
type expiryQueue struct {
	items []*queueItem
	index map[ID]int // id -> position in items, for O(log n) update/remove
}

type queueItem struct {
	id     ID
	expiry time.Time
	pos    int
}

func newExpiryQueue() *expiryQueue {
	return &expiryQueue{index: make(map[ID]int)}
}

// Insert adds id with the given expiry, or overwrites its existing
// entry. It returns the prior expiry and true if id was already
// present.
func (q *expiryQueue) Insert(id ID, expiry time.Time) (time.Time, bool) {
	if pos, ok := q.index[id]; ok {
		prev := q.items[pos].expiry
		q.items[pos].expiry = expiry
		heap.Fix((*heapAdapter)(q), pos)
		return prev, true
	}
	heap.Push((*heapAdapter)(q), &queueItem{id: id, expiry: expiry})
	return time.Time{}, false
}

// Update overwrites the expiry of an existing entry; it is a no-op if
// id is absent.
func (q *expiryQueue) Update(id ID, expiry time.Time) {
	if pos, ok := q.index[id]; ok {
		q.items[pos].expiry = expiry
		heap.Fix((*heapAdapter)(q), pos)
	}
}

// Remove deletes id from the queue, if present.
func (q *expiryQueue) Remove(id ID) {
	if pos, ok := q.index[id]; ok {
		heap.Remove((*heapAdapter)(q), pos)
	}
}

// Peek returns the earliest expiry in the queue without removing it,
// and false if the queue is empty.
func (q *expiryQueue) Peek() (time.Time, bool) {
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].expiry, true
}

// Pop removes and returns the id with the earliest expiry, and false
// if the queue is empty.
func (q *expiryQueue) Pop() (ID, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	item := heap.Pop((*heapAdapter)(q)).(*queueItem)
	return item.id, true
}

// Clear empties the queue.
func (q *expiryQueue) Clear() {
	q.items = nil
	q.index = make(map[ID]int)
}

// Len reports the number of entries in the queue.
func (q *expiryQueue) Len() int {
	return len(q.items)
}

// heapAdapter implements container/heap.Interface over expiryQueue's
// slice, keeping the id->position index in sync on every mutation.
type heapAdapter expiryQueue

func (h *heapAdapter) Len() int { return len(h.items) }

func (h *heapAdapter) Less(i, j int) bool {
	return h.items[i].expiry.Before(h.items[j].expiry)
}

func (h *heapAdapter) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].pos = i
	h.items[j].pos = j
	h.index[h.items[i].id] = i
	h.index[h.items[j].id] = j
}

func (h *heapAdapter) Push(x interface{}) {
	item := x.(*queueItem)
	item.pos = len(h.items)
	h.index[item.id] = item.pos
	h.items = append(h.items, item)
}

func (h *heapAdapter) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	delete(h.index, item.id)
	return item
}
