package gtxqueue

import (
	"errors"
	"fmt"
)

// ErrQueueFull is the capacity-exceeded signal,
// for callers that report a failed Push as an error.
var ErrQueueFull = errors.New("transaction queue full")

// Queue is a binary max-heap of transactions keyed by fee,
// stored in an array whose capacity is fixed at construction.
//
// Transactions with equal fees are popped in the order they were pushed.
//
// Queue is not safe for concurrent use;
// the owner must guarantee single-writer access.
type Queue struct {
	items []Transaction
	n     int

	nextSeq uint64
}

// New returns an empty Queue holding at most capacity transactions.
// The backing array is allocated here and never grows.
func New(capacity int) *Queue {
	if capacity <= 0 {
		panic(fmt.Errorf("BUG: queue capacity must be positive, got %d", capacity))
	}
	return &Queue{
		items: make([]Transaction, capacity),
	}
}

// Len reports the number of queued transactions.
func (q *Queue) Len() int {
	return q.n
}

// Cap reports the fixed capacity.
func (q *Queue) Cap() int {
	return len(q.items)
}

// Push inserts txn and reports whether it was accepted.
// When the queue is at capacity, Push returns false and the queue is unchanged;
// the caller decides whether to drop txn.
func (q *Queue) Push(txn Transaction) bool {
	if q.n == len(q.items) {
		return false
	}

	txn.seq = q.nextSeq
	q.nextSeq++

	idx := q.n
	q.items[idx] = txn
	q.n++

	for idx > 0 {
		parent := (idx - 1) / 2
		if !q.higher(idx, parent) {
			break
		}
		q.items[idx], q.items[parent] = q.items[parent], q.items[idx]
		idx = parent
	}
	return true
}

// Pop removes and returns the highest-fee transaction.
// ok is false if the queue is empty.
func (q *Queue) Pop() (txn Transaction, ok bool) {
	if q.n == 0 {
		return Transaction{}, false
	}

	txn = q.items[0]
	q.n--
	q.items[0] = q.items[q.n]

	// Drop the vacated slot's payload reference.
	q.items[q.n] = Transaction{}

	idx := 0
	for {
		left := 2*idx + 1
		right := left + 1
		best := idx

		if left < q.n && q.higher(left, best) {
			best = left
		}
		if right < q.n && q.higher(right, best) {
			best = right
		}
		if best == idx {
			break
		}

		q.items[idx], q.items[best] = q.items[best], q.items[idx]
		idx = best
	}

	txn.seq = 0
	return txn, true
}

// Peek returns the highest-fee transaction without removing it.
// The pointer is only valid until the next Push or Pop.
func (q *Queue) Peek() (*Transaction, bool) {
	if q.n == 0 {
		return nil, false
	}
	return &q.items[0], true
}

// higher reports whether the entry at i must be popped before the entry at j.
func (q *Queue) higher(i, j int) bool {
	a, b := &q.items[i], &q.items[j]
	if a.Fee != b.Fee {
		return a.Fee > b.Fee
	}
	return a.seq < b.seq
}
