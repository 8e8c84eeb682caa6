package upload

import (
	"fmt"
	"sort"
	"sync"
)

// PartQueue tracks the part indices of one multipart session. Every index is
// in exactly one of pending, in-flight or confirmed.
type PartQueue struct {
	mu        sync.Mutex
	total     int
	pending   []int
	inFlight  map[int]struct{}
	confirmed []int
}

// NewPartQueue creates a queue with indices 0..total-1 pending. The highest
// index is taken first.
func NewPartQueue(total int) *PartQueue {
	pending := make([]int, total)
	for i := range pending {
		pending[i] = i
	}
	return &PartQueue{
		total:    total,
		pending:  pending,
		inFlight: make(map[int]struct{}),
	}
}

// Take pops the top pending index and marks it in flight. It returns false
// when nothing is pending.
func (q *PartQueue) Take() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if n == 0 {
		return 0, false
	}
	index := q.pending[n-1]
	q.pending = q.pending[:n-1]
	q.inFlight[index] = struct{}{}
	return index, true
}

// Requeue puts an in-flight index back on top of the pending stack
func (q *PartQueue) Requeue(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inFlight[index]; !ok {
		return fmt.Errorf("part %d is not in flight", index)
	}
	delete(q.inFlight, index)
	q.pending = append(q.pending, index)
	return nil
}

// Confirm marks an in-flight index as uploaded and reports whether the
// session is now complete
func (q *PartQueue) Confirm(index int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inFlight[index]; !ok {
		return false, fmt.Errorf("part %d is not in flight", index)
	}
	delete(q.inFlight, index)
	q.confirmed = append(q.confirmed, index)
	return len(q.confirmed) == q.total, nil
}

// IsComplete holds when every part has been confirmed
func (q *PartQueue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.confirmed) == q.total
}

// Counts returns the size of each set
func (q *PartQueue) Counts() (pending, inFlight, confirmed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.inFlight), len(q.confirmed)
}

// Total is the number of parts in the session
func (q *PartQueue) Total() int {
	return q.total
}

// PartQueueSnapshot is a copy of the queue contents
type PartQueueSnapshot struct {
	Pending   []int
	InFlight  []int
	Confirmed []int
}

// Snapshot copies the current state. Pending keeps stack order (top last),
// the other lists are sorted.
func (q *PartQueue) Snapshot() PartQueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := PartQueueSnapshot{
		Pending:   append([]int(nil), q.pending...),
		Confirmed: append([]int(nil), q.confirmed...),
	}
	for i := range q.inFlight {
		s.InFlight = append(s.InFlight, i)
	}
	sort.Ints(s.InFlight)
	sort.Ints(s.Confirmed)
	return s
}
