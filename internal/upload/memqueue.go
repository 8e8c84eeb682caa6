package upload

import "sync"

// MemoryQueue is an in-process QueueState
type MemoryQueue struct {
	mu       sync.Mutex
	queued   []*File
	statuses map[*File]Status
	uploaded []*File
}

// NewMemoryQueue creates a queue holding files in order
func NewMemoryQueue(files ...*File) *MemoryQueue {
	q := &MemoryQueue{statuses: make(map[*File]Status)}
	for _, f := range files {
		q.Enqueue(f)
	}
	return q
}

// Enqueue appends f and marks it queued
func (q *MemoryQueue) Enqueue(f *File) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = append(q.queued, f)
	q.statuses[f] = StatusQueued
}

// Dequeue removes and returns the first queued file
func (q *MemoryQueue) Dequeue() (*File, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queued) == 0 {
		return nil, false
	}
	f := q.queued[0]
	q.queued = q.queued[1:]
	return f, true
}

// MarkStatus records the status of f
func (q *MemoryQueue) MarkStatus(f *File, status Status) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses[f] = status
	if status == StatusUploaded {
		q.uploaded = append(q.uploaded, f)
	}
}

// ListQueued returns a copy of the queued files in order
func (q *MemoryQueue) ListQueued() []*File {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*File(nil), q.queued...)
}

// Status returns the last status recorded for f
func (q *MemoryQueue) Status(f *File) Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statuses[f]
}

// Uploaded lists the files that reached StatusUploaded, in order
func (q *MemoryQueue) Uploaded() []*File {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*File(nil), q.uploaded...)
}
