package upload

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// outstanding counts the active asynchronous operations of one task.
// onZero runs once, when the last reference is released.
type outstanding struct {
	mu     sync.Mutex
	n      int
	onZero func()
}

func (o *outstanding) acquire() {
	o.mu.Lock()
	o.n++
	o.mu.Unlock()
}

func (o *outstanding) release() {
	o.mu.Lock()
	o.n--
	zero := o.n == 0
	o.mu.Unlock()
	if zero && o.onZero != nil {
		o.onZero()
	}
}

// task is one file moving through the scheduler
type task struct {
	id   string
	file *File

	// ctx covers every transport call of the task; cancel aborts them all
	ctx    context.Context
	cancel context.CancelFunc
	ops    outstanding

	mu       sync.Mutex
	status   Status
	cfg      UploadConfig
	session  *MultipartSession
	parts    *PartQueue
	sem      *semaphore.Weighted
	attempts map[int]int
	backoffs map[int]backoff.BackOff
}

func newTask(f *File) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:       uuid.NewString(),
		file:     f,
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusQueued,
		attempts: make(map[int]int),
		backoffs: make(map[int]backoff.BackOff),
	}
	// the task holds its own reference until it reaches a terminal state
	t.ops.n = 1
	return t
}

// setStatus moves the task to a non-terminal status. It refuses once the
// task is terminal.
func (t *task) setStatus(s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	t.status = s
	return true
}

// terminate moves the task to a terminal status exactly once
func (t *task) terminate(s Status) bool {
	return t.setStatus(s)
}
