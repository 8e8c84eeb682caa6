package upload

import (
	"context"
)

// ProgressFunc receives the cumulative number of body bytes sent for the
// request in flight
type ProgressFunc func(sent int64)

// Transport performs single HTTP-like requests for the scheduler. A request
// is cancelled by cancelling ctx.
type Transport interface {
	Send(ctx context.Context, req *Request, progress ProgressFunc) (*Response, error)
}

// QueueState holds the pending-files list and per-file status bookkeeping.
// Dequeue removes the first file of ListQueued.
type QueueState interface {
	Enqueue(f *File)
	Dequeue() (*File, bool)
	MarkStatus(f *File, status Status)
	ListQueued() []*File
}

// Notifier receives scheduler events. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ev Event)

func (fn NotifierFunc) Notify(ev Event) { fn(ev) }

// MultiNotifier fans an event out to every notifier in order
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ev)
		}
	}
}
