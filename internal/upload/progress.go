package upload

import "sync"

// Progress aggregates upload progress into events. Direct transfers report
// bytes; multipart sessions report whole confirmed parts only.
type Progress struct {
	mu       sync.Mutex
	notifier Notifier

	// indexOffset is the size of every finished direct transfer, so the
	// aggregate keeps growing across sequential files
	indexOffset int64
	inFlight    int64
	total       int64
}

// NewProgress creates an aggregator emitting to n
func NewProgress(n Notifier) *Progress {
	return &Progress{notifier: n}
}

// Bytes returns the aggregate direct-transfer bytes done and expected
func (p *Progress) Bytes() (done, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indexOffset + p.inFlight, p.total
}

// StartTransfer registers a direct transfer of f
func (p *Progress) StartTransfer(f *File) *ByteTracker {
	p.mu.Lock()
	p.total += f.Size
	p.mu.Unlock()
	return &ByteTracker{progress: p, file: f, max: f.Size}
}

// PartConfirmed emits the part-granularity progress of a session
func (p *Progress) PartConfirmed(f *File, s *MultipartSession, confirmed, total int) {
	p.emit(Event{
		Type:    EventProgressParts,
		File:    f,
		Session: s,
		Done:    int64(confirmed),
		Total:   int64(total),
	})
}

func (p *Progress) emit(ev Event) {
	if p.notifier != nil {
		p.notifier.Notify(ev)
	}
}

// ByteTracker follows one direct transfer
type ByteTracker struct {
	progress *Progress
	file     *File
	max      int64
	loaded   int64
	closed   bool
}

// Report records the cumulative bytes sent, clamped to the file size
func (t *ByteTracker) Report(sent int64) {
	p := t.progress
	p.mu.Lock()
	if t.closed {
		p.mu.Unlock()
		return
	}
	loaded := min(sent, t.max)
	if loaded <= t.loaded {
		p.mu.Unlock()
		return
	}
	p.inFlight += loaded - t.loaded
	t.loaded = loaded
	done, total := p.indexOffset+p.inFlight, p.total
	p.mu.Unlock()

	p.emit(Event{Type: EventProgressBytes, File: t.file, Done: done, Total: total})
}

// Finish moves the transfer into the index offset
func (t *ByteTracker) Finish() {
	t.close(true)
}

// Fail withdraws the transfer from the aggregate
func (t *ByteTracker) Fail() {
	t.close(false)
}

func (t *ByteTracker) close(ok bool) {
	p := t.progress
	p.mu.Lock()
	if t.closed {
		p.mu.Unlock()
		return
	}
	t.closed = true
	p.inFlight -= t.loaded
	if ok {
		p.indexOffset += t.max
	} else {
		p.total -= t.max
	}
	done, total := p.indexOffset+p.inFlight, p.total
	p.mu.Unlock()

	p.emit(Event{Type: EventProgressBytes, File: t.file, Done: done, Total: total})
}
