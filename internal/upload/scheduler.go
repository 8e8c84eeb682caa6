package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// Scheduler drives queued files through config resolution, session
// initiation, part transfer and completion verification. Files are advanced
// one per Upload call; the parts of one session are transferred concurrently.
type Scheduler struct {
	queue     QueueState
	resolver  ConfigResolver
	transport Transport
	progress  *Progress
	logger    *slog.Logger
	opts      Options

	mu    sync.Mutex
	tasks map[string]*task
	idle  chan struct{}

	// drain, while UploadAll runs, holds the files it may still start
	drain map[*File]struct{}

	pendingResolutions int
	// abortResolutions turns the eventual success of every pending
	// resolution into a failure
	abortResolutions bool
}

// NewScheduler creates a scheduler over the given queue, resolver and transport
func NewScheduler(queue QueueState, resolver ConfigResolver, transport Transport, opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = discardLogger()
	}

	idle := make(chan struct{})
	close(idle)

	return &Scheduler{
		queue:     queue,
		resolver:  resolver,
		transport: transport,
		progress:  NewProgress(o.Notifier),
		logger:    logger,
		opts:      o,
		tasks:     make(map[string]*task),
		idle:      idle,
	}
}

// Progress returns the aggregator fed by this scheduler
func (s *Scheduler) Progress() *Progress {
	return s.progress
}

// IsUploading reports whether any task is still running
func (s *Scheduler) IsUploading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks) > 0
}

// IsBusy reports whether a config resolution is pending
func (s *Scheduler) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingResolutions > 0
}

// Upload advances the next queued file. It returns false when nothing was
// started: the queue is empty, an abort is still pending over unsettled
// resolutions, or a running UploadAll has started every file it covers.
func (s *Scheduler) Upload() bool {
	s.mu.Lock()
	if s.abortResolutions || !s.drainAllowsNext() {
		s.mu.Unlock()
		return false
	}
	f, ok := s.queue.Dequeue()
	if !ok {
		s.mu.Unlock()
		return false
	}
	if s.drain != nil {
		delete(s.drain, f)
	}
	t := newTask(f)
	t.ops.onZero = func() { s.finish(t) }
	if len(s.tasks) == 0 {
		s.idle = make(chan struct{})
	}
	s.tasks[t.id] = t
	s.mu.Unlock()

	s.setStatus(t, StatusResolving)
	s.logger.Debug("resolving upload config", "file", f.Name, "task_id", t.id)

	res := s.resolver(f)
	if res == nil {
		s.resolveFailed(t, ErrNoResolution)
		return true
	}

	t.ops.acquire()
	if res.Settled() {
		go s.resolved(t, res, false)
		return true
	}

	s.mu.Lock()
	s.pendingResolutions++
	s.mu.Unlock()
	go func() {
		<-res.Done()
		s.resolved(t, res, true)
	}()
	return true
}

// UploadAll uploads, one after the other, every file queued when it is
// called. Each of those files is attempted once, batch configs included.
// Files that fail are back in the queue when it returns. Calls must not
// overlap.
func (s *Scheduler) UploadAll(ctx context.Context) error {
	s.mu.Lock()
	s.drain = make(map[*File]struct{})
	for _, f := range s.queue.ListQueued() {
		s.drain[f] = struct{}{}
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.drain = nil
		s.mu.Unlock()
	}()

	for s.Upload() {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// drainAllowsNext reports whether the head of the queue may be started.
// Callers hold s.mu.
func (s *Scheduler) drainAllowsNext() bool {
	if s.drain == nil {
		return true
	}
	next := s.queue.ListQueued()
	if len(next) == 0 {
		return false
	}
	_, ok := s.drain[next[0]]
	return ok
}

// Wait blocks until no task is running or ctx is done
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort cancels every in-flight transfer. Resolutions still pending will
// fail when they settle instead of starting a transfer. The server side of
// open sessions is not cleaned up.
func (s *Scheduler) Abort() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	if s.pendingResolutions > 0 {
		s.abortResolutions = true
	}
	s.mu.Unlock()

	s.logger.Warn("aborting uploads", "tasks", len(tasks))
	for _, t := range tasks {
		t.cancel()
	}
}

// AbortFile cancels the task uploading f, if any
func (s *Scheduler) AbortFile(f *File) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.file == f {
			t.cancel()
			return true
		}
	}
	return false
}

func (s *Scheduler) resolved(t *task, res *Resolution, pending bool) {
	defer t.ops.release()

	aborted := false
	if pending {
		s.mu.Lock()
		s.pendingResolutions--
		aborted = s.abortResolutions
		if s.pendingResolutions == 0 {
			s.abortResolutions = false
		}
		s.mu.Unlock()
	}

	cfg, err := res.Result()
	if err == nil && (aborted || t.ctx.Err() != nil) {
		err = ErrAborted
	}
	if err != nil {
		s.resolveFailed(t, err)
		return
	}

	s.start(t, cfg.withDefaults())
}

func (s *Scheduler) resolveFailed(t *task, err error) {
	if !t.terminate(StatusFailed) {
		return
	}
	f := t.file
	s.queue.Enqueue(f)
	s.queue.MarkStatus(f, StatusFailed)
	s.logger.Error("upload config resolution failed", "file", f.Name, "task_id", t.id, "error", err)
	s.notify(Event{Type: EventFactoryFailed, File: f, Err: err})
	t.ops.release()
}

func (s *Scheduler) start(t *task, cfg UploadConfig) {
	f := t.file
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()

	if cfg.URL == "" {
		s.fail(t, newError("resolve", f, ErrMissingDestination), nil)
		return
	}
	if !s.setStatus(t, StatusInitiating) {
		return
	}

	plan, err := PlanParts(f.Size, cfg.PartSize, cfg.MaxParts)
	if err != nil {
		s.fail(t, newError("plan", f, err), nil)
		return
	}
	if plan.Direct {
		s.uploadDirect(t, cfg)
		return
	}
	s.initiate(t, cfg, plan)
}

func (s *Scheduler) uploadDirect(t *task, cfg UploadConfig) {
	t.ops.acquire()
	defer t.ops.release()

	f := t.file
	if !s.setStatus(t, StatusUploading) {
		return
	}
	tracker := s.progress.StartTransfer(f)
	s.notify(Event{Type: EventUploading, File: f})
	s.logger.Info("direct upload started", "file", f.Name, "task_id", t.id, "size", f.Size)

	resp, err := s.transport.Send(t.ctx, &Request{
		Method:  cfg.Method,
		URL:     cfg.URL,
		Headers: withContentType(cfg.Headers, f),
		Body:    io.NewSectionReader(f.Source, 0, f.Size),
		Size:    f.Size,
	}, tracker.Report)
	if e := responseError("direct", f, resp, err, (*Response).OK); e != nil {
		tracker.Fail()
		s.fail(t, e, resp)
		return
	}
	tracker.Finish()
	s.succeed(t, resp)
}

func (s *Scheduler) initiate(t *task, cfg UploadConfig, plan Plan) {
	t.ops.acquire()
	defer t.ops.release()

	f := t.file
	url := appendQuery(cfg.URL, fmt.Sprintf("uploads&size=%d&partSize=%d", f.Size, plan.PartSize))
	s.logger.Debug("initiating multipart session", "file", f.Name, "task_id", t.id, "url", url)

	resp, err := s.transport.Send(t.ctx, &Request{
		Method:  http.MethodPost,
		URL:     url,
		Headers: cfg.Headers,
	}, nil)
	if e := responseError("initiate", f, resp, err, (*Response).OK); e != nil {
		s.fail(t, e, resp)
		return
	}

	var session MultipartSession
	if err := json.Unmarshal(resp.Body, &session); err != nil {
		s.fail(t, newError("initiate", f, fmt.Errorf("decode session: %w", err)), resp)
		return
	}
	if err := checkLayout(&session, f.Size, cfg.MaxParts); err != nil {
		s.fail(t, newError("initiate", f, err), resp)
		return
	}

	t.mu.Lock()
	t.session = &session
	t.parts = NewPartQueue(session.PartCount())
	if s.opts.MaxConcurrentParts > 0 {
		t.sem = semaphore.NewWeighted(int64(s.opts.MaxConcurrentParts))
	}
	t.mu.Unlock()

	if !s.setStatus(t, StatusTransferring) {
		return
	}
	s.logger.Info("multipart upload started", "file", f.Name, "task_id", t.id,
		"parts", session.PartCount(), "part_size", session.PartSize)
	s.notify(Event{Type: EventMultipartStarted, File: f, Session: &session})
	s.notify(Event{Type: EventUploading, File: f, Session: &session})

	s.dispatch(t)
}

// dispatch starts a transfer for every pending part
func (s *Scheduler) dispatch(t *task) {
	for t.ctx.Err() == nil {
		index, ok := t.parts.Take()
		if !ok {
			return
		}
		t.ops.acquire()
		go s.transferPart(t, index)
	}
}

func (s *Scheduler) transferPart(t *task, index int) {
	defer t.ops.release()

	f := t.file
	t.mu.Lock()
	session, cfg, sem := t.session, t.cfg, t.sem
	t.mu.Unlock()

	if sem != nil {
		if err := sem.Acquire(t.ctx, 1); err != nil {
			_ = t.parts.Requeue(index)
			s.fail(t, &Error{Op: "part", File: f.Name, Part: index, Err: err}, nil)
			return
		}
		defer sem.Release(1)
	}

	part := session.Part(index)
	resp, err := s.transport.Send(t.ctx, &Request{
		Method:  http.MethodPut,
		URL:     appendQuery(session.Links.Self, "partNumber="+strconv.Itoa(index)),
		Headers: cfg.Headers,
		Body:    io.NewSectionReader(f.Source, part.Offset, part.Size),
		Size:    part.Size,
	}, nil)
	if e := responseError("part", f, resp, err, statusOK); e != nil {
		e.Part = index
		s.partFailed(t, index, e, resp)
		return
	}

	complete, err := t.parts.Confirm(index)
	if err != nil {
		s.logger.Error("part confirmation out of order", "file", f.Name, "part", index, "error", err)
		return
	}
	_, _, confirmed := t.parts.Counts()
	s.logger.Debug("part uploaded", "file", f.Name, "task_id", t.id, "part", index)
	s.progress.PartConfirmed(f, session, confirmed, t.parts.Total())

	if complete {
		s.verify(t, session, cfg)
	}
}

// partFailed redrives a failed part after a backoff delay, or abandons the
// session once the part has used up its retries. The part goes back to
// pending only when it is about to be redriven or the session is abandoned.
func (s *Scheduler) partFailed(t *task, index int, e *Error, resp *Response) {
	f := t.file
	abandon := func() {
		_ = t.parts.Requeue(index)
		s.fail(t, e, resp)
	}
	if t.ctx.Err() != nil {
		abandon()
		return
	}

	t.mu.Lock()
	t.attempts[index]++
	attempts := t.attempts[index]
	b, ok := t.backoffs[index]
	if !ok {
		b = s.opts.Backoff()
		t.backoffs[index] = b
	}
	t.mu.Unlock()

	if attempts > s.opts.PartRetries {
		s.logger.Error("part failed, retries exhausted", "file", f.Name, "task_id", t.id,
			"part", index, "attempts", attempts, "error", e)
		abandon()
		return
	}
	delay := b.NextBackOff()
	if delay == backoff.Stop {
		abandon()
		return
	}

	s.logger.Warn("part failed, retrying", "file", f.Name, "task_id", t.id,
		"part", index, "attempt", attempts, "delay", delay, "error", e)
	t.ops.acquire()
	go func() {
		defer t.ops.release()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			_ = t.parts.Requeue(index)
			s.dispatch(t)
		case <-t.ctx.Done():
			abandon()
		}
	}()
}

func (s *Scheduler) verify(t *task, session *MultipartSession, cfg UploadConfig) {
	t.ops.acquire()
	defer t.ops.release()

	if t.ctx.Err() != nil || !s.setStatus(t, StatusVerifying) {
		return
	}
	f := t.file
	resp, err := VerifySession(t.ctx, s.transport, f, session, cfg.Headers)
	if err != nil {
		s.fail(t, err, resp)
		return
	}
	s.succeed(t, resp)
}

func (s *Scheduler) succeed(t *task, resp *Response) {
	if !t.terminate(StatusUploaded) {
		return
	}
	f := t.file
	s.queue.MarkStatus(f, StatusUploaded)
	s.logger.Info("upload completed", "file", f.Name, "task_id", t.id)
	s.notify(Event{Type: EventUploaded, File: f, Response: resp})

	t.mu.Lock()
	batch := t.cfg.Batch
	t.mu.Unlock()
	if batch {
		s.Upload()
	}
	t.ops.release()
}

func (s *Scheduler) fail(t *task, err error, resp *Response) {
	if !t.terminate(StatusFailed) {
		return
	}
	t.cancel()
	f := t.file
	s.queue.Enqueue(f)
	s.queue.MarkStatus(f, StatusFailed)
	s.logger.Error("upload failed", "file", f.Name, "task_id", t.id, "error", err)
	s.notify(Event{Type: EventFailed, File: f, Err: err, Response: resp})
	t.ops.release()
}

// finish runs once the task is terminal and every operation has returned
func (s *Scheduler) finish(t *task) {
	t.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, t.id)
	if len(s.tasks) == 0 {
		close(s.idle)
	}
}

func (s *Scheduler) setStatus(t *task, status Status) bool {
	if !t.setStatus(status) {
		return false
	}
	s.queue.MarkStatus(t.file, status)
	return true
}

func (s *Scheduler) notify(ev Event) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.Notify(ev)
	}
}

// checkLayout rejects a session whose parts do not tile exactly size bytes
// in at most maxParts parts
func checkLayout(session *MultipartSession, size int64, maxParts int) error {
	malformed := func(reason string) error {
		return fmt.Errorf("malformed session (%s): part_size=%d last_part_number=%d last_part_size=%d self=%q",
			reason, session.PartSize, session.LastPartNumber, session.LastPartSize, session.Links.Self)
	}
	switch {
	case session.Links.Self == "":
		return malformed("missing self link")
	case session.PartSize <= 0:
		return malformed("part size must be positive")
	case session.LastPartNumber < 0 || session.LastPartNumber >= maxParts:
		return malformed(fmt.Sprintf("part count must be within [1, %d]", maxParts))
	case session.LastPartSize <= 0 || session.LastPartSize > session.PartSize:
		return malformed("last part size must be within (0, part_size]")
	}
	rest := size - session.LastPartSize
	if rest < 0 || rest%session.PartSize != 0 || rest/session.PartSize != int64(session.LastPartNumber) {
		return malformed(fmt.Sprintf("layout does not cover %d bytes", size))
	}
	return nil
}

func statusOK(r *Response) bool {
	return r != nil && r.StatusCode == http.StatusOK
}

func appendQuery(url, query string) string {
	if strings.Contains(url, "?") {
		return url + "&" + query
	}
	return url + "?" + query
}

func withContentType(headers []Header, f *File) []Header {
	if f.ContentType == "" {
		return headers
	}
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Content-Type") {
			return headers
		}
	}
	out := make([]Header, 0, len(headers)+1)
	out = append(out, headers...)
	return append(out, Header{Name: "Content-Type", Value: f.ContentType})
}
