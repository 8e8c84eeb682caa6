package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://api.example/files/obj"

// sessionServer fakes the multipart session resource
type sessionServer struct {
	mu        sync.Mutex
	received  map[int]int
	completed bool
	// failures is the number of times each part index is rejected
	failures map[int]int
	// partHook runs before a part is answered
	partHook func(ctx context.Context, index int)
}

func newSessionServer() *sessionServer {
	return &sessionServer{received: make(map[int]int), failures: make(map[int]int)}
}

const sessionSelf = testURL + "?uploadId=u-1"

func (s *sessionServer) handle(ctx context.Context, req recordedRequest) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()

	switch {
	case req.Method == http.MethodPost && q.Has("uploads"):
		size, _ := strconv.ParseInt(q.Get("size"), 10, 64)
		partSize, _ := strconv.ParseInt(q.Get("partSize"), 10, 64)
		last := (size+partSize-1)/partSize - 1
		body, _ := json.Marshal(MultipartSession{
			PartSize:       partSize,
			LastPartNumber: int(last),
			LastPartSize:   size - last*partSize,
			Links:          SessionLinks{Self: sessionSelf},
		})
		return &Response{StatusCode: http.StatusOK, Body: body}, nil

	case req.Method == http.MethodPut:
		index, _ := strconv.Atoi(q.Get("partNumber"))
		if s.partHook != nil {
			s.partHook(ctx, index)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failures[index] > 0 {
			s.failures[index]--
			return jsonResponse(http.StatusInternalServerError, `{}`), nil
		}
		s.received[index] = int(req.Size)
		return okResponse, nil

	case req.Method == http.MethodGet:
		s.mu.Lock()
		defer s.mu.Unlock()
		parts := make([]string, 0, len(s.received))
		for i := range s.received {
			parts = append(parts, fmt.Sprintf(`{"part_number":%d}`, i))
		}
		return jsonResponse(http.StatusOK, fmt.Sprintf(`{"parts":[%s],"completed":%t}`,
			strings.Join(parts, ","), s.completed)), nil

	case req.Method == http.MethodPost:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.completed = true
		return jsonResponse(http.StatusOK, `{"completed":true}`), nil
	}
	return jsonResponse(http.StatusMethodNotAllowed, `{}`), nil
}

func zeroBackoff() backoff.BackOff {
	return &backoff.ZeroBackOff{}
}

func newTestScheduler(q QueueState, resolver ConfigResolver, tr Transport, rec *recorder, opts ...Option) *Scheduler {
	base := []Option{WithNotifier(rec), WithBackoff(zeroBackoff)}
	return NewScheduler(q, resolver, tr, append(base, opts...)...)
}

func TestScheduler_DirectTransfer(t *testing.T) {
	f := newTestFile("small.bin", 5*mb)
	f.ContentType = "application/octet-stream"
	q := NewMemoryQueue(f)
	tr := &fakeTransport{handle: func(context.Context, recordedRequest) (*Response, error) {
		return okResponse, nil
	}}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL, PartSize: 10 * mb}), tr, rec)

	require.True(t, s.Upload())
	waitIdle(t, s)

	reqs := tr.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, testURL, reqs[0].URL)
	assert.Len(t, reqs[0].Body, int(5*mb))
	assert.Contains(t, reqs[0].Headers, Header{Name: "Content-Type", Value: "application/octet-stream"})

	assert.Equal(t, StatusUploaded, q.Status(f))
	assert.Empty(t, q.ListQueued())
	assert.Len(t, rec.ofType(EventUploading), 1)
	assert.Len(t, rec.ofType(EventUploaded), 1)
	assert.Empty(t, rec.ofType(EventMultipartStarted))

	done, total := s.Progress().Bytes()
	assert.Equal(t, int64(5*mb), done)
	assert.Equal(t, int64(5*mb), total)
	assert.False(t, s.IsUploading())
}

func TestScheduler_DirectTransferFailureRequeues(t *testing.T) {
	f := newTestFile("small.bin", 1024)
	q := NewMemoryQueue(f)
	tr := &fakeTransport{handle: func(context.Context, recordedRequest) (*Response, error) {
		return jsonResponse(http.StatusForbidden, `{"message":"no"}`), nil
	}}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL}), tr, rec)

	require.True(t, s.Upload())
	waitIdle(t, s)

	assert.Equal(t, StatusFailed, q.Status(f))
	assert.Equal(t, []*File{f}, q.ListQueued())

	failed := rec.ofType(EventFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrUnexpectedStatus)
	require.NotNil(t, failed[0].Response)
	assert.Equal(t, http.StatusForbidden, failed[0].Response.StatusCode)

	done, total := s.Progress().Bytes()
	assert.Zero(t, done)
	assert.Zero(t, total)
}

func TestScheduler_MultipartSession(t *testing.T) {
	f := newTestFile("big.bin", 25*mb)
	q := NewMemoryQueue(f)
	srv := newSessionServer()
	tr := &fakeTransport{handle: srv.handle}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL, PartSize: 10 * mb, MaxParts: 10000}), tr, rec)

	require.True(t, s.Upload())
	waitIdle(t, s)

	assert.Equal(t, StatusUploaded, q.Status(f))

	reqs := tr.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, fmt.Sprintf("%s?uploads&size=%d&partSize=%d", testURL, 25*mb, 10*mb), reqs[0].URL)

	data := make([]byte, f.Size)
	_, err := f.Source.ReadAt(data, 0)
	require.NoError(t, err)
	for _, r := range reqs {
		if r.Method != http.MethodPut {
			continue
		}
		index, err := strconv.Atoi(r.URL[strings.LastIndex(r.URL, "=")+1:])
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(r.URL, sessionSelf+"&partNumber="))
		start := int64(index) * 10 * mb
		end := min(start+10*mb, f.Size)
		assert.Equal(t, data[start:end], r.Body, "part %d", index)
	}
	assert.Equal(t, 3, tr.count(http.MethodPut, sessionSelf))
	assert.Equal(t, map[int]int{0: 10 * mb, 1: 10 * mb, 2: 5 * mb}, srv.received)
	assert.Equal(t, 1, tr.count(http.MethodGet, sessionSelf))
	assert.True(t, srv.completed)

	started := rec.ofType(EventMultipartStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 3, started[0].Session.PartCount())

	parts := rec.ofType(EventProgressParts)
	require.Len(t, parts, 3)
	for _, ev := range parts {
		assert.Equal(t, int64(3), ev.Total)
	}
	assert.Len(t, rec.ofType(EventUploaded), 1)
	assert.Empty(t, rec.ofType(EventProgressBytes), "multipart progress is part granular")
}

func TestScheduler_PartFailureWithoutRedrive(t *testing.T) {
	f := newTestFile("big.bin", 25*mb)
	q := NewMemoryQueue(f)
	srv := newSessionServer()
	srv.failures[1] = 1
	tr := &fakeTransport{handle: srv.handle}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL, PartSize: 10 * mb}), tr, rec, WithPartRetries(0))

	require.True(t, s.Upload())
	waitIdle(t, s)

	assert.Equal(t, 1, tr.count(http.MethodPut, sessionSelf+"&partNumber=1"))
	assert.Zero(t, tr.count(http.MethodGet, sessionSelf), "verification never starts")
	assert.False(t, srv.completed)
	assert.NotContains(t, srv.received, 1)

	failed := rec.ofType(EventFailed)
	require.Len(t, failed, 1)
	var uerr *Error
	require.ErrorAs(t, failed[0].Err, &uerr)
	assert.Equal(t, "part", uerr.Op)
	assert.Equal(t, 1, uerr.Part)
	assert.Equal(t, http.StatusInternalServerError, uerr.StatusCode)

	assert.Equal(t, StatusFailed, q.Status(f))
	assert.Equal(t, []*File{f}, q.ListQueued())
}

func TestScheduler_PartRedrive(t *testing.T) {
	f := newTestFile("big.bin", 25*mb)
	q := NewMemoryQueue(f)
	srv := newSessionServer()
	srv.failures[1] = 2
	tr := &fakeTransport{handle: srv.handle}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL, PartSize: 10 * mb}), tr, rec, WithPartRetries(2))

	require.True(t, s.Upload())
	waitIdle(t, s)

	assert.Equal(t, StatusUploaded, q.Status(f))
	assert.Equal(t, 3, tr.count(http.MethodPut, sessionSelf+"&partNumber=1"))
	assert.True(t, srv.completed)
	assert.Empty(t, rec.ofType(EventFailed))
}

func TestScheduler_PartRetriesExhausted(t *testing.T) {
	f := newTestFile("big.bin", 25*mb)
	q := NewMemoryQueue(f)
	srv := newSessionServer()
	srv.failures[0] = 100
	tr := &fakeTransport{handle: srv.handle}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL, PartSize: 10 * mb}), tr, rec, WithPartRetries(2))

	require.True(t, s.Upload())
	waitIdle(t, s)

	assert.Equal(t, 3, tr.count(http.MethodPut, sessionSelf+"&partNumber=0"))
	assert.Equal(t, StatusFailed, q.Status(f))
	assert.Len(t, rec.ofType(EventFailed), 1)
	assert.Zero(t, tr.count(http.MethodGet, sessionSelf))
}

func TestScheduler_PartSizeGrowsToMaxParts(t *testing.T) {
	f := &File{Name: "huge.bin", Size: 100 * mb, Source: zeroReader{}}
	q := NewMemoryQueue(f)
	srv := newSessionServer()
	tr := &fakeTransport{handle: srv.handle, discardBodies: true}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL, PartSize: 1 * mb, MaxParts: 50}), tr, rec)

	require.True(t, s.Upload())
	waitIdle(t, s)

	reqs := tr.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, fmt.Sprintf("%s?uploads&size=%d&partSize=%d", testURL, 100*mb, 2*mb), reqs[0].URL)
	assert.Equal(t, 50, tr.count(http.MethodPut, sessionSelf))
	assert.Equal(t, StatusUploaded, q.Status(f))
}

func TestScheduler_AbortDuringPendingResolution(t *testing.T) {
	f := newTestFile("doc.pdf", 1024)
	q := NewMemoryQueue(f)
	tr := &fakeTransport{handle: func(context.Context, recordedRequest) (*Response, error) {
		return okResponse, nil
	}}
	rec := &recorder{}
	release := make(chan struct{})
	resolver := Async(context.Background(), func(ctx context.Context, f *File) (UploadConfig, error) {
		<-release
		return UploadConfig{URL: testURL}, nil
	})
	s := newTestScheduler(q, resolver, tr, rec)

	require.True(t, s.Upload())
	assert.True(t, s.IsBusy())
	assert.Equal(t, StatusResolving, q.Status(f))

	s.Abort()
	q.Enqueue(newTestFile("other.bin", 10))
	assert.False(t, s.Upload(), "no new work while an abort is pending")

	close(release)
	waitIdle(t, s)

	assert.Empty(t, tr.Requests(), "no transfer after an aborted resolution")
	assert.Equal(t, StatusFailed, q.Status(f))
	assert.Contains(t, q.ListQueued(), f)
	ff := rec.ofType(EventFactoryFailed)
	require.Len(t, ff, 1)
	assert.ErrorIs(t, ff[0].Err, ErrAborted)
	assert.False(t, s.IsBusy())

	// the abort is disarmed once the resolution settled
	assert.True(t, s.Upload())
	waitIdle(t, s)
	assert.Len(t, tr.Requests(), 1)
}

func TestScheduler_ResolverFailures(t *testing.T) {
	boom := errors.New("token service down")
	tests := []struct {
		name     string
		resolver ConfigResolver
		wantErr  error
	}{
		{"nil resolution", func(*File) *Resolution { return nil }, ErrNoResolution},
		{"rejected resolution", func(*File) *Resolution { return Rejected(boom) }, boom},
		{"async rejection", Async(context.Background(), func(context.Context, *File) (UploadConfig, error) {
			return UploadConfig{}, boom
		}), boom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFile("a", 10)
			q := NewMemoryQueue(f)
			tr := &fakeTransport{handle: func(context.Context, recordedRequest) (*Response, error) {
				return okResponse, nil
			}}
			rec := &recorder{}
			s := newTestScheduler(q, tt.resolver, tr, rec)

			require.True(t, s.Upload())
			waitIdle(t, s)

			assert.Empty(t, tr.Requests())
			assert.Equal(t, StatusFailed, q.Status(f))
			assert.Equal(t, []*File{f}, q.ListQueued())
			ff := rec.ofType(EventFactoryFailed)
			require.Len(t, ff, 1)
			assert.ErrorIs(t, ff[0].Err, tt.wantErr)
		})
	}
}

func TestScheduler_MissingDestination(t *testing.T) {
	f := newTestFile("a", 10)
	q := NewMemoryQueue(f)
	tr := &fakeTransport{handle: func(context.Context, recordedRequest) (*Response, error) {
		return okResponse, nil
	}}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{}), tr, rec)

	require.True(t, s.Upload())
	waitIdle(t, s)

	assert.Empty(t, tr.Requests())
	failed := rec.ofType(EventFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrMissingDestination)
	assert.Equal(t, StatusFailed, q.Status(f))
}

func TestScheduler_InitiationRejected(t *testing.T) {
	f := newTestFile("big.bin", 25*mb)
	q := NewMemoryQueue(f)
	tr := &fakeTransport{handle: func(context.Context, recordedRequest) (*Response, error) {
		return jsonResponse(http.StatusBadRequest, `{"message":"size too large"}`), nil
	}}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL}), tr, rec)

	require.True(t, s.Upload())
	waitIdle(t, s)

	assert.Len(t, tr.Requests(), 1)
	assert.Zero(t, tr.count(http.MethodPut, testURL))
	failed := rec.ofType(EventFailed)
	require.Len(t, failed, 1)
	var uerr *Error
	require.ErrorAs(t, failed[0].Err, &uerr)
	assert.Equal(t, "initiate", uerr.Op)
	assert.Equal(t, http.StatusBadRequest, uerr.StatusCode)
	assert.Equal(t, []*File{f}, q.ListQueued())
}

func TestScheduler_MalformedSession(t *testing.T) {
	const size = 25 * mb
	layout := func(partSize int64, lastPartNumber int, lastPartSize int64) string {
		return fmt.Sprintf(`{"part_size":%d,"last_part_number":%d,"last_part_size":%d,"links":{"self":%q}}`,
			partSize, lastPartNumber, lastPartSize, sessionSelf)
	}

	tests := []struct {
		name string
		body string
	}{
		{"zero part size", `{"part_size":0}`},
		{"missing self link", `{"part_size":10485760,"last_part_number":2,"last_part_size":5242880}`},
		{"overflowing part count", layout(10*mb, math.MaxInt, 1)},
		{"more parts than allowed", layout(1, size-1, 1)},
		{"negative part number", layout(10*mb, -1, 5*mb)},
		{"empty last part", layout(10*mb, 2, 0)},
		{"last part larger than part size", layout(10*mb, 1, 15*mb)},
		{"layout shorter than file", layout(10*mb, 1, 5*mb)},
		{"layout longer than file", layout(10*mb, 3, 5*mb)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &File{ID: "big", Name: "big.bin", Size: size, Source: zeroReader{}}
			q := NewMemoryQueue(f)
			tr := &fakeTransport{handle: func(context.Context, recordedRequest) (*Response, error) {
				return jsonResponse(http.StatusOK, tt.body), nil
			}}
			rec := &recorder{}
			s := newTestScheduler(q, Static(UploadConfig{URL: testURL}), tr, rec)

			require.True(t, s.Upload())
			waitIdle(t, s)

			failed := rec.ofType(EventFailed)
			require.Len(t, failed, 1)
			var uerr *Error
			require.ErrorAs(t, failed[0].Err, &uerr)
			assert.Equal(t, "initiate", uerr.Op)
			assert.ErrorContains(t, uerr, "malformed session")
			assert.Empty(t, rec.ofType(EventMultipartStarted))
			assert.Len(t, tr.Requests(), 1)
			assert.Equal(t, []*File{f}, q.ListQueued())
		})
	}
}

func TestScheduler_AllPartsDispatchedAtOnce(t *testing.T) {
	const parts = 4
	f := newTestFile("big.bin", parts*1024)
	q := NewMemoryQueue(f)
	srv := newSessionServer()

	var arrived sync.WaitGroup
	arrived.Add(parts)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()
	srv.partHook = func(ctx context.Context, index int) {
		arrived.Done()
		select {
		case <-all:
		case <-time.After(2 * time.Second):
		}
	}
	tr := &fakeTransport{handle: srv.handle}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL, PartSize: 1024}), tr, rec)

	require.True(t, s.Upload())
	select {
	case <-all:
	case <-time.After(time.Second):
		t.Fatal("parts were not dispatched concurrently")
	}
	waitIdle(t, s)
	assert.Equal(t, StatusUploaded, q.Status(f))
}

func TestScheduler_MaxConcurrentParts(t *testing.T) {
	f := newTestFile("big.bin", 6*1024)
	q := NewMemoryQueue(f)
	srv := newSessionServer()

	var inFlight, peak atomic.Int32
	srv.partHook = func(ctx context.Context, index int) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
	}
	tr := &fakeTransport{handle: srv.handle}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL, PartSize: 1024}), tr, rec, WithMaxConcurrentParts(2))

	require.True(t, s.Upload())
	waitIdle(t, s)

	assert.Equal(t, StatusUploaded, q.Status(f))
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 6, tr.count(http.MethodPut, sessionSelf))
}

func TestScheduler_AbortInFlightTransfer(t *testing.T) {
	f := newTestFile("slow.bin", 1024)
	q := NewMemoryQueue(f)
	started := make(chan struct{})
	tr := &fakeTransport{handle: func(ctx context.Context, _ recordedRequest) (*Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL}), tr, rec)

	require.True(t, s.Upload())
	<-started
	assert.True(t, s.IsUploading())
	s.Abort()
	waitIdle(t, s)

	failed := rec.ofType(EventFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, context.Canceled)
	assert.Equal(t, []*File{f}, q.ListQueued())
	assert.False(t, s.IsUploading())
}

func TestScheduler_AbortFile(t *testing.T) {
	f := newTestFile("slow.bin", 1024)
	q := NewMemoryQueue(f)
	started := make(chan struct{})
	tr := &fakeTransport{handle: func(ctx context.Context, _ recordedRequest) (*Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL}), tr, rec)

	require.True(t, s.Upload())
	<-started
	assert.False(t, s.AbortFile(&File{}))
	assert.True(t, s.AbortFile(f))
	waitIdle(t, s)
	assert.Equal(t, StatusFailed, q.Status(f))
}

func TestScheduler_BatchDrainsQueue(t *testing.T) {
	a, b, c := newTestFile("a", 100), newTestFile("b", 200), newTestFile("c", 300)
	q := NewMemoryQueue(a, b, c)
	tr := &fakeTransport{handle: func(context.Context, recordedRequest) (*Response, error) {
		return createdResponse, nil
	}}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL, Batch: true}), tr, rec)

	require.True(t, s.Upload())
	waitIdle(t, s)

	assert.Equal(t, []*File{a, b, c}, q.Uploaded())
	done, total := s.Progress().Bytes()
	assert.Equal(t, int64(600), done)
	assert.Equal(t, int64(600), total)
}

func TestScheduler_UploadAll(t *testing.T) {
	good1, bad, good2 := newTestFile("good1", 10), newTestFile("bad", 10), newTestFile("good2", 10)
	q := NewMemoryQueue(good1, bad, good2)
	tr := &fakeTransport{handle: func(_ context.Context, req recordedRequest) (*Response, error) {
		if strings.HasSuffix(req.URL, "/bad") {
			return jsonResponse(http.StatusInternalServerError, ``), nil
		}
		return okResponse, nil
	}}
	rec := &recorder{}
	resolver := FromFunc(func(f *File) UploadConfig {
		return UploadConfig{URL: "https://api.example/files/" + f.Name}
	})
	s := newTestScheduler(q, resolver, tr, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.UploadAll(ctx))

	assert.Equal(t, []*File{good1, good2}, q.Uploaded())
	assert.Equal(t, []*File{bad}, q.ListQueued())
	assert.Len(t, tr.Requests(), 3)
}

func TestScheduler_UploadAllBatch(t *testing.T) {
	tests := []struct {
		name  string
		order []string
	}{
		{"failure last", []string{"a", "bad"}},
		{"failure first", []string{"bad", "a", "b"}},
		{"failure in between", []string{"a", "bad", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := make([]*File, len(tt.order))
			var bad *File
			for i, name := range tt.order {
				files[i] = newTestFile(name, 10)
				if name == "bad" {
					bad = files[i]
				}
			}
			q := NewMemoryQueue(files...)
			tr := &fakeTransport{handle: func(_ context.Context, req recordedRequest) (*Response, error) {
				if strings.HasSuffix(req.URL, "/bad") {
					return jsonResponse(http.StatusInternalServerError, ``), nil
				}
				return okResponse, nil
			}}
			rec := &recorder{}
			resolver := FromFunc(func(f *File) UploadConfig {
				return UploadConfig{URL: "https://api.example/files/" + f.Name, Batch: true}
			})
			s := newTestScheduler(q, resolver, tr, rec)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, s.UploadAll(ctx))

			assert.Equal(t, 1, tr.count(http.MethodPost, "https://api.example/files/bad"))
			assert.Len(t, rec.ofType(EventFailed), 1)
			assert.Len(t, q.Uploaded(), len(files)-1)
			assert.Equal(t, []*File{bad}, q.ListQueued())
			assert.Len(t, tr.Requests(), len(files))
		})
	}
}

func TestScheduler_UploadAllSkipsLaterFiles(t *testing.T) {
	first, late := newTestFile("first", 10), newTestFile("late", 10)
	q := NewMemoryQueue(first)
	tr := &fakeTransport{handle: func(context.Context, recordedRequest) (*Response, error) {
		return okResponse, nil
	}}
	rec := &recorder{}
	s := newTestScheduler(q, Static(UploadConfig{URL: testURL, Batch: true}), tr, rec,
		WithNotifier(NotifierFunc(func(ev Event) {
			if ev.Type == EventUploading && ev.File == first {
				q.Enqueue(late)
			}
		})))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.UploadAll(ctx))

	assert.Equal(t, []*File{first}, q.Uploaded())
	assert.Equal(t, []*File{late}, q.ListQueued())

	require.True(t, s.Upload())
	waitIdle(t, s)
	assert.Equal(t, []*File{first, late}, q.Uploaded())
}

func TestScheduler_EmptyQueue(t *testing.T) {
	s := NewScheduler(NewMemoryQueue(), Static(UploadConfig{URL: testURL}), &fakeTransport{})
	assert.False(t, s.Upload())
	waitIdle(t, s)
}

// zeroReader serves zero bytes without allocating the whole file
type zeroReader struct{}

func (zeroReader) ReadAt(p []byte, off int64) (int, error) {
	clear(p)
	return len(p), nil
}

var _ io.ReaderAt = zeroReader{}
