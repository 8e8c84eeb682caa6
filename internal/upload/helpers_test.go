package upload

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordedRequest is a copy of a request seen by fakeTransport
type recordedRequest struct {
	Method  string
	URL     string
	Headers []Header
	Body    []byte
	Size    int64
}

// fakeTransport answers requests through handle and records them
type fakeTransport struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(ctx context.Context, req recordedRequest) (*Response, error)
	// discardBodies keeps only the body length
	discardBodies bool
}

func (f *fakeTransport) Send(ctx context.Context, req *Request, progress ProgressFunc) (*Response, error) {
	rec := recordedRequest{Method: req.Method, URL: req.URL, Headers: req.Headers}
	if req.Body != nil {
		var err error
		if f.discardBodies {
			rec.Size, err = io.Copy(io.Discard, req.Body)
		} else {
			rec.Body, err = io.ReadAll(req.Body)
			rec.Size = int64(len(rec.Body))
		}
		if err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	if progress != nil && rec.Size > 0 {
		progress(rec.Size / 2)
		progress(rec.Size)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.handle(ctx, rec)
}

func (f *fakeTransport) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeTransport) count(method, urlPrefix string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Method == method && strings.HasPrefix(r.URL, urlPrefix) {
			n++
		}
	}
	return n
}

// recorder collects scheduler events
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func jsonResponse(status int, body string) *Response {
	return &Response{StatusCode: status, Body: []byte(body)}
}

func newTestFile(name string, size int64) *File {
	data := bytes.Repeat([]byte{0}, int(size))
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &File{
		ID:     name,
		Name:   name,
		Size:   size,
		Source: bytes.NewReader(data),
	}
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

var (
	okResponse      = jsonResponse(http.StatusOK, `{}`)
	createdResponse = jsonResponse(http.StatusCreated, `{}`)
)
