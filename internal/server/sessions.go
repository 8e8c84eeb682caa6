package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"uploadflow/internal/s3"
	"uploadflow/internal/upload"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type sessionState int

const (
	sessionOpen sessionState = iota
	sessionCompleted
	sessionAborted
)

type partRecord struct {
	etag string
	size int64
}

// session is one multipart upload in progress
type session struct {
	id          string
	key         string
	uploadID    string
	contentType string
	layout      upload.MultipartSession

	mu    sync.Mutex
	state sessionState
	parts map[int]partRecord
}

// expectedSize is the size part index must have, or -1 when out of range
func (s *session) expectedSize(index int) int64 {
	if index < 0 || index > s.layout.LastPartNumber {
		return -1
	}
	return s.layout.Part(index).Size
}

func (s *session) status() upload.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := upload.SessionStatus{
		Parts:     make([]upload.SessionPart, 0, len(s.parts)),
		Completed: s.state == sessionCompleted,
	}
	for i, p := range s.parts {
		st.Parts = append(st.Parts, upload.SessionPart{PartNumber: i, Checksum: p.etag, Size: p.size})
	}
	sort.Slice(st.Parts, func(a, b int) bool { return st.Parts[a].PartNumber < st.Parts[b].PartNumber })
	return st
}

// completedParts lists the parts in S3 numbering, ready for completion
func (s *session) completedParts() []s3.PartInfo {
	out := make([]s3.PartInfo, 0, len(s.parts))
	for i, p := range s.parts {
		out = append(out, s3.PartInfo{ETag: p.etag, PartNumber: i + 1})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].PartNumber < out[b].PartNumber })
	return out
}

// sessionTable holds sessions for a bounded time. Evicting an open session
// aborts its multipart upload in the store.
type sessionTable struct {
	lru    *expirable.LRU[string, *session]
	store  ObjectStore
	logger *slog.Logger
	wg     sync.WaitGroup
}

func newSessionTable(store ObjectStore, size int, ttl time.Duration, logger *slog.Logger) *sessionTable {
	t := &sessionTable{store: store, logger: logger}
	t.lru = expirable.NewLRU[string, *session](size, t.evicted, ttl)
	return t
}

func (t *sessionTable) add(s *session) {
	t.lru.Add(s.id, s)
}

func (t *sessionTable) get(id string) (*session, bool) {
	return t.lru.Get(id)
}

func (t *sessionTable) remove(id string) {
	t.lru.Remove(id)
}

func (t *sessionTable) len() int {
	return t.lru.Len()
}

// evicted runs with the table locked; the abort happens in the background
func (t *sessionTable) evicted(id string, s *session) {
	s.mu.Lock()
	open := s.state == sessionOpen
	if open {
		s.state = sessionAborted
	}
	s.mu.Unlock()
	if !open {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := t.store.AbortMultipartUpload(ctx, s.key, s.uploadID); err != nil {
			t.logger.Warn("failed to abort evicted session", "session_id", id, "key", s.key, "error", err)
			return
		}
		t.logger.Info("evicted session aborted", "session_id", id, "key", s.key)
	}()
}

// wait blocks until background aborts have returned
func (t *sessionTable) wait() {
	t.wg.Wait()
}
