package server

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"uploadflow/internal/s3"

	"github.com/google/uuid"
)

// ObjectStore persists uploaded objects. *s3.Client implements it.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []s3.PartInfo) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

var _ ObjectStore = (*s3.Client)(nil)

// MemoryStore keeps objects in memory
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]*memUpload
}

type memUpload struct {
	key   string
	parts map[int32][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		uploads: make(map[string]*memUpload),
	}
}

func (m *MemoryStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := readExactly(body, size)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *MemoryStore) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[id] = &memUpload{key: key, parts: make(map[int32][]byte)}
	return id, nil
}

func (m *MemoryStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error) {
	data, err := readExactly(body, size)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return "", fmt.Errorf("%w: %s", s3.ErrNoSuchUpload, uploadID)
	}
	up.parts[partNumber] = data
	return etag(data), nil
}

func (m *MemoryStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []s3.PartInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return fmt.Errorf("%w: %s", s3.ErrNoSuchUpload, uploadID)
	}

	var buf bytes.Buffer
	for _, p := range parts {
		data, ok := up.parts[int32(p.PartNumber)]
		if !ok {
			return fmt.Errorf("complete %s: part %d was never uploaded", uploadID, p.PartNumber)
		}
		if etag(data) != p.ETag {
			return fmt.Errorf("complete %s: part %d etag mismatch", uploadID, p.PartNumber)
		}
		buf.Write(data)
	}
	m.objects[key] = buf.Bytes()
	delete(m.uploads, uploadID)
	return nil
}

func (m *MemoryStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[uploadID]; !ok {
		return fmt.Errorf("%w: %s", s3.ErrNoSuchUpload, uploadID)
	}
	delete(m.uploads, uploadID)
	return nil
}

// Object returns a stored object
func (m *MemoryStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// OpenUploads is the number of multipart uploads neither completed nor aborted
func (m *MemoryStore) OpenUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

func readExactly(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("body is %d bytes, expected %d", len(data), size)
	}
	return data, nil
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
