package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
)

// ErrObjectNotFound is returned when a reference has no stored artifact.
var ErrObjectNotFound = errors.New("object not found")

// FileStore uploads artifacts under a stable reference and reads them back.
type FileStore interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
	RemoveFile(ctx context.Context, key string) error
}

// CleanKey normalises a client supplied reference into an object key and
// rejects path traversal.
func CleanKey(ref string) (string, error) {
	ref = strings.TrimSpace(strings.TrimPrefix(ref, "/"))
	if ref == "" {
		return "", fmt.Errorf("empty file reference")
	}
	key := path.Clean(ref)
	if key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("invalid file reference %q", ref)
	}
	return key, nil
}

type memObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps artifacts in process memory (development and tests).
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memObject{}}
}

func (m *MemoryStore) UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("upload %s: read %d bytes, expected %d", key, len(data), size)
	}
	m.mu.Lock()
	m.objects[key] = memObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) RemoveFile(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}
