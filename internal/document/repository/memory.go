package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/signdesk/signdesk/internal/document"
)

// MemoryRepo is an in-memory repository used for development and unit tests.
// Stored documents are never handed out directly; callers get clones.
type MemoryRepo struct {
	mu    sync.RWMutex
	store map[string]*document.SignableDocument
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{store: make(map[string]*document.SignableDocument)}
}

func (m *MemoryRepo) Create(ctx context.Context, d *document.SignableDocument) error {
	if err := d.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.store[d.ID]; exists {
		return fmt.Errorf("document %s already exists", d.ID)
	}
	m.store[d.ID] = d.Clone()
	return nil
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (*document.SignableDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.store[id]; ok {
		return d.Clone(), nil
	}
	return nil, document.ErrNotFound
}

func (m *MemoryRepo) List(ctx context.Context, f ListFilter) ([]*document.SignableDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*document.SignableDocument, 0, len(m.store))
	for _, d := range m.store {
		if f.SignerID != "" && !d.HasSigner(f.SignerID) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

// RecordSignature swaps the stored document for a copy carrying the signed
// entry, so readers holding an earlier clone never observe a partial update.
func (m *MemoryRepo) RecordSignature(ctx context.Context, docID, userID string, rec document.SignatureRecord) (*document.SignableDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[docID]
	if !ok {
		return nil, document.ErrNotFound
	}
	next, err := d.WithSignature(userID, rec)
	if err != nil {
		return nil, err
	}
	m.store[docID] = next
	return next.Clone(), nil
}

func (m *MemoryRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return document.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *MemoryRepo) Ping(ctx context.Context) error { return nil }
