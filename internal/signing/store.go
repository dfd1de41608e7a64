package signing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStore holds workflow sessions. Get returns nil, nil when absent.
type SessionStore interface {
	Get(ctx context.Context, docID, userID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, docID, userID string) error
}

type memEntry struct {
	s       *Session
	expires time.Time
}

// MemoryStore keeps sessions in process memory with an idle TTL.
type MemoryStore struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]memEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, data: map[string]memEntry{}}
}

func (m *MemoryStore) Get(ctx context.Context, docID, userID string) (*Session, error) {
	m.mu.RLock()
	e, ok := m.data[key(docID, userID)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) && !e.s.State.Busy() {
		_ = m.Delete(ctx, docID, userID)
		return nil, nil
	}
	return e.s.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, s *Session) error {
	e := memEntry{s: s.Clone()}
	if m.ttl > 0 {
		e.expires = time.Now().Add(m.ttl)
	}
	m.mu.Lock()
	m.data[key(s.DocumentID, s.UserID)] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, docID, userID string) error {
	m.mu.Lock()
	delete(m.data, key(docID, userID))
	m.mu.Unlock()
	return nil
}

// Locker guards the one-attempt-in-flight rule. Acquire returns an owner
// token, or ErrAttemptInFlight when the key is held. Refresh extends a held
// lock and fails with ErrLockLost when token no longer owns it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

type memLock struct {
	token   string
	expires time.Time
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memLock
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: map[string]memLock{}}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if cur, ok := l.locks[key]; ok && now.Before(cur.expires) {
		return "", ErrAttemptInFlight
	}
	tok := uuid.NewString()
	l.locks[key] = memLock{token: tok, expires: now.Add(ttl)}
	return tok, nil
}

func (l *MemoryLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	cur, ok := l.locks[key]
	if !ok || cur.token != token || !now.Before(cur.expires) {
		return ErrLockLost
	}
	cur.expires = now.Add(ttl)
	l.locks[key] = cur
	return nil
}

func (l *MemoryLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.locks[key]; ok && cur.token == token {
		delete(l.locks, key)
	}
	return nil
}
