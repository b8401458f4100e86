package issuance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AnathPKI/anath-server-sub001/storage"
)

var (
	// ErrTokenNotFound is returned when the confirmation token is unknown,
	// already consumed, or expired.
	ErrTokenNotFound = errors.New("confirmation token not found")

	// ErrOwnershipMismatch is returned when the confirming caller is not
	// the user the pending request was created for. The pending entry is
	// left intact.
	ErrOwnershipMismatch = errors.New("pending request is owned by another user")
)

// PendingRequest is an in-flight signed certificate awaiting confirmation.
// The record is not persisted until the confirm phase consumes the entry.
type PendingRequest struct {
	ID        string
	Token     string
	Record    *storage.CertificateRecord
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PendingStore holds pending requests keyed by confirmation token. The
// consume operation must be atomic: under concurrent confirm attempts with
// the same token, exactly one caller receives the entry.
type PendingStore interface {
	// Put stores a pending request under its token.
	Put(ctx context.Context, req *PendingRequest) error

	// TakeValid atomically removes and returns the unexpired entry for
	// token, provided it is owned by userID. An absent or expired entry
	// yields ErrTokenNotFound (expired entries are evicted on the spot);
	// an ownership mismatch yields ErrOwnershipMismatch without consuming
	// the entry.
	TakeValid(ctx context.Context, token, userID string, now time.Time) (*PendingRequest, error)

	// Sweep evicts every entry expired as of now and reports how many.
	Sweep(ctx context.Context, now time.Time) int
}

// MemoryPendingStore is the default mutex-guarded in-memory PendingStore.
type MemoryPendingStore struct {
	mu      sync.Mutex
	entries map[string]*PendingRequest
}

var _ PendingStore = (*MemoryPendingStore)(nil)

// NewMemoryPendingStore creates an empty MemoryPendingStore.
func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{entries: make(map[string]*PendingRequest)}
}

func (s *MemoryPendingStore) Put(_ context.Context, req *PendingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[req.Token] = req
	return nil
}

func (s *MemoryPendingStore) TakeValid(_ context.Context, token, userID string, now time.Time) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.entries[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if !now.Before(req.ExpiresAt) {
		delete(s.entries, token)
		return nil, ErrTokenNotFound
	}
	if req.UserID != userID {
		return nil, ErrOwnershipMismatch
	}
	delete(s.entries, token)
	return req, nil
}

func (s *MemoryPendingStore) Sweep(_ context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for token, req := range s.entries {
		if !now.Before(req.ExpiresAt) {
			delete(s.entries, token)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of pending entries, expired or not.
func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
