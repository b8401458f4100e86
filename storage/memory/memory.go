// Package memory provides thread-safe in-memory implementations of the
// storage contracts. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AnathPKI/anath-server-sub001/storage"
)

// Store is an in-memory implementation of storage.CertificateStore,
// storage.SecretStore and storage.CRLStore.
type Store struct {
	mu      sync.RWMutex
	certs   map[string]*storage.CertificateRecord
	secrets map[string]*storage.EncryptedSecret
	crl     []byte
}

var (
	_ storage.CertificateStore = (*Store)(nil)
	_ storage.SecretStore      = (*Store)(nil)
	_ storage.CRLStore         = (*Store)(nil)
)

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{
		certs:   make(map[string]*storage.CertificateRecord),
		secrets: make(map[string]*storage.EncryptedSecret),
	}
}

func (s *Store) Save(_ context.Context, rec *storage.CertificateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[rec.Serial]; ok {
		return storage.ErrDuplicateSerial
	}
	s.certs[rec.Serial] = rec.Clone()
	return nil
}

func (s *Store) FindBySerial(_ context.Context, serial string) (*storage.CertificateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.certs[serial]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) FindAllByUser(_ context.Context, userID string) ([]*storage.CertificateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.CertificateRecord
	for _, rec := range s.certs {
		if rec.UserID == userID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *Store) FindAllRevoked(_ context.Context) ([]*storage.CertificateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.CertificateRecord
	for _, rec := range s.certs {
		if rec.Status == storage.StatusRevoked {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *Store) MarkRevoked(_ context.Context, serial string, at time.Time, reason int) (*storage.CertificateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.certs[serial]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if rec.Status == storage.StatusRevoked {
		return nil, storage.ErrAlreadyRevoked
	}
	rec.Status = storage.StatusRevoked
	revokedAt := at
	rec.RevokedAt = &revokedAt
	rec.RevocationReason = reason
	return rec.Clone(), nil
}

func (s *Store) DeleteAllByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for serial, rec := range s.certs {
		if rec.UserID == userID {
			delete(s.certs, serial)
		}
	}
	return nil
}

func (s *Store) PutSecret(_ context.Context, secret *storage.EncryptedSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[secret.Name] = cloneSecret(secret)
	return nil
}

func (s *Store) GetSecret(_ context.Context, name string) (*storage.EncryptedSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneSecret(secret), nil
}

func (s *Store) SaveCRL(_ context.Context, der []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crl = append([]byte(nil), der...)
	return nil
}

func (s *Store) LoadCRL(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.crl == nil {
		return nil, storage.ErrNoCRL
	}
	return append([]byte(nil), s.crl...), nil
}

func cloneSecret(secret *storage.EncryptedSecret) *storage.EncryptedSecret {
	if secret == nil {
		return nil
	}
	return &storage.EncryptedSecret{
		Name:       secret.Name,
		Algorithm:  secret.Algorithm,
		IV:         append([]byte(nil), secret.IV...),
		Ciphertext: append([]byte(nil), secret.Ciphertext...),
	}
}
