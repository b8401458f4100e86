// Package bbolt provides a BBolt-backed implementation of the storage
// contracts. Certificates, secrets and the cached CRL live in separate
// buckets; records are JSON-encoded.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/AnathPKI/anath-server-sub001/storage"
)

var (
	bucketCertificates = []byte("certificates")
	bucketSecrets      = []byte("secrets")
	bucketCRL          = []byte("crl")

	keyCurrentCRL = []byte("current")
)

// Store implements the storage contracts backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var (
	_ storage.CertificateStore = (*Store)(nil)
	_ storage.SecretStore      = (*Store)(nil)
	_ storage.CRLStore         = (*Store)(nil)
)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewStoreFromFile opens a BBolt database at the given path.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(_ context.Context, rec *storage.CertificateRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketCertificates)
		if err != nil {
			return err
		}
		if b.Get([]byte(rec.Serial)) != nil {
			return fmt.Errorf("%s: %w", rec.Serial, storage.ErrDuplicateSerial)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding certificate record: %w", err)
		}
		return b.Put([]byte(rec.Serial), data)
	})
}

func (s *Store) FindBySerial(_ context.Context, serial string) (*storage.CertificateRecord, error) {
	var rec storage.CertificateRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		if b == nil {
			return fmt.Errorf("%s: %w", serial, storage.ErrNotFound)
		}
		data := b.Get([]byte(serial))
		if data == nil {
			return fmt.Errorf("%s: %w", serial, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) FindAllByUser(_ context.Context, userID string) ([]*storage.CertificateRecord, error) {
	return s.findAll(func(rec *storage.CertificateRecord) bool {
		return rec.UserID == userID
	})
}

func (s *Store) FindAllRevoked(_ context.Context) ([]*storage.CertificateRecord, error) {
	return s.findAll(func(rec *storage.CertificateRecord) bool {
		return rec.Status == storage.StatusRevoked
	})
}

func (s *Store) findAll(match func(*storage.CertificateRecord) bool) ([]*storage.CertificateRecord, error) {
	var out []*storage.CertificateRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, data []byte) error {
			var rec storage.CertificateRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decoding certificate record: %w", err)
			}
			if match(&rec) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRevoked transitions the record inside a single bbolt update transaction,
// which serializes concurrent revocations of the same serial.
func (s *Store) MarkRevoked(_ context.Context, serial string, at time.Time, reason int) (*storage.CertificateRecord, error) {
	var rec storage.CertificateRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		if b == nil {
			return fmt.Errorf("%s: %w", serial, storage.ErrNotFound)
		}
		data := b.Get([]byte(serial))
		if data == nil {
			return fmt.Errorf("%s: %w", serial, storage.ErrNotFound)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decoding certificate record: %w", err)
		}
		if rec.Status == storage.StatusRevoked {
			return fmt.Errorf("%s: %w", serial, storage.ErrAlreadyRevoked)
		}
		rec.Status = storage.StatusRevoked
		revokedAt := at
		rec.RevokedAt = &revokedAt
		rec.RevocationReason = reason
		updated, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encoding certificate record: %w", err)
		}
		return b.Put([]byte(serial), updated)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) DeleteAllByUser(_ context.Context, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		if b == nil {
			return nil
		}
		var serials [][]byte
		err := b.ForEach(func(k, data []byte) error {
			var rec storage.CertificateRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decoding certificate record: %w", err)
			}
			if rec.UserID == userID {
				serials = append(serials, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, serial := range serials {
			if err := b.Delete(serial); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) PutSecret(_ context.Context, secret *storage.EncryptedSecret) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketSecrets)
		if err != nil {
			return err
		}
		data, err := json.Marshal(secret)
		if err != nil {
			return fmt.Errorf("encoding secret record: %w", err)
		}
		return b.Put([]byte(secret.Name), data)
	})
}

func (s *Store) GetSecret(_ context.Context, name string) (*storage.EncryptedSecret, error) {
	var secret storage.EncryptedSecret
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		if b == nil {
			return fmt.Errorf("%s: %w", name, storage.ErrNotFound)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%s: %w", name, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &secret)
	})
	if err != nil {
		return nil, err
	}
	return &secret, nil
}

func (s *Store) SaveCRL(_ context.Context, der []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketCRL)
		if err != nil {
			return err
		}
		return b.Put(keyCurrentCRL, der)
	})
}

func (s *Store) LoadCRL(_ context.Context) ([]byte, error) {
	var der []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCRL)
		if b == nil {
			return storage.ErrNoCRL
		}
		data := b.Get(keyCurrentCRL)
		if data == nil {
			return storage.ErrNoCRL
		}
		der = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return der, nil
}
