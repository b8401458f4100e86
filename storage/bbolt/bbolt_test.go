package bbolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AnathPKI/anath-server-sub001/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStoreFromFile(filepath.Join(t.TempDir(), "anath-test.db"), nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(serial, userID string) *storage.CertificateRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &storage.CertificateRecord{
		Serial:    serial,
		Subject:   "CN=" + userID + ",O=ACME",
		NotBefore: now,
		NotAfter:  now.AddDate(1, 0, 0),
		PEM:       "-----BEGIN CERTIFICATE-----\n-----END CERTIFICATE-----\n",
		UserID:    userID,
		Status:    storage.StatusIssued,
	}
}

func TestBBoltStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("SaveAndFind", func(t *testing.T) {
		if err := s.Save(ctx, record("01", "jane")); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		got, err := s.FindBySerial(ctx, "01")
		if err != nil {
			t.Fatalf("FindBySerial failed: %v", err)
		}
		if got.UserID != "jane" {
			t.Errorf("expected owner jane, got %s", got.UserID)
		}
		if !got.NotAfter.Equal(record("01", "jane").NotAfter) {
			t.Errorf("timestamps not preserved: %v", got.NotAfter)
		}
	})

	t.Run("DuplicateSerial", func(t *testing.T) {
		err := s.Save(ctx, record("01", "bob"))
		if !errors.Is(err, storage.ErrDuplicateSerial) {
			t.Errorf("expected ErrDuplicateSerial, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.FindBySerial(ctx, "ff")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("MarkRevoked", func(t *testing.T) {
		s.Save(ctx, record("02", "jane"))
		at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
		rec, err := s.MarkRevoked(ctx, "02", at, 1)
		if err != nil {
			t.Fatalf("MarkRevoked failed: %v", err)
		}
		if rec.Status != storage.StatusRevoked {
			t.Errorf("expected status revoked, got %s", rec.Status)
		}

		_, err = s.MarkRevoked(ctx, "02", at.Add(time.Hour), 2)
		if !errors.Is(err, storage.ErrAlreadyRevoked) {
			t.Errorf("expected ErrAlreadyRevoked, got %v", err)
		}
		got, _ := s.FindBySerial(ctx, "02")
		if !got.RevokedAt.Equal(at) {
			t.Errorf("revocation time changed to %v", got.RevokedAt)
		}
	})

	t.Run("FindAllRevoked", func(t *testing.T) {
		records, err := s.FindAllRevoked(ctx)
		if err != nil {
			t.Fatalf("FindAllRevoked failed: %v", err)
		}
		if len(records) != 1 || records[0].Serial != "02" {
			t.Errorf("unexpected revoked set: %+v", records)
		}
	})

	t.Run("DeleteAllByUser", func(t *testing.T) {
		s.Save(ctx, record("03", "bob"))
		if err := s.DeleteAllByUser(ctx, "jane"); err != nil {
			t.Fatalf("DeleteAllByUser failed: %v", err)
		}
		records, _ := s.FindAllByUser(ctx, "jane")
		if len(records) != 0 {
			t.Errorf("expected no records, got %d", len(records))
		}
		if _, err := s.FindBySerial(ctx, "03"); err != nil {
			t.Errorf("unrelated record deleted: %v", err)
		}
	})
}

func TestBBoltStoreSecrets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	secret := &storage.EncryptedSecret{
		Name:       "ca/private-key",
		Algorithm:  "aes256gcm",
		IV:         make([]byte, 12),
		Ciphertext: []byte("cipher"),
	}
	if err := s.PutSecret(ctx, secret); err != nil {
		t.Fatalf("PutSecret failed: %v", err)
	}
	got, err := s.GetSecret(ctx, "ca/private-key")
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if string(got.Ciphertext) != "cipher" {
		t.Errorf("unexpected ciphertext %q", got.Ciphertext)
	}

	_, err = s.GetSecret(ctx, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBBoltStoreCRL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LoadCRL(ctx)
	if !errors.Is(err, storage.ErrNoCRL) {
		t.Errorf("expected ErrNoCRL, got %v", err)
	}

	if err := s.SaveCRL(ctx, []byte("first")); err != nil {
		t.Fatalf("SaveCRL failed: %v", err)
	}
	if err := s.SaveCRL(ctx, []byte("second")); err != nil {
		t.Fatalf("SaveCRL failed: %v", err)
	}
	got, err := s.LoadCRL(ctx)
	if err != nil {
		t.Fatalf("LoadCRL failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("expected the latest CRL, got %q", got)
	}
}

func TestBBoltStorePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "anath-test.db")

	s, err := NewStoreFromFile(path, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	if err := s.Save(ctx, record("01", "jane")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewStoreFromFile(path, nil)
	if err != nil {
		t.Fatalf("could not reopen db: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.FindBySerial(ctx, "01")
	if err != nil {
		t.Fatalf("FindBySerial after reopen failed: %v", err)
	}
	if got.UserID != "jane" {
		t.Errorf("expected owner jane, got %s", got.UserID)
	}
}
