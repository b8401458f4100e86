package pki

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/AnathPKI/anath-server-sub001/storage"
)

// SigningEngine combines the CA identity, the constraint chain, a validity
// provider and the extension pipeline into finished certificates. It is
// stateless aside from reading the CA identity and safe for concurrent use.
type SigningEngine struct {
	ca          *CertificateAuthority
	constraints *ConstraintChain
	extensions  *Pipeline
	validity    ValidityProvider
	serials     SerialSource
	now         func() time.Time
}

// EngineOption configures a SigningEngine.
type EngineOption func(*SigningEngine)

// WithConstraints replaces the default organization-match chain.
func WithConstraints(chain *ConstraintChain) EngineOption {
	return func(e *SigningEngine) { e.constraints = chain }
}

// WithExtensions replaces the default extension pipeline.
func WithExtensions(pipeline *Pipeline) EngineOption {
	return func(e *SigningEngine) { e.extensions = pipeline }
}

// WithValidity replaces the default one-year fixed-term validity provider.
func WithValidity(provider ValidityProvider) EngineOption {
	return func(e *SigningEngine) { e.validity = provider }
}

// WithSerialSource replaces the default random serial source.
func WithSerialSource(source SerialSource) EngineOption {
	return func(e *SigningEngine) { e.serials = source }
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *SigningEngine) { e.now = now }
}

// NewSigningEngine returns an engine for the given CA.
func NewSigningEngine(ca *CertificateAuthority, opts ...EngineOption) *SigningEngine {
	e := &SigningEngine{
		ca:          ca,
		constraints: NewConstraintChain(OrganizationMatch{}),
		extensions:  DefaultPipeline(),
		validity:    FixedTermValidity{Days: 365},
		serials:     RandomSerialSource{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sign validates the request against the constraint chain, builds the X.509
// structure through the extension pipeline, signs it with the transiently
// decrypted CA key and returns the certificate record. Nothing is persisted;
// the caller decides whether the result is committed immediately or parked
// for confirmation.
//
// A ConstraintViolation from the chain is returned as-is; every
// cryptographic failure wraps ErrSigning.
func (e *SigningEngine) Sign(ctx context.Context, csr *x509.CertificateRequest, userID string) (*storage.CertificateRecord, error) {
	if err := e.constraints.Validate(ctx, csr.Subject, e.ca.Subject()); err != nil {
		return nil, err
	}

	serial, err := e.serials.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	notBefore, notAfter := e.validity.Window(e.now())
	if !notBefore.Before(notAfter) {
		return nil, fmt.Errorf("%w: validity window is empty (notBefore %s, notAfter %s)", ErrSigning, notBefore, notAfter)
	}

	template := &x509.Certificate{
		SerialNumber:   serial,
		Subject:        csr.Subject,
		NotBefore:      notBefore,
		NotAfter:       notAfter,
		EmailAddresses: csr.EmailAddresses,
	}
	args := ExtensionArgs{Issuer: e.ca.Certificate(), SubjectPublicKey: csr.PublicKey}
	if err := e.extensions.Apply(template, args); err != nil {
		return nil, fmt.Errorf("%w: applying extensions: %v", ErrSigning, err)
	}

	signer, release, err := e.ca.Signer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	defer release()

	der, err := x509.CreateCertificate(rand.Reader, template, e.ca.Certificate(), csr.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return &storage.CertificateRecord{
		Serial:    hex.EncodeToString(serial.Bytes()),
		Subject:   SubjectString(csr.Subject),
		NotBefore: notBefore,
		NotAfter:  notAfter,
		PEM:       string(certPEM),
		UserID:    userID,
		Status:    storage.StatusIssued,
	}, nil
}

// SignAndSave signs and immediately persists the certificate, the
// administrative issuance path. A serial collision at the persistence layer
// is retried once with a fresh serial.
func (e *SigningEngine) SignAndSave(ctx context.Context, csr *x509.CertificateRequest, userID string, certs storage.CertificateStore) (*storage.CertificateRecord, error) {
	rec, err := e.Sign(ctx, csr, userID)
	if err != nil {
		return nil, err
	}
	if err := certs.Save(ctx, rec); err != nil {
		if !errors.Is(err, storage.ErrDuplicateSerial) {
			return nil, fmt.Errorf("storing certificate: %w", err)
		}
		rec, err = e.Sign(ctx, csr, userID)
		if err != nil {
			return nil, err
		}
		if err := certs.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("storing certificate: %w", err)
		}
	}
	return rec, nil
}
