package pki

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AnathPKI/anath-server-sub001/keystore"
	"github.com/AnathPKI/anath-server-sub001/storage/memory"
)

func newTestKeyStore(t *testing.T) *keystore.KeyStore {
	t.Helper()
	ks, err := keystore.New(memory.NewStore(), "test-deployment-secret")
	require.NoError(t, err)
	return ks
}

func newTestCA(t *testing.T, org string) *CertificateAuthority {
	t.Helper()
	ca, err := InitCA(context.Background(), newTestKeyStore(t), pkix.Name{
		CommonName:   org + " Root CA",
		Organization: []string{org},
	}, 10)
	require.NoError(t, err)
	return ca
}

func subjectWithEmail(cn, org, email string) pkix.Name {
	name := pkix.Name{
		CommonName:   cn,
		Organization: []string{org},
	}
	if email != "" {
		name.ExtraNames = []pkix.AttributeTypeAndValue{
			{Type: oidEmailAddress, Value: email},
		}
	}
	return name
}

func newTestCSR(t *testing.T, subject pkix.Name) *x509.CertificateRequest {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{Subject: subject}, key)
	require.NoError(t, err)
	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})

	csr, err := ParseCSR(csrPEM)
	require.NoError(t, err)
	return csr
}
