package api

import (
	"time"

	"github.com/AnathPKI/anath-server-sub001/storage"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CertificateView is the JSON shape of a tracked certificate.
type CertificateView struct {
	Serial           string     `json:"serial"`
	Subject          string     `json:"subject"`
	NotBefore        time.Time  `json:"not_before"`
	NotAfter         time.Time  `json:"not_after"`
	Status           string     `json:"status"`
	PEM              string     `json:"pem"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
}

func viewFromRecord(rec *storage.CertificateRecord) CertificateView {
	view := CertificateView{
		Serial:    rec.Serial,
		Subject:   rec.Subject,
		NotBefore: rec.NotBefore,
		NotAfter:  rec.NotAfter,
		Status:    string(rec.Status),
		PEM:       rec.PEM,
		RevokedAt: rec.RevokedAt,
	}
	if rec.Status == storage.StatusRevoked {
		view.RevocationReason = revocationReasonName(rec.RevocationReason)
	}
	return view
}

// SignRequest is the JSON body for POST /certificates and
// POST /admin/certificates.
type SignRequest struct {
	CSR string `json:"csr"`
}

// TentativeSignResponse is returned from POST /certificates. The certificate
// is signed but not yet tracked; it becomes valid once confirmed.
type TentativeSignResponse struct {
	ConfirmationToken string          `json:"confirmation_token"`
	ExpiresIn         int64           `json:"expires_in_seconds"`
	Certificate       CertificateView `json:"certificate"`
}

// SignResponse is returned from confirmation and from the admin signing
// endpoint.
type SignResponse struct {
	Certificate CertificateView `json:"certificate"`
}

// ListCertificatesResponse is returned from certificate listing endpoints.
type ListCertificatesResponse struct {
	Certificates []CertificateView `json:"certificates"`
}

// RevokeRequest is the JSON body for revocation endpoints. An empty body
// defaults the reason to "unspecified".
type RevokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RevokeResponse is returned from single-certificate revocation.
type RevokeResponse struct {
	Certificate CertificateView `json:"certificate"`
}
