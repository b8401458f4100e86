package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AnathPKI/anath-server-sub001/pki"
	"github.com/AnathPKI/anath-server-sub001/revocation"
)

// parseRevocationReason maps a reason string to an RFC 5280 CRL reason code.
func parseRevocationReason(reason string) int {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "key_compromise":
		return revocation.ReasonKeyCompromise
	case "affiliation_changed":
		return revocation.ReasonAffiliationChanged
	case "superseded":
		return revocation.ReasonSuperseded
	case "cessation_of_operation":
		return revocation.ReasonCessationOfOperation
	default:
		return revocation.ReasonUnspecified
	}
}

func revocationReasonName(reason int) string {
	switch reason {
	case revocation.ReasonKeyCompromise:
		return "key_compromise"
	case revocation.ReasonAffiliationChanged:
		return "affiliation_changed"
	case revocation.ReasonSuperseded:
		return "superseded"
	case revocation.ReasonCessationOfOperation:
		return "cessation_of_operation"
	default:
		return "unspecified"
	}
}

// TentativelySign handles POST /certificates. The CSR is validated and
// signed, but the certificate is only tracked once the caller confirms it
// with the returned token.
func (a *API) TentativelySign(w http.ResponseWriter, r *http.Request) {
	userID := principalFromRequest(r)

	req, ok := decodeJSON[SignRequest](w, r, maxCSRBodySize)
	if !ok {
		return
	}
	csr, err := pki.ParseCSR([]byte(req.CSR))
	if err != nil {
		mapError(w, err)
		return
	}

	token, rec, err := a.workflow.TentativelySign(r.Context(), csr, userID)
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, TentativeSignResponse{
		ConfirmationToken: token,
		ExpiresIn:         int64(a.tokenTTL / time.Second),
		Certificate:       viewFromRecord(rec),
	})
}

// ConfirmSign handles POST /certificates/confirm/{token}. A valid token is
// consumed exactly once; the certificate it refers to becomes tracked.
func (a *API) ConfirmSign(w http.ResponseWriter, r *http.Request) {
	userID := principalFromRequest(r)
	token := chi.URLParam(r, "token")

	rec, err := a.workflow.Confirm(r.Context(), token, userID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SignResponse{Certificate: viewFromRecord(rec)})
}

// ListOwnCertificates handles GET /certificates.
func (a *API) ListOwnCertificates(w http.ResponseWriter, r *http.Request) {
	userID := principalFromRequest(r)

	records, err := a.certs.FindAllByUser(r.Context(), userID)
	if err != nil {
		a.writeInternalError(w, r, "failed to list certificates", err)
		return
	}
	views := make([]CertificateView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewFromRecord(rec))
	}
	writeJSON(w, http.StatusOK, ListCertificatesResponse{Certificates: views})
}

// GetOwnCertificate handles GET /certificates/{serial}. Certificates owned
// by other principals are reported as not found rather than forbidden, so
// the endpoint does not leak which serials exist.
func (a *API) GetOwnCertificate(w http.ResponseWriter, r *http.Request) {
	userID := principalFromRequest(r)
	serial := chi.URLParam(r, "serial")

	rec, err := a.certs.FindBySerial(r.Context(), serial)
	if err != nil {
		mapError(w, err)
		return
	}
	if rec.UserID != userID {
		writeError(w, http.StatusNotFound, "certificate not found")
		return
	}
	writeJSON(w, http.StatusOK, SignResponse{Certificate: viewFromRecord(rec)})
}

// RevokeOwnCertificate handles POST /certificates/{serial}/revoke.
func (a *API) RevokeOwnCertificate(w http.ResponseWriter, r *http.Request) {
	userID := principalFromRequest(r)
	serial := chi.URLParam(r, "serial")

	rec, err := a.certs.FindBySerial(r.Context(), serial)
	if err != nil {
		mapError(w, err)
		return
	}
	if rec.UserID != userID {
		writeError(w, http.StatusNotFound, "certificate not found")
		return
	}
	a.revokeAndRespond(w, r, serial)
}

// AdminSign handles POST /admin/certificates. The certificate is signed and
// tracked immediately, without the confirmation round-trip.
func (a *API) AdminSign(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[SignRequest](w, r, maxCSRBodySize)
	if !ok {
		return
	}
	csr, err := pki.ParseCSR([]byte(req.CSR))
	if err != nil {
		mapError(w, err)
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = pki.SubjectEmail(csr.Subject, csr.EmailAddresses)
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "cannot determine certificate owner; pass ?user= or include an email in the CSR")
		return
	}

	rec, err := a.adminEngine.SignAndSave(r.Context(), csr, userID, a.certs)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SignResponse{Certificate: viewFromRecord(rec)})
}

// AdminListCertificates handles GET /admin/users/{userID}/certificates.
func (a *API) AdminListCertificates(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	records, err := a.certs.FindAllByUser(r.Context(), userID)
	if err != nil {
		a.writeInternalError(w, r, "failed to list certificates", err)
		return
	}
	views := make([]CertificateView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewFromRecord(rec))
	}
	writeJSON(w, http.StatusOK, ListCertificatesResponse{Certificates: views})
}

// AdminRevokeCertificate handles POST /admin/certificates/{serial}/revoke.
func (a *API) AdminRevokeCertificate(w http.ResponseWriter, r *http.Request) {
	a.revokeAndRespond(w, r, chi.URLParam(r, "serial"))
}

// AdminRevokeUser handles POST /admin/users/{userID}/revoke. Every
// certificate the user still holds is revoked.
func (a *API) AdminRevokeUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	req := optionalRevokeRequest(w, r)
	if req == nil {
		return
	}

	if err := a.revoker.RevokeAllByUser(r.Context(), userID, parseRevocationReason(req.Reason)); err != nil {
		a.writeInternalError(w, r, "failed to revoke certificates", err)
		return
	}
	if _, err := a.crl.Rebuild(r.Context()); err != nil {
		a.writeInternalError(w, r, "failed to rebuild CRL", err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// AdminDeleteUser handles DELETE /admin/users/{userID}. Certificates the
// user still holds are revoked first so they reach the CRL, then every
// record of the user is removed.
func (a *API) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := a.revoker.RevokeAllByUser(r.Context(), userID, revocation.ReasonCessationOfOperation); err != nil {
		a.writeInternalError(w, r, "failed to revoke certificates", err)
		return
	}
	if _, err := a.crl.Rebuild(r.Context()); err != nil {
		a.writeInternalError(w, r, "failed to rebuild CRL", err)
		return
	}
	if err := a.certs.DeleteAllByUser(r.Context(), userID); err != nil {
		a.writeInternalError(w, r, "failed to delete certificate records", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokeAndRespond(w http.ResponseWriter, r *http.Request, serial string) {
	req := optionalRevokeRequest(w, r)
	if req == nil {
		return
	}

	rec, err := a.revoker.Revoke(r.Context(), serial, parseRevocationReason(req.Reason))
	if err != nil {
		mapError(w, err)
		return
	}

	// Regenerate the CRL immediately so the distribution endpoints reflect
	// the revocation without waiting for the next maintenance tick.
	if _, err := a.crl.Rebuild(r.Context()); err != nil {
		a.writeInternalError(w, r, "failed to rebuild CRL", err)
		return
	}
	writeJSON(w, http.StatusOK, RevokeResponse{Certificate: viewFromRecord(rec)})
}

// optionalRevokeRequest decodes a revocation body, treating an absent body
// as an unspecified reason. A nil return means the response is written.
func optionalRevokeRequest(w http.ResponseWriter, r *http.Request) *RevokeRequest {
	if r.ContentLength == 0 {
		return &RevokeRequest{}
	}
	req, ok := decodeJSON[RevokeRequest](w, r, maxSmallBodySize)
	if !ok {
		return nil
	}
	return &req
}

// CACertificate handles GET /ca.pem.
func (a *API) CACertificate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(a.ca.CertificatePEM())
}

// CRLPEM handles GET /crl.pem.
func (a *API) CRLPEM(w http.ResponseWriter, r *http.Request) {
	pemCRL, err := a.crl.CurrentPEM(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(pemCRL)
}

// CRLDER handles GET /crl.der.
func (a *API) CRLDER(w http.ResponseWriter, r *http.Request) {
	der, err := a.crl.CurrentDER(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pkix-crl")
	w.Write(der)
}
