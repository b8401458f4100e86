package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/AnathPKI/anath-server-sub001/issuance"
	"github.com/AnathPKI/anath-server-sub001/pki"
	"github.com/AnathPKI/anath-server-sub001/revocation"
	"github.com/AnathPKI/anath-server-sub001/storage"
)

// Request body limits. Certificate signing requests are small; anything
// bigger than this is not a CSR.
const (
	maxSmallBodySize = 4 * 1024
	maxCSRBodySize   = 64 * 1024
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError hides the underlying error from the client and logs it
// instead.
func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	a.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, msg)
}

// decodeJSON decodes a size-limited JSON request body, rejecting unknown
// fields. On failure it writes the error response and returns ok=false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return req, false
	}
	return req, true
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case pki.IsConstraintViolation(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pki.ErrInvalidPEM):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, issuance.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, issuance.ErrOwnershipMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, revocation.ErrCertificateNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, revocation.ErrAlreadyRevoked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrNoCRL):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
