package api

import (
	"net/http"

	"github.com/AnathPKI/anath-server-sub001/directory"
)

// remoteUserHeader carries the authenticated principal, set by the
// authenticating reverse proxy in front of the service.
const remoteUserHeader = "X-Remote-User"

// PrincipalMiddleware requires the remote-user header and binds the
// principal to the request context, where the signing constraints pick it
// up.
func (a *API) PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(remoteUserHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+remoteUserHeader+" header")
			return
		}
		ctx := directory.WithPrincipal(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromRequest(r *http.Request) string {
	userID, _ := directory.PrincipalFrom(r.Context())
	return userID
}
