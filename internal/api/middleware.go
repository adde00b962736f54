package api

import (
	"net/http"

	"openchamber-relay/internal/auth"
)

// AuthMiddleware guards an endpoint behind the UI session. When password
// protection is disabled the check is a no-op, matching the socket
// upgrade behavior.
func AuthMiddleware(svc *auth.Service, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc.Enabled() && !svc.Authenticated(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
