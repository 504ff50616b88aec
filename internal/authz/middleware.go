package authz

import (
	"net/http"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
	"github.com/vyrodovalexey/krestgw/internal/util"
)

// Middleware returns an HTTP middleware that authorizes authenticated
// requests. It must run after the authentication middleware; requests
// without a credential in context are rejected.
func Middleware(authorizer Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := basic.CredentialFromContext(r.Context())
			if !ok {
				util.WriteJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			decision, err := authorizer.Authorize(r.Context(), cred, r.Method, r.URL.Path)
			if err != nil {
				util.WriteJSONError(w, http.StatusInternalServerError, "authorization error")
				return
			}

			if !decision.Allowed {
				util.WriteJSONError(w, util.StatusCode(ErrForbidden), decision.Reason)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
