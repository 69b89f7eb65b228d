package middleware

import (
	"net/http"
	"strings"

	"jungleboard/shared/authx"
	"jungleboard/shared/httpx"
)

type AuthMiddleware struct {
	Verifier *authx.JWTVerifier
	// Optional lets unauthenticated requests through without an auth context;
	// a presented token is still verified and rejected when invalid.
	Optional bool
	Skip     func(*http.Request) bool
}

func (m AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		hasToken := strings.HasPrefix(strings.ToLower(authHeader), "bearer ")

		if !hasToken {
			if m.Optional {
				next.ServeHTTP(w, r)
				return
			}
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token", nil)
			return
		}

		if m.Verifier == nil {
			if m.Optional {
				next.ServeHTTP(w, r)
				return
			}
			httpx.WriteError(w, r, http.StatusInternalServerError, "FAILED_PRECONDITION", "auth verifier not configured", nil)
			return
		}

		token := strings.TrimSpace(authHeader[len("bearer "):])
		auth, err := m.Verifier.Verify(r.Context(), token)
		if err != nil {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token", nil)
			return
		}

		ctx := authx.WithAuth(r.Context(), auth)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
