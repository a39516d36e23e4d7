package http

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type TokenVerifier interface {
	VerifyToken(token string) (auth.Identity, error)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// Authenticate rejects requests without a valid bearer token and stores the
// verified identity in the request context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respondWithError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			identity, err := verifier.VerifyToken(token)
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("Rejected bearer token")
				w.Header().Set("WWW-Authenticate", "Bearer")
				respondWithServiceError(w, err, "Failed to verify token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalAuthenticate attaches the identity when a valid token is present and
// otherwise lets the request through anonymously.
func OptionalAuthenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok {
				if identity, err := verifier.VerifyToken(token); err == nil {
					r = r.WithContext(auth.WithIdentity(r.Context(), identity))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole must run after Authenticate.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFrom(r.Context())
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			if !identity.HasRole(roles...) {
				log.Warn().Str("email", identity.Email).Stringer("role", identity.Role).Str("path", r.URL.Path).Msg("Forbidden: insufficient role")
				respondWithError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isStaff(r *http.Request) bool {
	identity, ok := auth.IdentityFrom(r.Context())
	return ok && identity.HasRole(user.RoleAdmin, user.RoleStaff)
}
