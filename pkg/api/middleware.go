package api

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"github.com/crewlytics/crewsync/pkg/contextkeys"
	"github.com/crewlytics/crewsync/pkg/httputil"
	"github.com/crewlytics/crewsync/pkg/identity"
	"github.com/crewlytics/crewsync/pkg/observability"
)

// RequestIDMiddleware assigns every request a UUID, echoed in the
// X-Request-ID response header and attached to the context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthMiddleware resolves the bearer token into an identity. Claims
// are decoded fresh on every request; a role change in the identity
// store takes effect on the caller's next request.
type AuthMiddleware struct {
	resolver *identity.Resolver
}

// NewAuthMiddleware creates authentication middleware
func NewAuthMiddleware(resolver *identity.Resolver) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		ident, err := m.resolver.Resolve(parts[1])
		if err != nil {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromRequest extracts the resolved identity from the request
// context. Nil means the auth middleware did not run.
func IdentityFromRequest(r *http.Request) *identity.Identity {
	ident, _ := r.Context().Value(contextkeys.IdentityKey).(*identity.Identity)
	return ident
}

// RecoveryMiddleware converts handler panics into 500 responses
func RecoveryMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if logger != nil {
						logger.WithFields(map[string]interface{}{
							"panic": rec,
							"path":  r.URL.Path,
							"stack": string(debug.Stack()),
						}).Error("handler panic")
					}
					httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
