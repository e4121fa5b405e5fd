package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"vision2viral/internal/service"

	"github.com/rs/zerolog"
)

// Injected key type to avoid context collisions
type contextKey string

const (
	// UserContextKey holds the authenticated user id as a string.
	UserContextKey     = contextKey("user")
	identityContextKey = contextKey("identity")
)

// AuthMiddleware verifies the bearer token and stores the caller's identity
// in the request context.
func AuthMiddleware(verifier service.IdentityVerifier, logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("middleware", "auth").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Debug().Msg("Authorization header missing")
				writeError(w, http.StatusUnauthorized, "Missing token")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				log.Debug().Msg("Invalid authorization header")
				writeError(w, http.StatusUnauthorized, "Invalid authorization header")
				return
			}
			id, err := verifier.Verify(r.Context(), strings.TrimSpace(parts[1]))
			if err != nil {
				log.Warn().Err(err).Msg("Invalid token")
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id service.Identity) context.Context {
	ctx = context.WithValue(ctx, UserContextKey, id.UserID)
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFrom returns the identity stored by AuthMiddleware.
func IdentityFrom(ctx context.Context) (service.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(service.Identity)
	return id, ok && id.UserID != ""
}

// UserIDFrom returns the authenticated user id, or "".
func UserIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(UserContextKey).(string)
	return userID
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
