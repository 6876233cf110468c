package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/repo"
)

type contextKey string

const userKey contextKey = "user"

// AuthMiddleware resolves a bearer token to a concrete user identity.
// It decodes the token, loads the subject from the store, rejects tokens
// whose subject no longer exists or is deactivated, and attaches the user
// to the request context.
func AuthMiddleware(tokens *auth.TokenService, users repo.UserRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			claims, err := tokens.Decode(tokenString)
			if err != nil {
				var tokenErr *auth.InvalidTokenError
				if errors.As(err, &tokenErr) {
					log.Printf("Rejected token: %s", tokenErr.Reason)
				}
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			user, err := users.GetByID(r.Context(), claims.UserID)
			if err != nil {
				// Token subject deleted after issuance, or store failure.
				respondWithError(w, http.StatusUnauthorized, "user not found")
				return
			}

			if !user.IsActive {
				respondWithError(w, http.StatusUnauthorized, "account deactivated")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
