package middleware

import (
	"context"
	"net/http"
	"strings"

	"devtoolkit/internal/domain"
	"devtoolkit/pkg/jwt"
	"devtoolkit/pkg/response"
)

type contextKey string

const UserIDKey contextKey = "userID"

// TokenValidator accepts access tokens only.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware admits requests carrying a valid access token and puts the
// caller's user id in the request context. Rejections carry
// auth/invalid-token so clients know to refresh or sign in again.
func AuthMiddleware(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				response.CodedError(w, http.StatusUnauthorized, domain.CodeInvalidToken, "missing bearer token")
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				response.CodedError(w, http.StatusUnauthorized, domain.CodeInvalidToken, "invalid or expired token")
				return
			}

			recordUser(r.Context(), claims.UserID)
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, found && token != ""
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID is empty outside AuthMiddleware.
func GetUserID(r *http.Request) string {
	userID, _ := r.Context().Value(UserIDKey).(string)
	return userID
}
