package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/trinck-api/internal/domain"
)

type contextKey string

const SessionKey contextKey = "session"

type sessionValidator interface {
	Validate(ctx context.Context, token string) (*domain.SessionRecord, error)
}

// Auth returns middleware that validates the Bearer session token and
// injects the session record into the request context.
func Auth(sessions sessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := BearerToken(r)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			rec, err := sessions.Validate(r.Context(), tok)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			ctx := context.WithValue(r.Context(), SessionKey, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}

// SessionFromContext returns the session set by Auth.
func SessionFromContext(ctx context.Context) (*domain.SessionRecord, bool) {
	s, ok := ctx.Value(SessionKey).(*domain.SessionRecord)
	return s, ok
}
