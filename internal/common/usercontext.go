package common

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey string

const userIDKey ctxKey = "user_id"

// WithUserID stores the authenticated user identifier in the context.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated user identifier from the context.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// RequireUser resolves the calling user from the X-User-ID header set
// by the authenticating edge. Authentication itself happens upstream.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if raw == "" {
			JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user identity", nil)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user identity", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}
