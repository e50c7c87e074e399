package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/flockadmin/console/internal/platform/httpx"
	"github.com/flockadmin/console/internal/rbac"
)

// HeaderUserID carries the authenticated user id, set by the gateway in
// front of the console.
const HeaderUserID = "X-User-ID"

// UserLookup resolves a user id to an account.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// IdentityMiddleware attaches the calling user as rbac.Principal. Requests
// without the header pass through anonymous; unknown or inactive users are
// rejected.
func IdentityMiddleware(lookup UserLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			user, err := lookup.GetUser(r.Context(), id)
			switch {
			case errors.Is(err, ErrUserNotFound):
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "unknown user")
				return
			case err != nil:
				if logger != nil {
					logger.Error("identity lookup", slog.String("user_id", id), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusServiceUnavailable, "Identity Unavailable", "")
				return
			case !user.IsActive:
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "user is inactive")
				return
			}
			ctx := rbac.ContextWithPrincipal(r.Context(), user.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
