package rbac

import (
	"log/slog"
	"net/http"

	"github.com/flockadmin/console/internal/platform/httpx"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequireAny ensures the current principal holds at least one of the pairs.
func (m Middleware) RequireAny(pairs ...Pair) func(http.Handler) http.Handler {
	required := normalizePairs(pairs)
	return m.guard(required, func(p Principal, r *http.Request) bool {
		return m.Resolver.HasAnyPermission(r.Context(), p.UserID, p.RoleID, required...)
	})
}

// RequireAll ensures the current principal holds every pair.
func (m Middleware) RequireAll(pairs ...Pair) func(http.Handler) http.Handler {
	required := normalizePairs(pairs)
	return m.guard(required, func(p Principal, r *http.Request) bool {
		return m.Resolver.HasAllPermissions(r.Context(), p.UserID, p.RoleID, required...)
	})
}

// guard panics when no usable pair was given, so a misconfigured route fails
// at startup instead of serving unguarded.
func (m Middleware) guard(required []Pair, allowed func(Principal, *http.Request) bool) func(http.Handler) http.Handler {
	if len(required) == 0 {
		panic("rbac: guard needs at least one permission")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "identity required")
				return
			}
			if allowed(p, r) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Debug("rbac denied", slog.String("user_id", p.UserID), slog.String("path", r.URL.Path))
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		})
	}
}

func normalizePairs(pairs []Pair) []Pair {
	seen := make(map[Pair]struct{}, len(pairs))
	out := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if p.Module == "" || p.Action == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
