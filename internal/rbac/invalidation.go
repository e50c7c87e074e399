package rbac

import "context"

// InvalidationScope selects which cache entries an invalidation drops.
type InvalidationScope string

// Invalidation scopes.
const (
	ScopeRole InvalidationScope = "role"
	ScopeUser InvalidationScope = "user"
	ScopeAll  InvalidationScope = "all"
)

// Invalidation describes cache entries made stale by a committed write.
type Invalidation struct {
	Scope InvalidationScope `json:"scope"`
	Key   string            `json:"key,omitempty"`
}

// RoleInvalidation targets the matrix of one role.
func RoleInvalidation(id RoleID) Invalidation {
	return Invalidation{Scope: ScopeRole, Key: string(id)}
}

// UserInvalidation targets the overrides of one user.
func UserInvalidation(userID string) Invalidation {
	return Invalidation{Scope: ScopeUser, Key: userID}
}

// AllInvalidation targets every entry.
func AllInvalidation() Invalidation {
	return Invalidation{Scope: ScopeAll}
}

// Invalidator reacts to committed writes. Implementations must not fail the
// write: errors are theirs to log.
type Invalidator interface {
	Invalidate(ctx context.Context, inv Invalidation)
}

// Invalidators fans an invalidation out in order. The local cache goes first
// so the caller's next read never sees stale data, whatever peers do.
type Invalidators []Invalidator

// Invalidate implements Invalidator.
func (is Invalidators) Invalidate(ctx context.Context, inv Invalidation) {
	for _, i := range is {
		if i != nil {
			i.Invalidate(ctx, inv)
		}
	}
}
