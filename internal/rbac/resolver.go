package rbac

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// CacheKind names one of the two resolution caches.
type CacheKind string

// Cache kinds reported to hooks.
const (
	CacheRoles CacheKind = "roles"
	CacheUsers CacheKind = "users"
)

// Hook receives resolution telemetry. Calls are made inline and must not
// block.
type Hook interface {
	CacheLookup(kind CacheKind, hit bool)
	ResolutionFailed(userID string, role RoleID, pair Pair, err error)
}

// NopHook discards telemetry.
type NopHook struct{}

// CacheLookup implements Hook.
func (NopHook) CacheLookup(CacheKind, bool) {}

// ResolutionFailed implements Hook.
func (NopHook) ResolutionFailed(string, RoleID, Pair, error) {}

// Resolver decides whether a user may perform an action on a module.
// Overrides win over role permissions, role permissions over the default
// deny. Any storage failure denies.
type Resolver struct {
	cache  *Cache
	hook   Hook
	logger *slog.Logger
}

// NewResolver constructs a Resolver reading through cache.
func NewResolver(cache *Cache, hook Hook, logger *slog.Logger) *Resolver {
	if hook == nil {
		hook = NopHook{}
	}
	return &Resolver{cache: cache, hook: hook, logger: logger}
}

// Check resolves one (module, action) pair and reports the rule that decided.
func (r *Resolver) Check(ctx context.Context, userID string, role RoleID, module Module, action Action) Decision {
	pair := Pair{Module: module, Action: action}
	overrides, err := r.cache.GetUserOverrides(ctx, userID)
	if err != nil {
		return r.fail(userID, role, pair, err)
	}
	if o, ok := overrides.Lookup(module, action); ok {
		return Decision{Allowed: o.Granted, Rule: Rule{Source: SourceOverride, Module: module, Action: action}}
	}
	set, err := r.cache.GetRoleMatrix(ctx, role)
	if err != nil {
		return r.fail(userID, role, pair, err)
	}
	return decideFromRole(set, role, module, action)
}

// HasPermission reports whether the user may perform action on module.
func (r *Resolver) HasPermission(ctx context.Context, userID string, role RoleID, module Module, action Action) bool {
	return r.Check(ctx, userID, role, module, action).Allowed
}

// HasAnyPermission is true when at least one pair is allowed. It stops at
// the first allowed pair; an empty list is false.
func (r *Resolver) HasAnyPermission(ctx context.Context, userID string, role RoleID, pairs ...Pair) bool {
	for _, p := range pairs {
		if r.HasPermission(ctx, userID, role, p.Module, p.Action) {
			return true
		}
	}
	return false
}

// HasAllPermissions is true when every pair is allowed. It stops at the
// first denied pair; an empty list is true.
func (r *Resolver) HasAllPermissions(ctx context.Context, userID string, role RoleID, pairs ...Pair) bool {
	for _, p := range pairs {
		if !r.HasPermission(ctx, userID, role, p.Module, p.Action) {
			return false
		}
	}
	return true
}

// EffectivePermissions materialises the resolved matrix of a user for
// override-editing screens. Gate decisions must use HasPermission instead.
// The returned sets are fully expanded: manage does not imply anything.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string, role RoleID) (EffectivePermissions, error) {
	var (
		overrides UserOverrides
		set       RolePermissionSet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		overrides, err = r.cache.GetUserOverrides(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		set, err = r.cache.GetRoleMatrix(gctx, role)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	modules := make(map[Module]struct{}, len(set)+len(overrides.Entries))
	for m := range set {
		modules[m] = struct{}{}
	}
	for _, o := range overrides.Entries {
		modules[o.Module] = struct{}{}
	}
	out := make(EffectivePermissions, len(modules))
	for m := range modules {
		var resolved ActionSet
		for _, a := range AllActions() {
			allowed := set.HasAction(m, a)
			if o, ok := overrides.Lookup(m, a); ok {
				allowed = o.Granted
			}
			if allowed {
				resolved = resolved.With(a)
			}
		}
		if !resolved.Empty() {
			out[m] = resolved
		}
	}
	return out, nil
}

func decideFromRole(set RolePermissionSet, role RoleID, module Module, action Action) Decision {
	granted := set.Get(module)
	rule := Rule{RoleID: role, Module: module, Action: action}
	switch {
	case granted.Contains(action):
		rule.Source = SourceRole
		return Decision{Allowed: true, Rule: rule}
	case granted.Allows(action):
		rule.Source = SourceManage
		return Decision{Allowed: true, Rule: rule}
	default:
		rule.Source = SourceDefaultDeny
		return Decision{Rule: rule}
	}
}

func (r *Resolver) fail(userID string, role RoleID, pair Pair, err error) Decision {
	r.hook.ResolutionFailed(userID, role, pair, err)
	if r.logger != nil {
		r.logger.Warn("rbac resolution failed closed",
			slog.String("user_id", userID),
			slog.String("role_id", string(role)),
			slog.String("permission", pair.String()),
			slog.Any("error", err))
	}
	return Decision{Rule: Rule{Source: SourceError, RoleID: role, Module: pair.Module, Action: pair.Action}}
}
