package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/flockadmin/console/internal/rbac"
)

// PermissionStore is the storage the permission engine runs on.
type PermissionStore interface {
	rbac.RoleStore
	rbac.OverrideStore
}

// PermissionDeps collects what BuildPermissions needs.
type PermissionDeps struct {
	Config *Config
	Logger *slog.Logger
	Store  PermissionStore
	Users  rbac.UserDirectory
	// Redis enables peer invalidation. Nil keeps invalidation local.
	Redis *redis.Client
	Hook  rbac.Hook
}

// Permissions is the wired permission engine.
type Permissions struct {
	Cache       *rbac.Cache
	Resolver    *rbac.Resolver
	Registry    *rbac.Registry
	Service     *rbac.Service
	Broadcaster *rbac.Broadcaster
	Middleware  rbac.Middleware
}

// BuildPermissions wires cache, resolver and administration service. Local
// invalidation always runs before the broadcast to peers.
func BuildPermissions(deps PermissionDeps) (*Permissions, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = &Config{RBACUserCacheSize: rbac.DefaultUserCacheSize}
	}
	cache, err := rbac.NewCache(rbac.StoreRoleSource{Store: deps.Store}, deps.Store, rbac.CacheConfig{
		TTL:           cfg.RBACCacheTTL,
		UserCacheSize: cfg.RBACUserCacheSize,
		LoadTimeout:   cfg.RBACLoadTimeout,
		Hook:          deps.Hook,
	})
	if err != nil {
		return nil, fmt.Errorf("app: permission cache: %w", err)
	}

	invalidators := rbac.Invalidators{cache}
	var broadcaster *rbac.Broadcaster
	if deps.Redis != nil {
		broadcaster = rbac.NewBroadcaster(deps.Redis, cfg.RBACInvalidationChannel, deps.Logger)
		invalidators = append(invalidators, broadcaster)
	}

	registry := rbac.NewRegistry(deps.Store, deps.Users, invalidators, deps.Logger)
	resolver := rbac.NewResolver(cache, deps.Hook, deps.Logger)
	return &Permissions{
		Cache:       cache,
		Resolver:    resolver,
		Registry:    registry,
		Service:     rbac.NewService(deps.Store, deps.Store, registry, invalidators, deps.Logger),
		Broadcaster: broadcaster,
		Middleware:  rbac.Middleware{Resolver: resolver, Logger: deps.Logger},
	}, nil
}

// ListenForPeers applies invalidations published by other instances until
// ctx ends. It is a no-op without Redis.
func (p *Permissions) ListenForPeers(ctx context.Context) error {
	if p.Broadcaster == nil {
		return nil
	}
	return p.Broadcaster.Listen(ctx, p.Cache)
}
