package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultUserCacheSize bounds the overrides-by-user cache when no size is
// configured.
const DefaultUserCacheSize = 10000

// CacheConfig tunes the resolution cache.
type CacheConfig struct {
	// TTL is a safety net for missed invalidations. Zero disables expiry.
	TTL time.Duration
	// UserCacheSize bounds the number of users whose overrides are kept.
	UserCacheSize int
	// LoadTimeout bounds each storage load. Zero means no extra deadline.
	LoadTimeout time.Duration
	Hook        Hook
	Now         func() time.Time
}

// Cache keeps role matrices and user overrides in memory in front of the
// stores. Entries are dropped by explicit invalidation; a load that started
// before an invalidation never repopulates the slot it cleared.
type Cache struct {
	roles       RoleSource
	overrides   OverrideStore
	ttl         time.Duration
	loadTimeout time.Duration
	hook        Hook
	now         func() time.Time

	group singleflight.Group

	mu sync.Mutex
	// seq counts invalidations; purgedAt is the seq of the last InvalidateAll.
	seq         uint64
	purgedAt    uint64
	roleGens    generations[RoleID]
	userGens    generations[string]
	roleEntries map[RoleID]roleEntry
	userEntries *lru.Cache[string, userEntry]
}

// generations remembers when a key was last invalidated, but only while a
// load of that key is in flight. Keys without a flight are forgotten, which
// keeps the maps as small as the number of concurrent loads.
type generations[K comparable] struct {
	flights     map[K]int
	invalidated map[K]uint64
}

func newGenerations[K comparable]() generations[K] {
	return generations[K]{flights: make(map[K]int), invalidated: make(map[K]uint64)}
}

func (g generations[K]) begin(k K) {
	g.flights[k]++
}

func (g generations[K]) end(k K) {
	if g.flights[k] <= 1 {
		delete(g.flights, k)
		delete(g.invalidated, k)
		return
	}
	g.flights[k]--
}

func (g generations[K]) bump(k K, seq uint64) {
	if g.flights[k] > 0 {
		g.invalidated[k] = seq
	}
}

func (g generations[K]) last(k K) uint64 {
	return g.invalidated[k]
}

type roleEntry struct {
	set      RolePermissionSet
	loadedAt time.Time
}

type userEntry struct {
	overrides UserOverrides
	loadedAt  time.Time
}

// NewCache constructs a Cache reading roles from roles and overrides from
// overrides.
func NewCache(roles RoleSource, overrides OverrideStore, cfg CacheConfig) (*Cache, error) {
	size := cfg.UserCacheSize
	if size <= 0 {
		size = DefaultUserCacheSize
	}
	users, err := lru.New[string, userEntry](size)
	if err != nil {
		return nil, fmt.Errorf("rbac: user cache: %w", err)
	}
	hook := cfg.Hook
	if hook == nil {
		hook = NopHook{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		roles:       roles,
		overrides:   overrides,
		ttl:         cfg.TTL,
		loadTimeout: cfg.LoadTimeout,
		hook:        hook,
		now:         now,
		roleGens:    newGenerations[RoleID](),
		userGens:    newGenerations[string](),
		roleEntries: make(map[RoleID]roleEntry),
		userEntries: users,
	}, nil
}

// GetRoleMatrix returns the permission set of a role. The result is shared
// and must not be modified.
func (c *Cache) GetRoleMatrix(ctx context.Context, id RoleID) (RolePermissionSet, error) {
	c.mu.Lock()
	if e, ok := c.roleEntries[id]; ok && c.fresh(e.loadedAt) {
		c.mu.Unlock()
		c.hook.CacheLookup(CacheRoles, true)
		return e.set, nil
	}
	started := c.seq
	key := fmt.Sprintf("role/%s/%d", id, max(c.purgedAt, c.roleGens.last(id)))
	c.roleGens.begin(id)
	c.mu.Unlock()
	c.hook.CacheLookup(CacheRoles, false)

	done := func() {
		c.mu.Lock()
		c.roleGens.end(id)
		c.mu.Unlock()
	}
	v, err := c.load(ctx, key, done, func(lctx context.Context) (any, error) {
		set, err := c.roles.RolePermissions(lctx, id)
		if err != nil {
			return nil, wrapUnavailable(err)
		}
		c.mu.Lock()
		if c.purgedAt <= started && c.roleGens.last(id) <= started {
			c.roleEntries[id] = roleEntry{set: set, loadedAt: c.now()}
		}
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(RolePermissionSet), nil
}

// GetUserOverrides returns the overrides of a user. The result is shared and
// must not be modified.
func (c *Cache) GetUserOverrides(ctx context.Context, userID string) (UserOverrides, error) {
	c.mu.Lock()
	if e, ok := c.userEntries.Get(userID); ok && c.fresh(e.loadedAt) {
		c.mu.Unlock()
		c.hook.CacheLookup(CacheUsers, true)
		return e.overrides, nil
	}
	started := c.seq
	key := fmt.Sprintf("user/%s/%d", userID, max(c.purgedAt, c.userGens.last(userID)))
	c.userGens.begin(userID)
	c.mu.Unlock()
	c.hook.CacheLookup(CacheUsers, false)

	done := func() {
		c.mu.Lock()
		c.userGens.end(userID)
		c.mu.Unlock()
	}
	v, err := c.load(ctx, key, done, func(lctx context.Context) (any, error) {
		ov, err := c.overrides.LoadOverrides(lctx, userID)
		if err != nil {
			return nil, wrapUnavailable(err)
		}
		c.mu.Lock()
		if c.purgedAt <= started && c.userGens.last(userID) <= started {
			c.userEntries.Add(userID, userEntry{overrides: ov, loadedAt: c.now()})
		}
		c.mu.Unlock()
		return ov, nil
	})
	if err != nil {
		return UserOverrides{}, err
	}
	return v.(UserOverrides), nil
}

// InvalidateRole drops the cached matrix of a role.
func (c *Cache) InvalidateRole(id RoleID) {
	c.mu.Lock()
	c.seq++
	c.roleGens.bump(id, c.seq)
	delete(c.roleEntries, id)
	c.mu.Unlock()
}

// InvalidateUser drops the cached overrides of a user.
func (c *Cache) InvalidateUser(userID string) {
	c.mu.Lock()
	c.seq++
	c.userGens.bump(userID, c.seq)
	c.userEntries.Remove(userID)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.seq++
	c.purgedAt = c.seq
	c.roleEntries = make(map[RoleID]roleEntry)
	c.userEntries.Purge()
	c.mu.Unlock()
}

// Invalidate implements Invalidator.
func (c *Cache) Invalidate(_ context.Context, inv Invalidation) {
	switch inv.Scope {
	case ScopeRole:
		c.InvalidateRole(RoleID(inv.Key))
	case ScopeUser:
		c.InvalidateUser(inv.Key)
	default:
		c.InvalidateAll()
	}
}

func (c *Cache) fresh(loadedAt time.Time) bool {
	return c.ttl <= 0 || c.now().Sub(loadedAt) < c.ttl
}

// load coalesces concurrent loads of the same key. The shared load is
// detached from the first caller's cancellation; every caller still returns
// when its own context ends. done runs once the shared load has finished,
// even for callers that gave up early.
func (c *Cache) load(ctx context.Context, key string, done func(), fn func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		lctx := context.WithoutCancel(ctx)
		if c.loadTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(lctx, c.loadTimeout)
			defer cancel()
		}
		return fn(lctx)
	})
	select {
	case <-ctx.Done():
		go func() {
			<-ch
			done()
		}()
		return nil, wrapUnavailable(ctx.Err())
	case res := <-ch:
		done()
		return res.Val, res.Err
	}
}
