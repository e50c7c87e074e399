package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
)

var errStoreDown = errors.New("connection refused")

// spyStore wraps MemoryStore with load counters, failure injection and an
// optional gate that parks loads until the test releases them.
type spyStore struct {
	*MemoryStore

	mu        sync.Mutex
	roleLoads map[RoleID]int
	userLoads map[string]int
	failRoles error
	failUsers error
	failWrite error

	gate    chan struct{}
	entered chan struct{}
}

func newSpyStore() *spyStore {
	return &spyStore{
		MemoryStore: NewMemoryStore(),
		roleLoads:   make(map[RoleID]int),
		userLoads:   make(map[string]int),
	}
}

// hold makes every subsequent load block until release is called.
func (s *spyStore) hold() {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 64)
	s.mu.Unlock()
}

func (s *spyStore) release() {
	s.mu.Lock()
	gate := s.gate
	s.gate = nil
	s.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (s *spyStore) wait() {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if gate == nil {
		return
	}
	entered <- struct{}{}
	<-gate
}

func (s *spyStore) setFailRoles(err error) {
	s.mu.Lock()
	s.failRoles = err
	s.mu.Unlock()
}

func (s *spyStore) setFailUsers(err error) {
	s.mu.Lock()
	s.failUsers = err
	s.mu.Unlock()
}

func (s *spyStore) roleLoadCount(id RoleID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roleLoads[id]
}

func (s *spyStore) userLoadCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userLoads[id]
}

func (s *spyStore) LoadRolePermissions(ctx context.Context, id RoleID) (RolePermissionSet, error) {
	s.mu.Lock()
	s.roleLoads[id]++
	fail := s.failRoles
	s.mu.Unlock()
	s.wait()
	if fail != nil {
		return nil, wrapUnavailable(fail)
	}
	return s.MemoryStore.LoadRolePermissions(ctx, id)
}

func (s *spyStore) LoadOverrides(ctx context.Context, userID string) (UserOverrides, error) {
	s.mu.Lock()
	s.userLoads[userID]++
	fail := s.failUsers
	s.mu.Unlock()
	s.wait()
	if fail != nil {
		return UserOverrides{}, wrapUnavailable(fail)
	}
	return s.MemoryStore.LoadOverrides(ctx, userID)
}

func (s *spyStore) SaveRolePermissions(ctx context.Context, id RoleID, set RolePermissionSet) error {
	s.mu.Lock()
	fail := s.failWrite
	s.mu.Unlock()
	if fail != nil {
		return wrapUnavailable(fail)
	}
	return s.MemoryStore.SaveRolePermissions(ctx, id, set)
}

func (s *spyStore) SaveOverrides(ctx context.Context, userID string, entries []Override, expectedRevision string) (UserOverrides, error) {
	s.mu.Lock()
	fail := s.failWrite
	s.mu.Unlock()
	if fail != nil {
		return UserOverrides{}, wrapUnavailable(fail)
	}
	return s.MemoryStore.SaveOverrides(ctx, userID, entries, expectedRevision)
}

// recordingHook captures hook calls.
type recordingHook struct {
	mu       sync.Mutex
	hits     map[CacheKind]int
	misses   map[CacheKind]int
	failures []Pair
}

func newRecordingHook() *recordingHook {
	return &recordingHook{hits: map[CacheKind]int{}, misses: map[CacheKind]int{}}
}

func (h *recordingHook) CacheLookup(kind CacheKind, hit bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hit {
		h.hits[kind]++
	} else {
		h.misses[kind]++
	}
}

func (h *recordingHook) ResolutionFailed(_ string, _ RoleID, pair Pair, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, pair)
}

func (h *recordingHook) failureCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.failures)
}

// recordingInvalidator remembers invalidations in order.
type recordingInvalidator struct {
	mu   sync.Mutex
	seen []Invalidation
}

func (r *recordingInvalidator) Invalidate(_ context.Context, inv Invalidation) {
	r.mu.Lock()
	r.seen = append(r.seen, inv)
	r.mu.Unlock()
}

func (r *recordingInvalidator) all() []Invalidation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invalidation(nil), r.seen...)
}

// fakeDirectory counts users per role.
type fakeDirectory struct {
	counts map[RoleID]int
	err    error
}

func (f fakeDirectory) CountUsersWithRole(_ context.Context, id RoleID) (int, error) {
	return f.counts[id], f.err
}

// engine is the wired engine used across tests.
type engine struct {
	store    *spyStore
	cache    *Cache
	resolver *Resolver
	registry *Registry
	service  *Service
	hook     *recordingHook
	recorder *recordingInvalidator
}

func newEngine(t *testing.T, users UserDirectory) *engine {
	t.Helper()
	store := newSpyStore()
	hook := newRecordingHook()
	cache, err := NewCache(StoreRoleSource{Store: store}, store, CacheConfig{Hook: hook})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	recorder := &recordingInvalidator{}
	invalidators := Invalidators{cache, recorder}
	registry := NewRegistry(store, users, invalidators, nil)
	return &engine{
		store:    store,
		cache:    cache,
		resolver: NewResolver(cache, hook, nil),
		registry: registry,
		service:  NewService(store, store, registry, invalidators, nil),
		hook:     hook,
		recorder: recorder,
	}
}
