package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flockadmin/console/internal/rbac"
)

// PermissionMetrics implements rbac.Hook with Prometheus counters.
type PermissionMetrics struct {
	lookups  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

var _ rbac.Hook = (*PermissionMetrics)(nil)

func newPermissionMetrics(registerer prometheus.Registerer) *PermissionMetrics {
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_rbac_cache_lookups_total",
		Help: "Permission cache lookups partitioned by cache and result.",
	}, []string{"cache", "result"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_rbac_resolution_failures_total",
		Help: "Permission checks denied because storage could not be read.",
	}, []string{"module", "action"})
	registerer.MustRegister(lookups, failures)
	return &PermissionMetrics{lookups: lookups, failures: failures}
}

// CacheLookup implements rbac.Hook.
func (p *PermissionMetrics) CacheLookup(kind rbac.CacheKind, hit bool) {
	if p == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	p.lookups.WithLabelValues(string(kind), result).Inc()
}

// ResolutionFailed implements rbac.Hook. User and role are left out of the
// labels, and modules or actions outside the catalogue count as "other".
func (p *PermissionMetrics) ResolutionFailed(_ string, _ rbac.RoleID, pair rbac.Pair, _ error) {
	if p == nil {
		return
	}
	p.failures.WithLabelValues(moduleLabel(pair.Module), actionLabel(pair.Action)).Inc()
}

const otherLabel = "other"

func moduleLabel(m rbac.Module) string {
	for _, known := range rbac.KnownModules() {
		if m == known {
			return string(m)
		}
	}
	return otherLabel
}

func actionLabel(a rbac.Action) string {
	for _, known := range rbac.AllActions() {
		if a == known {
			return string(a)
		}
	}
	return otherLabel
}
