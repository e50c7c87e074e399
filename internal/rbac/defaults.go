package rbac

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var shippedDefaults = mustParseDefaults(defaultsYAML)

func mustParseDefaults(raw []byte) Matrix {
	m, err := ParseDefaults(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseDefaults decodes a role -> module -> actions YAML document.
func ParseDefaults(raw []byte) (Matrix, error) {
	var doc map[string]map[string][]string
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("rbac: parse defaults: %w", err)
	}
	out := Matrix{}
	for role, modules := range doc {
		for module, names := range modules {
			m := Module(module)
			if !m.Valid() {
				return nil, fmt.Errorf("rbac: defaults for %s: %w: malformed module %q", role, ErrInvalidPermission, module)
			}
			var set ActionSet
			for _, n := range names {
				a, err := ParseAction(n)
				if err != nil {
					return nil, fmt.Errorf("rbac: defaults for %s/%s: %w", role, module, err)
				}
				set = set.With(a)
			}
			out.Set(RoleID(role), m, set)
		}
	}
	return out, nil
}

// DefaultPermissions returns the shipped permission set of a built-in role.
// The boolean is false for custom or unknown roles.
func DefaultPermissions(id RoleID) (RolePermissionSet, bool) {
	if !IsBuiltin(id) {
		return nil, false
	}
	return shippedDefaults.Role(id), true
}
