package rbac

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Module identifies a protected functional area of the console.
type Module string

// Known modules. The set is open: any well-formed module name is accepted so
// stored data keeps resolving when new areas are introduced.
const (
	ModuleMembers       Module = "members"
	ModuleFinance       Module = "finance"
	ModuleSettings      Module = "settings"
	ModuleBlog          Module = "blog"
	ModuleEvents        Module = "events"
	ModuleDevotionals   Module = "devotionals"
	ModuleReports       Module = "reports"
	ModuleMinistries    Module = "ministries"
	ModuleGroups        Module = "groups"
	ModuleNotifications Module = "notifications"
	ModuleUsers         Module = "users"
	ModuleRoles         Module = "roles"
)

var modulePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// KnownModules lists the modules shipped with the console.
func KnownModules() []Module {
	return []Module{
		ModuleMembers,
		ModuleFinance,
		ModuleSettings,
		ModuleBlog,
		ModuleEvents,
		ModuleDevotionals,
		ModuleReports,
		ModuleMinistries,
		ModuleGroups,
		ModuleNotifications,
		ModuleUsers,
		ModuleRoles,
	}
}

// Valid reports whether the module name is well formed.
func (m Module) Valid() bool {
	return modulePattern.MatchString(string(m))
}

// Action is an operation kind on a module.
type Action string

// Supported actions.
const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// AllActions returns every action in display order.
func AllActions() []Action {
	return []Action{ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionManage}
}

// ParseAction normalises and validates an action name.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	if a.bit() == 0 {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidPermission, raw)
	}
	return a, nil
}

func (a Action) bit() ActionSet {
	switch a {
	case ActionView:
		return 1 << 0
	case ActionCreate:
		return 1 << 1
	case ActionUpdate:
		return 1 << 2
	case ActionDelete:
		return 1 << 3
	case ActionManage:
		return 1 << 4
	}
	return 0
}

// implied reports whether manage covers the action.
func (a Action) implied() bool {
	switch a {
	case ActionView, ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ActionSet is a set of actions. Duplicates cannot be represented.
type ActionSet uint8

// NewActionSet builds a set from the given actions, ignoring unknown ones.
func NewActionSet(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s |= a.bit()
	}
	return s
}

// Contains reports literal membership, without manage implication.
func (s ActionSet) Contains(a Action) bool {
	b := a.bit()
	return b != 0 && s&b == b
}

// Allows reports membership with manage implying view/create/update/delete.
func (s ActionSet) Allows(a Action) bool {
	if s.Contains(a) {
		return true
	}
	return a.implied() && s.Contains(ActionManage)
}

// With returns a copy of the set including a.
func (s ActionSet) With(a Action) ActionSet { return s | a.bit() }

// Without returns a copy of the set excluding a.
func (s ActionSet) Without(a Action) ActionSet { return s &^ a.bit() }

// Empty reports whether the set has no actions.
func (s ActionSet) Empty() bool { return s == 0 }

// Actions lists members in display order.
func (s ActionSet) Actions() []Action {
	out := make([]Action, 0, 5)
	for _, a := range AllActions() {
		if s.Contains(a) {
			out = append(out, a)
		}
	}
	return out
}

// Expand materialises manage into the actions it implies.
func (s ActionSet) Expand() ActionSet {
	if s.Contains(ActionManage) {
		return s | NewActionSet(ActionView, ActionCreate, ActionUpdate, ActionDelete)
	}
	return s
}

// MarshalJSON encodes the set as an array of action names.
func (s ActionSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 5)
	for _, a := range s.Actions() {
		names = append(names, string(a))
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes an array of action names.
func (s *ActionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out ActionSet
	for _, n := range names {
		a, err := ParseAction(n)
		if err != nil {
			return err
		}
		out = out.With(a)
	}
	*s = out
	return nil
}

// RoleID identifies a built-in or custom role.
type RoleID string

// Built-in roles, in catalogue order.
const (
	RoleAdmin        RoleID = "admin"
	RoleSecretary    RoleID = "secretary"
	RoleProfessional RoleID = "professional"
	RoleLeader       RoleID = "leader"
	RoleMember       RoleID = "member"
)

var builtinRoles = []RoleDescriptor{
	{ID: RoleAdmin, DisplayName: "Administrator", Description: "Full access to every module", BuiltIn: true},
	{ID: RoleSecretary, DisplayName: "Secretary", Description: "Membership records, content and events", BuiltIn: true},
	{ID: RoleProfessional, DisplayName: "Professional", Description: "Pastoral and counselling staff", BuiltIn: true},
	{ID: RoleLeader, DisplayName: "Leader", Description: "Ministry and group leaders", BuiltIn: true},
	{ID: RoleMember, DisplayName: "Member", Description: "Congregation member", BuiltIn: true},
}

// BuiltinRoles returns descriptors for the fixed roles in catalogue order.
func BuiltinRoles() []RoleDescriptor {
	out := make([]RoleDescriptor, len(builtinRoles))
	copy(out, builtinRoles)
	return out
}

// IsBuiltin reports whether id names a built-in role.
func IsBuiltin(id RoleID) bool {
	_, ok := builtinDescriptor(id)
	return ok
}

func builtinDescriptor(id RoleID) (RoleDescriptor, bool) {
	for _, d := range builtinRoles {
		if d.ID == id {
			return d, true
		}
	}
	return RoleDescriptor{}, false
}

// RoleDescriptor is a catalogue entry.
type RoleDescriptor struct {
	ID          RoleID    `json:"id"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
	BuiltIn     bool      `json:"built_in"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// CustomRole is an administrator-defined role.
type CustomRole struct {
	ID          RoleID
	DisplayName string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Descriptor converts the role to a catalogue entry.
func (r CustomRole) Descriptor() RoleDescriptor {
	return RoleDescriptor{ID: r.ID, DisplayName: r.DisplayName, Description: r.Description, CreatedAt: r.CreatedAt}
}

// CustomRolePatch carries optional changes to a custom role.
type CustomRolePatch struct {
	DisplayName *string
	Description *string
	Permissions *RolePermissionSet
}

// Pair is a (module, action) request.
type Pair struct {
	Module Module `json:"module" validate:"required"`
	Action Action `json:"action" validate:"required"`
}

func (p Pair) String() string { return string(p.Module) + ":" + string(p.Action) }

// Override grants or denies one (module, action) for a single user.
type Override struct {
	Module  Module `json:"module"`
	Action  Action `json:"action"`
	Granted bool   `json:"granted"`
}

// UserOverrides is the full override list of one user.
type UserOverrides struct {
	UserID    string     `json:"user_id"`
	Entries   []Override `json:"entries"`
	Revision  string     `json:"revision,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

// Lookup returns the authoritative entry for (module, action). When the list
// carries several entries for the same pair the last one wins.
func (u UserOverrides) Lookup(module Module, action Action) (Override, bool) {
	for i := len(u.Entries) - 1; i >= 0; i-- {
		o := u.Entries[i]
		if o.Module == module && o.Action == action {
			return o, true
		}
	}
	return Override{}, false
}

// RuleSource names where a decision came from.
type RuleSource string

// Decision sources.
const (
	SourceOverride    RuleSource = "override"
	SourceRole        RuleSource = "role"
	SourceManage      RuleSource = "manage"
	SourceDefaultDeny RuleSource = "default_deny"
	SourceError       RuleSource = "error"
)

// Rule describes the rule that produced a decision.
type Rule struct {
	Source RuleSource `json:"source"`
	RoleID RoleID     `json:"role_id,omitempty"`
	Module Module     `json:"module"`
	Action Action     `json:"action"`
}

// Decision is the outcome of a single permission check.
type Decision struct {
	Allowed bool `json:"allowed"`
	Rule    Rule `json:"rule"`
}

// EffectivePermissions maps modules to the resolved action set of a user.
type EffectivePermissions map[Module]ActionSet

// Modules returns the module keys sorted by name.
func (e EffectivePermissions) Modules() []Module {
	out := make([]Module, 0, len(e))
	for m := range e {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Allows reports whether the resolved set for module contains action. Sets are
// fully expanded, so manage is not consulted.
func (e EffectivePermissions) Allows(module Module, action Action) bool {
	return e[module].Contains(action)
}
