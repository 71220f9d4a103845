// Package rbac scopes the internal search/list surface (§6, §4.5) to a
// caller's own tenancy: a role is bound to a required tag key, and every
// filter group a caller submits is narrowed to also match one of that
// role's allowed values for the key before it ever reaches the Memory DB.
// This lets several tenants share one physical index table without one
// caller's internal token being able to read another tenant's records.
package rbac

import "github.com/connexus-ai/kernel-memory/internal/model"

// Scope binds a role to the tag key/value set every read it performs must
// satisfy. An empty Scope (zero AllowedValues) imposes no restriction —
// used for system-level callers that span tenants (ingestion workers,
// operational tooling).
type Scope struct {
	TagKey        string
	AllowedValues []string
}

// systemRoles bypass tenancy scoping entirely: their Scope has no
// AllowedValues, so Apply returns filters unchanged.
var systemRoles = map[string]bool{
	"system": true,
	"admin":  true,
	"worker": true,
}

// roleScopes maps a known tenant-facing role to the tag key/values its
// callers may read.
var roleScopes = map[string]Scope{
	"tenant-a": {TagKey: "tenant", AllowedValues: []string{"tenant-a"}},
	"tenant-b": {TagKey: "tenant", AllowedValues: []string{"tenant-b"}},
}

// ScopeFor resolves role to its Scope. System roles, and an absent role
// (no X-Caller-Role header — a trusted caller not opting into tenancy
// scoping), get an unrestricted Scope. A role that is present but not
// recognized gets a zero-AllowedValues Scope with a non-empty TagKey, so
// Apply denies rather than silently widens for a typo'd or retired role.
func ScopeFor(role string) Scope {
	if role == "" || systemRoles[role] {
		return Scope{}
	}
	if s, ok := roleScopes[role]; ok {
		return s
	}
	return Scope{TagKey: "tenant"}
}

// Apply narrows filters so every resulting AND-clause also requires one of
// s's allowed tag values. Filters with no groups is "match everything" and
// becomes one clause per allowed value (OR'd, §4.5 DNF). A Scope with no
// AllowedValues (unknown role) returns a clause requiring TagKey="", which
// no real tag value ever satisfies — denying the read instead of widening
// it.
func (s Scope) Apply(filters []model.TagFilterGroup) []model.TagFilterGroup {
	if s.TagKey == "" {
		return filters
	}
	if len(s.AllowedValues) == 0 {
		return []model.TagFilterGroup{{s.TagKey: ""}}
	}
	if len(filters) == 0 {
		filters = []model.TagFilterGroup{{}}
	}

	out := make([]model.TagFilterGroup, 0, len(filters)*len(s.AllowedValues))
	for _, g := range filters {
		for _, v := range s.AllowedValues {
			clause := make(model.TagFilterGroup, len(g)+1)
			for k, existing := range g {
				clause[k] = existing
			}
			clause[s.TagKey] = v
			out = append(out, clause)
		}
	}
	return out
}
