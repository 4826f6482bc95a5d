// Package identity resolves the active role and identity, and manages locally
// synthesized guest accounts.
package identity

import (
	"sort"
	"strings"

	"github.com/baun-edu/baun-server/internal/domain"
)

// Resolver produces the single active role consumed by the conversation
// manager, resolving three competing signal sources deterministically.
type Resolver struct {
	// routes maps role-specific path segments to roles. Kept as an explicit
	// table so route-to-role knowledge lives in one place.
	routes map[string]domain.Role

	// keys are the route segments ordered longest first, so overlapping
	// segments resolve deterministically.
	keys []string
}

// NewResolver creates a resolver with the default route table: the tutor
// interface implies student, the teaching-assistant interface implies teacher.
func NewResolver() *Resolver {
	return NewResolverWithRoutes(map[string]domain.Role{
		"/tutor":              domain.RoleStudent,
		"/teaching-assistant": domain.RoleTeacher,
	})
}

// NewResolverWithRoutes creates a resolver with a custom route table.
func NewResolverWithRoutes(routes map[string]domain.Role) *Resolver {
	keys := make([]string, 0, len(routes))
	for k := range routes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return &Resolver{routes: routes, keys: keys}
}

// RoleFromPath returns the role implied by a route path, if any. Users can
// deep-link straight into a role-specific page, so this signal must win over
// any stored profile role.
func (r *Resolver) RoleFromPath(path string) (domain.Role, bool) {
	for _, key := range r.keys {
		if containsSegment(path, key) {
			return r.routes[key], true
		}
	}
	return "", false
}

// containsSegment reports whether path contains key as whole path segments.
// "/tutor" matches "/tutor" and "/app/tutor/lesson" but not "/tutorials".
func containsSegment(path, key string) bool {
	for idx := strings.Index(path, key); idx != -1; {
		end := idx + len(key)
		if end == len(path) || path[end] == '/' || path[end] == '?' || path[end] == '#' {
			return true
		}
		next := strings.Index(path[idx+1:], key)
		if next == -1 {
			return false
		}
		idx += 1 + next
	}
	return false
}

// Resolve determines the active role with precedence, highest first:
// URL-derived role, then the profile role of the logged-in or guest user, then
// the previously resolved role. It is re-run on every navigation, not just on
// mount, so URL signals take effect immediately.
func (r *Resolver) Resolve(path string, profileRole, previous domain.Role) domain.Role {
	if role, ok := r.RoleFromPath(path); ok {
		return role
	}
	if profileRole.Valid() {
		return profileRole
	}
	return previous
}
