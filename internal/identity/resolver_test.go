package identity

import (
	"testing"

	"github.com/baun-edu/baun-server/internal/domain"
)

func TestResolverPrecedence(t *testing.T) {
	t.Parallel()

	r := NewResolver()

	tests := []struct {
		name        string
		path        string
		profileRole domain.Role
		previous    domain.Role
		want        domain.Role
	}{
		{
			name:        "url overrides profile role",
			path:        "/ai/tutor",
			profileRole: domain.RoleTeacher,
			previous:    domain.RoleTeacher,
			want:        domain.RoleStudent,
		},
		{
			name:        "teaching assistant path implies teacher",
			path:        "/ai/teaching-assistant",
			profileRole: domain.RoleStudent,
			want:        domain.RoleTeacher,
		},
		{
			name:        "profile role on neutral route",
			path:        "/settings",
			profileRole: domain.RoleStudent,
			previous:    domain.RoleTeacher,
			want:        domain.RoleStudent,
		},
		{
			name:     "previous role when no other signal",
			path:     "/settings",
			previous: domain.RoleTeacher,
			want:     domain.RoleTeacher,
		},
		{
			name: "no signal at all",
			path: "/",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := r.Resolve(tt.path, tt.profileRole, tt.previous)
			if got != tt.want {
				t.Errorf("Resolve(%q, %q, %q) = %q, want %q", tt.path, tt.profileRole, tt.previous, got, tt.want)
			}
		})
	}
}

func TestRoleFromPath(t *testing.T) {
	t.Parallel()

	r := NewResolver()

	tests := []struct {
		path    string
		want    domain.Role
		wantHit bool
	}{
		{path: "/ai/tutor", want: domain.RoleStudent, wantHit: true},
		{path: "/tutor", want: domain.RoleStudent, wantHit: true},
		{path: "/tutor/lesson", want: domain.RoleStudent, wantHit: true},
		{path: "/ai/teaching-assistant", want: domain.RoleTeacher, wantHit: true},
		{path: "/library", wantHit: false},
		// A route that merely starts with a role segment is not that route.
		{path: "/tutorials", wantHit: false},
		{path: "/ai/tutoring/session", wantHit: false},
	}

	for _, tt := range tests {
		role, ok := r.RoleFromPath(tt.path)
		if ok != tt.wantHit || role != tt.want {
			t.Errorf("RoleFromPath(%q) = %q, %v, want %q, %v", tt.path, role, ok, tt.want, tt.wantHit)
		}
	}
}
