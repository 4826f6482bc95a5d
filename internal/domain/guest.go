package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GuestUser is a locally synthesized, time-limited account substitute. It
// requires no server-side registration and expires after a configurable period.
type GuestUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewGuestUser synthesizes a guest account for the given role.
func NewGuestUser(role Role) *GuestUser {
	return &GuestUser{
		ID:        fmt.Sprintf("guest-%s-%s", role, uuid.NewString()[:8]),
		Name:      "Guest " + titleCase(string(role)),
		Role:      role,
		CreatedAt: time.Now(),
	}
}

// IsGuestID reports whether an identity id was synthesized for a guest.
func IsGuestID(id string) bool {
	return id == "" || strings.HasPrefix(id, "guest-")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
