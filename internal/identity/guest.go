package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/baun-edu/baun-server/internal/domain"
	"github.com/baun-edu/baun-server/internal/store"
)

// Preference keys for guest state. Only one guest role is "current" at a time;
// switching roles keeps the other role's record so either history can be
// resumed on a return visit.
const (
	activeGuestRoleKey   = "active-guest-role"
	guestUserKeyPrefix   = "guest-user-"
	guestExpiryKeyPrefix = "guest-user-expiry-"
)

// DefaultGuestExpiry is how long a guest account stays valid after creation.
const DefaultGuestExpiry = 200 * 24 * time.Hour

// GuestManager manages time-limited guest accounts backed by the preference
// store. Expiry is lazy: records are checked and purged on read rather than by
// relying on a timer, though a sweep worker exists as a supplement.
type GuestManager struct {
	repo   store.Repository
	expiry time.Duration
	now    func() time.Time
}

// NewGuestManager creates a guest manager with the default expiry.
func NewGuestManager(repo store.Repository) *GuestManager {
	return &GuestManager{repo: repo, expiry: DefaultGuestExpiry, now: time.Now}
}

// WithExpiry overrides the guest expiry period.
func (g *GuestManager) WithExpiry(d time.Duration) *GuestManager {
	g.expiry = d
	return g
}

// WithClock overrides the wall clock, for tests.
func (g *GuestManager) WithClock(now func() time.Time) *GuestManager {
	g.now = now
	return g
}

func guestUserKey(role domain.Role) string   { return guestUserKeyPrefix + string(role) }
func guestExpiryKey(role domain.Role) string { return guestExpiryKeyPrefix + string(role) }

// Create synthesizes a new guest account for the role and stores it with its
// expiry timestamp. Any prior record for the role is overwritten.
func (g *GuestManager) Create(ctx context.Context, role domain.Role) (*domain.GuestUser, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid guest role %q", role)
	}

	user := domain.NewGuestUser(role)
	user.CreatedAt = g.now()

	raw, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("marshal guest user: %w", err)
	}
	if err := g.repo.SetPreference(ctx, guestUserKey(role), string(raw)); err != nil {
		return nil, err
	}
	expiresAt := g.now().Add(g.expiry).UTC().Format(time.RFC3339)
	if err := g.repo.SetPreference(ctx, guestExpiryKey(role), expiresAt); err != nil {
		return nil, err
	}

	slog.Info("Created guest user", "role", role, "id", user.ID, "expires_at", expiresAt)
	return user, nil
}

// Get returns the guest record for a role, or nil when none exists. An expired
// record is purged on read and reported as absent.
func (g *GuestManager) Get(ctx context.Context, role domain.Role) (*domain.GuestUser, error) {
	raw, err := g.repo.GetPreference(ctx, guestUserKey(role))
	if err != nil {
		return nil, err
	}
	expiryStr, err := g.repo.GetPreference(ctx, guestExpiryKey(role))
	if err != nil {
		return nil, err
	}
	if raw == "" || expiryStr == "" {
		return nil, nil
	}

	expiry, err := time.Parse(time.RFC3339, expiryStr)
	if err != nil || expiry.Before(g.now()) {
		if purgeErr := g.Clear(ctx, role); purgeErr != nil {
			slog.Warn("Failed to purge expired guest record", "role", role, "error", purgeErr)
		}
		return nil, nil
	}

	var user domain.GuestUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		// Undecodable guest records are purged like expired ones.
		if purgeErr := g.Clear(ctx, role); purgeErr != nil {
			slog.Warn("Failed to purge corrupt guest record", "role", role, "error", purgeErr)
		}
		return nil, nil
	}
	return &user, nil
}

// Has reports whether a live guest account exists for the role, purging an
// expired record as a side effect. Repeated calls after expiry are idempotent.
func (g *GuestManager) Has(ctx context.Context, role domain.Role) (bool, error) {
	user, err := g.Get(ctx, role)
	if err != nil {
		return false, err
	}
	return user != nil, nil
}

// ActiveRole returns the currently active guest role, or "" when none is set.
func (g *GuestManager) ActiveRole(ctx context.Context) (domain.Role, error) {
	raw, err := g.repo.GetPreference(ctx, activeGuestRoleKey)
	if err != nil {
		return "", err
	}
	role := domain.Role(raw)
	if !role.Valid() {
		return "", nil
	}
	return role, nil
}

// SetActiveRole marks role as the current guest role.
func (g *GuestManager) SetActiveRole(ctx context.Context, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid guest role %q", role)
	}
	return g.repo.SetPreference(ctx, activeGuestRoleKey, string(role))
}

// ClearActiveRole unsets the current guest role (guest logout).
func (g *GuestManager) ClearActiveRole(ctx context.Context) error {
	return g.repo.DeletePreference(ctx, activeGuestRoleKey)
}

// SwitchRole makes role the active guest role, creating a guest account for it
// if none exists. The other role's record is left untouched.
func (g *GuestManager) SwitchRole(ctx context.Context, role domain.Role) (*domain.GuestUser, error) {
	user, err := g.Get(ctx, role)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user, err = g.Create(ctx, role)
		if err != nil {
			return nil, err
		}
	}
	if err := g.SetActiveRole(ctx, role); err != nil {
		return nil, err
	}
	return user, nil
}

// Clear removes the guest record for one role. If that role was active, the
// active-role marker is cleared too.
func (g *GuestManager) Clear(ctx context.Context, role domain.Role) error {
	if err := g.repo.DeletePreference(ctx, guestUserKey(role)); err != nil {
		return err
	}
	if err := g.repo.DeletePreference(ctx, guestExpiryKey(role)); err != nil {
		return err
	}
	active, err := g.ActiveRole(ctx)
	if err != nil {
		return err
	}
	if active == role {
		return g.ClearActiveRole(ctx)
	}
	return nil
}

// ClearAll removes guest data for both roles and the active-role marker.
func (g *GuestManager) ClearAll(ctx context.Context) error {
	for _, role := range []domain.Role{domain.RoleStudent, domain.RoleTeacher} {
		if err := g.Clear(ctx, role); err != nil {
			return err
		}
	}
	return g.ClearActiveRole(ctx)
}

// StartExpiryWorker runs a background goroutine that periodically sweeps both
// roles for expired guest records. Lazy expiry on read already guarantees
// correctness; the sweep just keeps stale records from lingering.
func (g *GuestManager) StartExpiryWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Guest expiry worker started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				for _, role := range []domain.Role{domain.RoleStudent, domain.RoleTeacher} {
					if _, err := g.Has(ctx, role); err != nil {
						slog.Warn("Guest expiry sweep failed", "role", role, "error", err)
					}
				}
			case <-ctx.Done():
				slog.Info("Guest expiry worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
