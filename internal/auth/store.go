package auth

import (
	"context"
	"time"
)

// UserStore persists canonical user records.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (User, error)
	FindBySubject(ctx context.Context, subject string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, u NewUser) (User, error)
	// LinkSubject attaches a provider subject to a user that has none yet.
	LinkSubject(ctx context.Context, userID int64, claims ProviderClaims) (User, error)
	SyncProfile(ctx context.Context, userID int64, claims ProviderClaims) (User, error)
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
}

// RoleStore reads roles, permissions and grants. Every read reflects the
// current durable state; writes run in a single transaction.
type RoleStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
	FindRole(ctx context.Context, id int64) (Role, error)
	// EffectiveGrants returns grants that are effective at now. A nil
	// clientID returns grants in every scope; otherwise only grants scoped
	// to clientID or global grants.
	EffectiveGrants(ctx context.Context, userID int64, clientID *int64, now time.Time) ([]Grant, error)
	EffectivePermissions(ctx context.Context, userID int64, clientID *int64, now time.Time) ([]Permission, error)
	AllPermissions(ctx context.Context) ([]Permission, error)
	HasEffectiveRole(ctx context.Context, userID int64, roleName string, now time.Time) (bool, error)
	UserGrants(ctx context.Context, userID int64) ([]Grant, error)
	UpsertGrant(ctx context.Context, req GrantRequest) (Grant, error)
	// DeactivateGrant marks one grant inactive. For the super-role it fails
	// with ErrLastSuperAdmin unless another effective holder remains, checked
	// in the same transaction as the update.
	DeactivateGrant(ctx context.Context, userID, roleID int64, clientID *int64, now time.Time) error
}
