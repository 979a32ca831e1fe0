package auth

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Accessor computes effective roles and permissions. Nothing is cached: each
// call re-reads grant state so a revocation is visible on the next request.
type Accessor struct {
	roles RoleStore
	now   func() time.Time
}

// AccessorOption configures Accessor behavior.
type AccessorOption func(*Accessor)

// WithAccessorClock overrides the time source used for expiry checks.
func WithAccessorClock(fn func() time.Time) AccessorOption {
	return func(a *Accessor) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAccessor constructs an Accessor over the role store.
func NewAccessor(roles RoleStore, opts ...AccessorOption) *Accessor {
	a := &Accessor{roles: roles, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListRoles returns every active role with its permissions.
func (a *Accessor) ListRoles(ctx context.Context) ([]Role, error) {
	return a.roles.ListRoles(ctx)
}

// GetRole returns one active role with its permissions.
func (a *Accessor) GetRole(ctx context.Context, id int64) (Role, error) {
	if id <= 0 {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return a.roles.FindRole(ctx, id)
}

// UserGrants returns every grant of a user, effective or not.
func (a *Accessor) UserGrants(ctx context.Context, userID int64) ([]Grant, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return a.roles.UserGrants(ctx, userID)
}

// EffectiveRoles returns the distinct effective roles ordered by level.
func (a *Accessor) EffectiveRoles(ctx context.Context, userID int64, clientID *int64) ([]Role, error) {
	grants, err := a.roles.EffectiveGrants(ctx, userID, clientID, a.now())
	if err != nil {
		return nil, err
	}
	return rolesFromGrants(grants), nil
}

// EffectivePermissions returns the flattened permission names of the
// effective roles. Super-role holders receive the whole catalogue.
func (a *Accessor) EffectivePermissions(ctx context.Context, userID int64, clientID *int64) (PermissionSet, error) {
	super, err := a.IsSuperAdmin(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.permissions(ctx, userID, clientID, super)
}

// IsSuperAdmin reports whether the user holds an effective super-role grant.
func (a *Accessor) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	return a.roles.HasEffectiveRole(ctx, userID, SuperRoleName, a.now())
}

// HasPermission reports whether the user holds name in the given scope.
func (a *Accessor) HasPermission(ctx context.Context, userID int64, clientID *int64, name string) (bool, error) {
	perms, err := a.EffectivePermissions(ctx, userID, clientID)
	if err != nil {
		return false, err
	}
	return perms.Has(name), nil
}

// Load attaches every effective grant, role and permission to user.
func (a *Accessor) Load(ctx context.Context, user User) (Identity, error) {
	grants, err := a.roles.EffectiveGrants(ctx, user.ID, nil, a.now())
	if err != nil {
		return Identity{}, err
	}
	roles := rolesFromGrants(grants)
	super := false
	for _, r := range roles {
		if r.Name == SuperRoleName {
			super = true
			break
		}
	}
	perms, err := a.permissions(ctx, user.ID, nil, super)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		User:        user,
		Roles:       roles,
		Grants:      grants,
		Permissions: perms,
		SuperAdmin:  super,
	}, nil
}

// AssignRole grants a role to a user on behalf of actor. Re-granting the
// same (user, role, client) triple reactivates and updates the existing row.
func (a *Accessor) AssignRole(ctx context.Context, actor Identity, req GrantRequest) (Grant, error) {
	if req.UserID <= 0 {
		return Grant{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if req.RoleID <= 0 {
		return Grant{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if req.ClientID != nil && *req.ClientID <= 0 {
		return Grant{}, fmt.Errorf("%w: client id must be positive", ErrInvalidInput)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(a.now()) {
		return Grant{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	role, err := a.roles.FindRole(ctx, req.RoleID)
	if err != nil {
		return Grant{}, err
	}
	if err := a.authorizeRoleChange(ctx, actor, role, req.ClientID); err != nil {
		return Grant{}, err
	}
	return a.roles.UpsertGrant(ctx, req)
}

// RemoveRole deactivates a grant on behalf of actor. The super-role cannot be
// removed from the last user holding it.
func (a *Accessor) RemoveRole(ctx context.Context, actor Identity, userID, roleID int64, clientID *int64) error {
	if userID <= 0 || roleID <= 0 {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	role, err := a.roles.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := a.authorizeRoleChange(ctx, actor, role, clientID); err != nil {
		return err
	}
	return a.roles.DeactivateGrant(ctx, userID, roleID, clientID, a.now())
}

// authorizeRoleChange lets super-role holders change any grant. Everyone else
// is limited to grants scoped to a client they hold a grant in, and to roles
// no stronger than their own best role there.
func (a *Accessor) authorizeRoleChange(ctx context.Context, actor Identity, role Role, clientID *int64) error {
	if actor.User.ID <= 0 {
		return NotAuthenticated()
	}
	super, err := a.IsSuperAdmin(ctx, actor.User.ID)
	if err != nil {
		return err
	}
	if super {
		return nil
	}
	if role.Name == SuperRoleName {
		return RoleChangeDenied("the super-role can only be changed by a super admin")
	}
	if clientID == nil {
		return RoleChangeDenied("global grants require the super-role")
	}
	grants, err := a.roles.EffectiveGrants(ctx, actor.User.ID, clientID, a.now())
	if err != nil {
		return err
	}
	best, scoped := 0, false
	for i, g := range grants {
		if g.ClientID != nil && *g.ClientID == *clientID {
			scoped = true
		}
		if i == 0 || g.RoleLevel < best {
			best = g.RoleLevel
		}
	}
	if !scoped {
		return errClientAccessDenied(*clientID)
	}
	if role.Level < best {
		return RoleChangeDenied("role outranks the caller's own role in this client").
			With("roleLevel", role.Level).
			With("callerLevel", best)
	}
	return nil
}

func (a *Accessor) permissions(ctx context.Context, userID int64, clientID *int64, super bool) (PermissionSet, error) {
	var (
		list []Permission
		err  error
	)
	if super {
		list, err = a.roles.AllPermissions(ctx)
	} else {
		list, err = a.roles.EffectivePermissions(ctx, userID, clientID, a.now())
	}
	if err != nil {
		return nil, err
	}
	set := make(PermissionSet, len(list))
	for _, p := range list {
		set[p.Name] = struct{}{}
	}
	return set, nil
}

func rolesFromGrants(grants []Grant) []Role {
	seen := make(map[int64]struct{}, len(grants))
	roles := make([]Role, 0, len(grants))
	for _, g := range grants {
		if _, ok := seen[g.RoleID]; ok {
			continue
		}
		seen[g.RoleID] = struct{}{}
		roles = append(roles, Role{ID: g.RoleID, Name: g.RoleName, DisplayName: g.RoleTitle, Level: g.RoleLevel, Active: true})
	}
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level < roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
	return roles
}
