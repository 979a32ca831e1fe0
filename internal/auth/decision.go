package auth

import (
	"go.uber.org/zap"
)

// Engine makes allow/deny decisions against a resolved identity. Checks are
// pure apart from logging denials.
type Engine struct {
	legacy LegacyRoles
	log    *zap.Logger
}

// NewEngine constructs an Engine using the given legacy role mapping.
func NewEngine(legacy LegacyRoles, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{legacy: legacy, log: log}
}

// Legacy returns the loaded legacy role mapping.
func (e *Engine) Legacy() LegacyRoles { return e.legacy }

// RequirePermission allows super-role holders and holders of name.
func (e *Engine) RequirePermission(id Identity, name string) error {
	if id.SuperAdmin || id.Permissions.Has(name) {
		return nil
	}
	e.deny(id, "permission", []string{name})
	return NewError(KindForbidden, CodeInsufficientPermission, "insufficient permission").
		With("required", name).
		With("userPermissions", id.Permissions.Names())
}

// RequireAnyPermission allows super-role holders and holders of any of names.
func (e *Engine) RequireAnyPermission(id Identity, names ...string) error {
	if id.SuperAdmin || id.Permissions.Any(names...) {
		return nil
	}
	e.deny(id, "any_permission", names)
	return NewError(KindForbidden, CodeInsufficientPermission, "insufficient permission").
		With("required", names).
		With("userPermissions", id.Permissions.Names())
}

// RequireRole allows super-role holders, holders of one of the named roles,
// and users whose permissions cover the legacy bundle of one of the names.
func (e *Engine) RequireRole(id Identity, names ...string) error {
	if id.SuperAdmin {
		return nil
	}
	for _, name := range names {
		if id.HasRole(name) {
			return nil
		}
		if perms, ok := e.legacy.Permissions(name); ok && id.Permissions.Contains(perms) {
			return nil
		}
	}
	e.deny(id, "role", names)
	return NewError(KindForbidden, CodeInsufficientRole, "insufficient role").
		With("required", names).
		With("current", id.RoleNames())
}

// RequireClientAccess allows super-role holders and users with at least one
// effective grant scoped to clientID.
func (e *Engine) RequireClientAccess(id Identity, clientID int64) error {
	if id.SuperAdmin || id.HasClient(clientID) {
		return nil
	}
	e.deny(id, "client", nil, zap.Int64("client_id", clientID))
	return errClientAccessDenied(clientID)
}

// RequireRoleChange gates role assignment and removal. Global grants belong
// to super-role holders; scoped grants need access to the client.
func (e *Engine) RequireRoleChange(id Identity, clientID *int64) error {
	if id.SuperAdmin {
		return nil
	}
	if clientID == nil {
		e.deny(id, "role_change", []string{SuperRoleName})
		return RoleChangeDenied("global grants require the super-role")
	}
	return e.RequireClientAccess(id, *clientID)
}

// RequireSuperAdmin allows super-role holders and holders of system.admin.
func (e *Engine) RequireSuperAdmin(id Identity) error {
	return e.RequirePermission(id, PermSystemAdmin)
}

func (e *Engine) deny(id Identity, check string, required []string, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("check", check),
		zap.Int64("user_id", id.User.ID),
		zap.Strings("required", required),
	}, extra...)
	e.log.Info("access denied", fields...)
}
