package tournament

import (
	"errors"

	"tourneyhub.io/internal/auth"
)

var (
	ErrNotFound      = errors.New("tournament: not found")
	ErrGrantNotFound = errors.New("tournament: grant not found")
	ErrUserNotFound  = errors.New("tournament: user not found")
)

const (
	CodeInsufficientGrantPermission = "INSUFFICIENT_GRANT_PERMISSION"
	CodeOwnerOnlyRevoke             = "OWNER_ONLY_REVOKE"
	CodeCannotRevokeOwner           = "CANNOT_REVOKE_OWNER"
	CodeInvalidPermissionLevel      = "INVALID_PERMISSION_LEVEL"
	CodeTournamentAccessDenied      = "TOURNAMENT_ACCESS_DENIED"
)

func errInsufficientGrant(have, want Level) *auth.Error {
	return auth.NewError(auth.KindForbidden, CodeInsufficientGrantPermission, "insufficient permission to grant access").
		With("current", have.String()).
		With("requested", want.String())
}

func errOwnerOnlyRevoke(have Level) *auth.Error {
	return auth.NewError(auth.KindForbidden, CodeOwnerOnlyRevoke, "only an owner can revoke access").
		With("current", have.String())
}

func errCannotRevokeOwner() *auth.Error {
	return auth.NewError(auth.KindBadRequest, CodeCannotRevokeOwner, "owner access cannot be revoked")
}

func errInvalidLevel(raw string) *auth.Error {
	return auth.NewError(auth.KindBadRequest, CodeInvalidPermissionLevel, "invalid permission level").
		With("permissionLevel", raw).
		With("validLevels", []string{"viewer", "editor", "owner"})
}

// AccessDenied is the denial for a failed tournament access check.
func AccessDenied(required Level, d Decision) *auth.Error {
	return auth.NewError(auth.KindForbidden, CodeTournamentAccessDenied, "access to this tournament denied").
		With("required", required.String()).
		With("current", d.Effective.String())
}

// InvalidLevel is the denial for an unparseable level string.
func InvalidLevel(raw string) *auth.Error { return errInvalidLevel(raw) }
