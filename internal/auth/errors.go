package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: conflict")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrSessionRevoked     = errors.New("auth: session revoked")
	ErrLastSuperAdmin     = errors.New("auth: last super admin cannot be removed")
)

// Kind classifies a denial for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindBadRequest
	KindNotFound
	KindConflict
)

// Stable machine-readable codes.
const (
	CodeNoToken                = "NO_TOKEN"
	CodeInvalidTokenFormat     = "INVALID_TOKEN_FORMAT"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeUserNotFound           = "USER_NOT_FOUND"
	CodeUserInactive           = "USER_INACTIVE"
	CodeNotAuthenticated       = "NOT_AUTHENTICATED"
	CodeInsufficientPermission = "INSUFFICIENT_PERMISSION"
	CodeInsufficientRole       = "INSUFFICIENT_ROLE"
	CodeClientAccessDenied     = "CLIENT_ACCESS_DENIED"
	CodeRoleChangeDenied       = "ROLE_CHANGE_DENIED"
	CodeSubjectConflict        = "PROVIDER_SUBJECT_CONFLICT"
	CodeMissingClientID        = "MISSING_CLIENT_ID"
	CodeAuthError              = "AUTH_ERROR"
	CodePermissionCheckError   = "PERMISSION_CHECK_ERROR"
)

// Error is a terminal access-control failure carrying a stable code and the
// context a caller needs to diagnose it.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

// NewError constructs an Error.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// With attaches a detail field and returns the receiver.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Wrap records the underlying cause and returns the receiver.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns the code of err, or empty when err carries none.
func CodeOf(err error) string {
	if ae, ok := AsError(err); ok {
		return ae.Code
	}
	return ""
}

func errNoCredential() *Error {
	return NewError(KindUnauthenticated, CodeNoToken, "access token not provided")
}

func errMalformedCredential() *Error {
	return NewError(KindUnauthenticated, CodeInvalidTokenFormat, "invalid token format")
}

func errInvalidCredential(err error) *Error {
	if errors.Is(err, ErrTokenExpired) {
		return NewError(KindUnauthenticated, CodeTokenExpired, "token expired").Wrap(err)
	}
	return NewError(KindUnauthenticated, CodeInvalidToken, "invalid token").Wrap(err)
}

func errUserNotFound() *Error {
	return NewError(KindUnauthenticated, CodeUserNotFound, "user not found")
}

func errUserInactive() *Error {
	return NewError(KindUnauthenticated, CodeUserInactive, "user is inactive")
}

func errAuthFailure(err error) *Error {
	return NewError(KindInternal, CodeAuthError, "authentication failed").Wrap(err)
}

func errSubjectConflict(err error) *Error {
	return NewError(KindConflict, CodeSubjectConflict,
		"email is already linked to a different provider account").Wrap(err)
}

func errClientAccessDenied(clientID int64) *Error {
	return NewError(KindForbidden, CodeClientAccessDenied, "access to this client denied").
		With("clientId", clientID)
}

// RoleChangeDenied is returned when an actor may not assign or remove a grant.
func RoleChangeDenied(reason string) *Error {
	return NewError(KindForbidden, CodeRoleChangeDenied, "not allowed to change this role grant").
		With("reason", reason)
}

// NotAuthenticated is returned by checks that run without a resolved identity.
func NotAuthenticated() *Error {
	return NewError(KindUnauthenticated, CodeNotAuthenticated, "user not authenticated")
}

// NoCredential is returned when no bearer credential was presented.
func NoCredential() *Error { return errNoCredential() }

// MalformedCredential is returned when the authorization header is unparseable.
func MalformedCredential() *Error { return errMalformedCredential() }

// MissingClientID is returned when no client id could be located in a request.
func MissingClientID() *Error {
	return NewError(KindBadRequest, CodeMissingClientID, "client id is required")
}

// PermissionCheckFailure wraps an unexpected error raised while deciding.
func PermissionCheckFailure(err error) *Error {
	return NewError(KindInternal, CodePermissionCheckError, "permission check failed").Wrap(err)
}
