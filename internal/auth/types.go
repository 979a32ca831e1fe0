package auth

import (
	"sort"
	"time"
)

// User is the canonical identity record shared by both credential paths.
type User struct {
	ID              int64      `json:"id"`
	ProviderSubject string     `json:"firebaseUid,omitempty"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	AvatarURL       string     `json:"avatarUrl,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	EmailVerified   bool       `json:"emailVerified"`
	Active          bool       `json:"isActive"`
	PasswordHash    string     `json:"-"`
	LastLogin       *time.Time `json:"lastLogin,omitempty"`
	DeletedAt       *time.Time `json:"-"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// NewUser carries the fields needed to create a user record. When
// BootstrapRole is set and the users table is empty, the store grants that
// role globally to the new user in the same transaction.
type NewUser struct {
	Email           string
	Name            string
	PasswordHash    string
	ProviderSubject string
	AvatarURL       string
	Phone           string
	EmailVerified   bool
	BootstrapRole   string
}

// Role groups permissions. Lower levels carry more authority; level is only
// used for ordering.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"displayName"`
	Description string       `json:"description,omitempty"`
	Level       int          `json:"level"`
	Active      bool         `json:"isActive"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Permission is a module/action capability such as clients.manage.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Module      string `json:"module"`
	Action      string `json:"action"`
}

// Grant associates a user with a role, optionally scoped to a client.
type Grant struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"userId"`
	RoleID     int64      `json:"roleId"`
	RoleName   string     `json:"roleName"`
	RoleTitle  string     `json:"roleDisplayName"`
	RoleLevel  int        `json:"roleLevel"`
	ClientID   *int64     `json:"clientId"`
	Active     bool       `json:"isActive"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	AssignedBy *int64     `json:"assignedBy"`
	AssignedAt time.Time  `json:"assignedAt"`
}

// Effective reports whether the grant is active and not expired at now.
func (g Grant) Effective(now time.Time) bool {
	if !g.Active {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// GrantRequest describes an assignRoleToUser call.
type GrantRequest struct {
	UserID     int64
	RoleID     int64
	ClientID   *int64
	ExpiresAt  *time.Time
	AssignedBy *int64
}

// PermissionSet is a distinct-by-name set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from the given names, ignoring blanks.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Any reports whether at least one of names is in the set.
func (s PermissionSet) Any(names ...string) bool {
	for _, n := range names {
		if s.Has(n) {
			return true
		}
	}
	return false
}

// Contains reports whether every name in names is in the set.
func (s PermissionSet) Contains(names []string) bool {
	for _, n := range names {
		if !s.Has(n) {
			return false
		}
	}
	return true
}

// Names returns the sorted members.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Source tells which credential path resolved an identity.
type Source string

const (
	SourceProvider Source = "provider"
	SourceLocal    Source = "local"
)

// Identity is a resolved user with its effective grants attached.
type Identity struct {
	User        User          `json:"user"`
	Roles       []Role        `json:"roles"`
	Grants      []Grant       `json:"-"`
	Permissions PermissionSet `json:"-"`
	SuperAdmin  bool          `json:"isMasterAdmin"`
	Source      Source        `json:"source"`
}

// RoleNames returns the names of the effective roles in level order.
func (id Identity) RoleNames() []string {
	out := make([]string, 0, len(id.Roles))
	for _, r := range id.Roles {
		out = append(out, r.Name)
	}
	return out
}

// HasRole reports whether the identity holds an effective role named name.
func (id Identity) HasRole(name string) bool {
	for _, r := range id.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasClient reports whether at least one effective grant is scoped to clientID.
func (id Identity) HasClient(clientID int64) bool {
	for _, g := range id.Grants {
		if g.ClientID != nil && *g.ClientID == clientID {
			return true
		}
	}
	return false
}

// ClientIDs returns the distinct client ids the identity has grants in.
func (id Identity) ClientIDs() []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, g := range id.Grants {
		if g.ClientID == nil {
			continue
		}
		if _, ok := seen[*g.ClientID]; ok {
			continue
		}
		seen[*g.ClientID] = struct{}{}
		out = append(out, *g.ClientID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ProviderClaims is what a verified provider ID token yields.
type ProviderClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Phone         string
	IssuedAt      time.Time
}
