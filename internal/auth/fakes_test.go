package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// memUsers is an in-memory UserStore.
type memUsers struct {
	mu      sync.Mutex
	users   map[int64]User
	nextID  int64
	creates []NewUser
	links   int
	touched int
}

func newMemUsers(users ...User) *memUsers {
	m := &memUsers{users: make(map[int64]User)}
	for _, u := range users {
		m.users[u.ID] = u
		if u.ID > m.nextID {
			m.nextID = u.ID
		}
	}
	return m
}

func (m *memUsers) FindByID(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memUsers) FindBySubject(_ context.Context, subject string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ProviderSubject == subject && u.DeletedAt == nil {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) && u.DeletedAt == nil {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memUsers) Create(_ context.Context, nu NewUser) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, nu.Email) {
			return User{}, ErrConflict
		}
	}
	m.nextID++
	u := User{
		ID:              m.nextID,
		ProviderSubject: nu.ProviderSubject,
		Email:           nu.Email,
		Name:            nu.Name,
		AvatarURL:       nu.AvatarURL,
		Phone:           nu.Phone,
		EmailVerified:   nu.EmailVerified,
		Active:          true,
		PasswordHash:    nu.PasswordHash,
	}
	m.users[u.ID] = u
	m.creates = append(m.creates, nu)
	return u, nil
}

func (m *memUsers) LinkSubject(_ context.Context, userID int64, c ProviderClaims) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.ProviderSubject != "" {
		return User{}, ErrConflict
	}
	u.ProviderSubject = c.Subject
	u.EmailVerified = c.EmailVerified
	m.users[userID] = u
	m.links++
	return u, nil
}

func (m *memUsers) SyncProfile(_ context.Context, userID int64, c ProviderClaims) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	if c.Name != "" {
		u.Name = c.Name
	}
	u.EmailVerified = c.EmailVerified
	m.users[userID] = u
	return u, nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = &at
	m.users[userID] = u
	m.touched++
	return nil
}

// memRoles is an in-memory RoleStore.
type memRoles struct {
	mu        sync.Mutex
	roles     map[int64]Role
	grants    []Grant
	nextGrant int64
	reads     int
}

func newMemRoles(roles ...Role) *memRoles {
	m := &memRoles{roles: make(map[int64]Role)}
	for _, r := range roles {
		m.roles[r.ID] = r
	}
	return m
}

func (m *memRoles) grant(userID, roleID int64, clientID *int64, expires *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.roles[roleID]
	m.nextGrant++
	m.grants = append(m.grants, Grant{
		ID: m.nextGrant, UserID: userID, RoleID: roleID, RoleName: r.Name,
		RoleTitle: r.DisplayName, RoleLevel: r.Level, ClientID: clientID,
		Active: true, ExpiresAt: expires,
	})
}

func sameClient(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *memRoles) ListRoles(context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRoles) FindRole(_ context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *memRoles) effective(userID int64, clientID *int64, now time.Time) []Grant {
	var out []Grant
	for _, g := range m.grants {
		if g.UserID != userID || !g.Effective(now) || !m.roles[g.RoleID].Active {
			continue
		}
		if clientID != nil && g.ClientID != nil && *g.ClientID != *clientID {
			continue
		}
		out = append(out, g)
	}
	return out
}

func (m *memRoles) EffectiveGrants(_ context.Context, userID int64, clientID *int64, now time.Time) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return m.effective(userID, clientID, now), nil
}

func (m *memRoles) EffectivePermissions(_ context.Context, userID int64, clientID *int64, now time.Time) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	seen := map[string]bool{}
	var out []Permission
	for _, g := range m.effective(userID, clientID, now) {
		for _, p := range m.roles[g.RoleID].Permissions {
			if !seen[p.Name] {
				seen[p.Name] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (m *memRoles) AllPermissions(context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []Permission
	for _, r := range m.roles {
		for _, p := range r.Permissions {
			if !seen[p.Name] {
				seen[p.Name] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (m *memRoles) HasEffectiveRole(_ context.Context, userID int64, roleName string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.effective(userID, nil, now) {
		if g.RoleName == roleName {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRoles) UserGrants(_ context.Context, userID int64) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Grant
	for _, g := range m.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memRoles) UpsertGrant(_ context.Context, req GrantRequest) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[req.RoleID]
	if !ok || !r.Active {
		return Grant{}, ErrNotFound
	}
	for i, g := range m.grants {
		if g.UserID == req.UserID && g.RoleID == req.RoleID && sameClient(g.ClientID, req.ClientID) {
			m.grants[i].Active = true
			m.grants[i].ExpiresAt = req.ExpiresAt
			m.grants[i].AssignedBy = req.AssignedBy
			return m.grants[i], nil
		}
	}
	m.nextGrant++
	g := Grant{
		ID: m.nextGrant, UserID: req.UserID, RoleID: r.ID, RoleName: r.Name,
		RoleTitle: r.DisplayName, RoleLevel: r.Level, ClientID: req.ClientID,
		Active: true, ExpiresAt: req.ExpiresAt, AssignedBy: req.AssignedBy,
	}
	m.grants = append(m.grants, g)
	return g, nil
}

func (m *memRoles) DeactivateGrant(_ context.Context, userID, roleID int64, clientID *int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	if r.Name == SuperRoleName {
		others := 0
		for _, g := range m.grants {
			if g.RoleID != roleID || !g.Effective(now) {
				continue
			}
			if g.UserID == userID && sameClient(g.ClientID, clientID) {
				continue
			}
			others++
		}
		if others == 0 {
			return ErrLastSuperAdmin
		}
	}
	for i, g := range m.grants {
		if g.UserID == userID && g.RoleID == roleID && sameClient(g.ClientID, clientID) && g.Active {
			m.grants[i].Active = false
			return nil
		}
	}
	return ErrNotFound
}

func int64p(v int64) *int64 { return &v }

func perms(names ...string) []Permission {
	out := make([]Permission, 0, len(names))
	for i, n := range names {
		parts := strings.SplitN(n, ".", 2)
		out = append(out, Permission{ID: int64(i + 1), Name: n, Module: parts[0], Action: parts[len(parts)-1]})
	}
	return out
}

// Roles used across tests.
const (
	roleSuperID       int64 = 1
	roleClientAdminID int64 = 2
	roleViewerID      int64 = 3
)

func testRoles() *memRoles {
	return newMemRoles(
		Role{ID: roleSuperID, Name: SuperRoleName, DisplayName: "Master Admin", Level: 1, Active: true,
			Permissions: perms(PermSystemAdmin, PermClientsManage, PermUsersManage)},
		Role{ID: roleClientAdminID, Name: "client_admin", DisplayName: "Client Admin", Level: 2, Active: true,
			Permissions: perms(PermClientsRead, PermClientsUpdate, PermTournamentsWrite)},
		Role{ID: roleViewerID, Name: "viewer", DisplayName: "Viewer", Level: 5, Active: true,
			Permissions: perms(PermClientsRead, PermTournamentsRead)},
	)
}
