package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tourneyhub.io/internal/auth"
)

var _ auth.RoleStore = (*RoleStore)(nil)

const grantColumns = `ur.id, ur.user_id, ur.role_id, r.name, r.display_name, r.level,
	ur.client_id, ur.is_active, ur.expires_at, ur.assigned_by, ur.assigned_at`

// effectiveGrantFilter restricts user_roles rows (alias ur, joined to roles
// as r) to effective grants at the time bound to $2.
const effectiveGrantFilter = `ur.user_id = $1
	and ur.is_active = true
	and r.is_active = true
	and (ur.expires_at is null or ur.expires_at > $2)`

// clientScopeFilter admits grants scoped to $3 and global grants.
const clientScopeFilter = ` and (ur.client_id = $3 or ur.client_id is null)`

// RoleStore reads roles and permissions and persists user role grants.
type RoleStore struct {
	db *sql.DB
}

func scanGrant(row rowScanner) (auth.Grant, error) {
	var (
		g          auth.Grant
		clientID   sql.NullInt64
		expiresAt  sql.NullTime
		assignedBy sql.NullInt64
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.RoleID, &g.RoleName, &g.RoleTitle, &g.RoleLevel,
		&clientID, &g.Active, &expiresAt, &assignedBy, &g.AssignedAt); err != nil {
		return auth.Grant{}, err
	}
	g.ClientID = int64Ptr(clientID)
	g.ExpiresAt = timePtr(expiresAt)
	g.AssignedBy = int64Ptr(assignedBy)
	return g, nil
}

func (s *RoleStore) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, display_name, coalesce(description, ''), level, is_active
		from roles
		where is_active = true
		order by level, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	index := make(map[int64]int)
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.Level, &role.Active); err != nil {
			return nil, err
		}
		index[role.ID] = len(roles)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	perms, err := s.rolePermissions(ctx, `where p.is_active = true`)
	if err != nil {
		return nil, err
	}
	for roleID, list := range perms {
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = list
		}
	}
	return roles, nil
}

func (s *RoleStore) FindRole(ctx context.Context, id int64) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var role auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, display_name, coalesce(description, ''), level, is_active
		from roles
		where id = $1 and is_active = true
	`, id).Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.Level, &role.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, fmt.Errorf("%w: role %d", auth.ErrNotFound, id)
	}
	if err != nil {
		return auth.Role{}, err
	}
	perms, err := s.rolePermissions(ctx, `where p.is_active = true and rp.role_id = $1`, id)
	if err != nil {
		return auth.Role{}, err
	}
	role.Permissions = perms[id]
	return role, nil
}

func (s *RoleStore) rolePermissions(ctx context.Context, where string, args ...any) (map[int64][]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select rp.role_id, p.id, p.name, p.display_name, p.module, p.action
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		`+where+`
		order by p.module, p.action
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]auth.Permission)
	for rows.Next() {
		var (
			roleID int64
			p      auth.Permission
		)
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.DisplayName, &p.Module, &p.Action); err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], p)
	}
	return out, rows.Err()
}

func (s *RoleStore) EffectiveGrants(ctx context.Context, userID int64, clientID *int64, now time.Time) ([]auth.Grant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	query := `select ` + grantColumns + `
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ` + effectiveGrantFilter
	args := []any{userID, now}
	if clientID != nil {
		query += clientScopeFilter
		args = append(args, *clientID)
	}
	query += ` order by r.level, r.name`
	return s.queryGrants(ctx, query, args...)
}

func (s *RoleStore) UserGrants(ctx context.Context, userID int64) ([]auth.Grant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryGrants(ctx, `select `+grantColumns+`
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by ur.assigned_at`, userID)
}

func (s *RoleStore) queryGrants(ctx context.Context, query string, args ...any) ([]auth.Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []auth.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *RoleStore) EffectivePermissions(ctx context.Context, userID int64, clientID *int64, now time.Time) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	query := `select distinct p.id, p.name, p.display_name, p.module, p.action
		from user_roles ur
		join roles r on r.id = ur.role_id
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where p.is_active = true and ` + effectiveGrantFilter
	args := []any{userID, now}
	if clientID != nil {
		query += clientScopeFilter
		args = append(args, *clientID)
	}
	query += ` order by p.name`
	return s.queryPermissions(ctx, query, args...)
}

func (s *RoleStore) AllPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryPermissions(ctx, `
		select id, name, display_name, module, action
		from permissions
		where is_active = true
		order by name
	`)
}

func (s *RoleStore) queryPermissions(ctx context.Context, query string, args ...any) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Module, &p.Action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *RoleStore) HasEffectiveRole(ctx context.Context, userID int64, roleName string, now time.Time) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1
			from user_roles ur
			join roles r on r.id = ur.role_id
			where `+effectiveGrantFilter+` and r.name = $3
		)
	`, userID, now, roleName).Scan(&ok)
	return ok, err
}

// UpsertGrant reactivates the existing (user, role, client) row or inserts
// a new one. A reactivated row takes the new expiry and assigner.
func (s *RoleStore) UpsertGrant(ctx context.Context, req auth.GrantRequest) (auth.Grant, error) {
	var grant auth.Grant
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var ok bool
		if err := tx.QueryRowContext(ctx,
			`select exists (select 1 from roles where id = $1 and is_active = true)`, req.RoleID).Scan(&ok); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: role %d", auth.ErrNotFound, req.RoleID)
		}
		if err := tx.QueryRowContext(ctx,
			`select exists (select 1 from users where id = $1 and is_active = true and deleted_at is null)`, req.UserID).Scan(&ok); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: user %d", auth.ErrNotFound, req.UserID)
		}

		// user_roles carries unique nulls not distinct (user_id, role_id,
		// client_id), so concurrent global grants collapse into one row.
		var grantID int64
		if err := tx.QueryRowContext(ctx, `
			insert into user_roles (user_id, role_id, client_id, assigned_by, expires_at, is_active, assigned_at)
			values ($1, $2, $3, $4, $5, true, now())
			on conflict (user_id, role_id, client_id) do update set
				is_active = true,
				expires_at = excluded.expires_at,
				assigned_by = excluded.assigned_by,
				assigned_at = now()
			returning id
		`, req.UserID, req.RoleID, nullInt64(req.ClientID), nullInt64(req.AssignedBy), nullTime(req.ExpiresAt)).Scan(&grantID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return auth.ErrNotFound
			}
			return err
		}

		g, err := scanGrant(tx.QueryRowContext(ctx, `select `+grantColumns+`
			from user_roles ur
			join roles r on r.id = ur.role_id
			where ur.id = $1`, grantID))
		if err != nil {
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		return auth.Grant{}, err
	}
	return grant, nil
}

// DeactivateGrant marks one grant inactive. Super-role removals take a
// transaction-scoped advisory lock and require another effective holder
// besides the row being removed.
func (s *RoleStore) DeactivateGrant(ctx context.Context, userID, roleID int64, clientID *int64, now time.Time) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var name string
		err := tx.QueryRowContext(ctx, `select name from roles where id = $1`, roleID).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: role %d", auth.ErrNotFound, roleID)
		}
		if err != nil {
			return err
		}
		if name == auth.SuperRoleName {
			if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext('user_roles.super'))`); err != nil {
				return err
			}
			var others int
			if err := tx.QueryRowContext(ctx, `
				select count(distinct ur.user_id)
				from user_roles ur
				join users u on u.id = ur.user_id
				where ur.role_id = $1
					and ur.is_active = true
					and (ur.expires_at is null or ur.expires_at > $2)
					and u.is_active = true
					and u.deleted_at is null
					and not (ur.user_id = $3 and ur.client_id is not distinct from $4)
			`, roleID, now, userID, nullInt64(clientID)).Scan(&others); err != nil {
				return err
			}
			if others == 0 {
				return auth.ErrLastSuperAdmin
			}
		}

		res, err := tx.ExecContext(ctx, `
			update user_roles set is_active = false
			where user_id = $1 and role_id = $2 and client_id is not distinct from $3 and is_active = true
		`, userID, roleID, nullInt64(clientID))
		if err != nil {
			return err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if aff == 0 {
			return auth.ErrNotFound
		}
		return nil
	})
}
