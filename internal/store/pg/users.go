package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tourneyhub.io/internal/auth"
)

var _ auth.UserStore = (*UserStore)(nil)

const userColumns = `id, firebase_uid, email, name, avatar_url, phone, email_verified,
	is_active, password_hash, last_login, deleted_at, created_at, updated_at`

// UserStore persists users.
type UserStore struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u         auth.User
		subject   sql.NullString
		avatar    sql.NullString
		phone     sql.NullString
		hash      sql.NullString
		lastLogin sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &subject, &u.Email, &u.Name, &avatar, &phone, &u.EmailVerified,
		&u.Active, &hash, &lastLogin, &deletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return auth.User{}, err
	}
	u.ProviderSubject = subject.String
	u.AvatarURL = avatar.String
	u.Phone = phone.String
	u.PasswordHash = hash.String
	u.LastLogin = timePtr(lastLogin)
	u.DeletedAt = timePtr(deletedAt)
	return u, nil
}

func (s *UserStore) findOne(ctx context.Context, query string, args ...any) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// FindByID returns the user with id, including soft-deleted records.
func (s *UserStore) FindByID(ctx context.Context, id int64) (auth.User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *UserStore) FindBySubject(ctx context.Context, subject string) (auth.User, error) {
	return s.findOne(ctx, `select `+userColumns+`
		from users
		where firebase_uid = $1 and deleted_at is null`, subject)
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.findOne(ctx, `select `+userColumns+`
		from users
		where lower(email) = lower($1) and deleted_at is null`, email)
}

// Create inserts a user. When the table was empty and BootstrapRole is set,
// the new user receives that role as a global grant in the same transaction.
func (s *UserStore) Create(ctx context.Context, nu auth.NewUser) (auth.User, error) {
	var user auth.User
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		// Serialize first-user detection across concurrent registrations.
		if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext('users.bootstrap'))`); err != nil {
			return err
		}
		var existing int
		if err := tx.QueryRowContext(ctx, `select count(*) from users`).Scan(&existing); err != nil {
			return err
		}
		u, err := scanUser(tx.QueryRowContext(ctx, `
			insert into users (email, name, password_hash, firebase_uid, avatar_url, phone, email_verified, is_active)
			values ($1, $2, $3, $4, $5, $6, $7, true)
			returning `+userColumns,
			nu.Email, nu.Name, nullIfEmpty(nu.PasswordHash), nullIfEmpty(nu.ProviderSubject),
			nullIfEmpty(nu.AvatarURL), nullIfEmpty(nu.Phone), nu.EmailVerified))
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return auth.ErrConflict
			}
			return err
		}
		if existing == 0 && nu.BootstrapRole != "" {
			if _, err := tx.ExecContext(ctx, `
				insert into user_roles (user_id, role_id, client_id, is_active, assigned_at)
				select $1, id, null, true, now()
				from roles
				where name = $2 and is_active = true
			`, u.ID, nu.BootstrapRole); err != nil {
				return err
			}
		}
		user = u
		return nil
	})
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

// LinkSubject attaches a provider subject to a user that has none. A user
// already linked to a subject yields ErrConflict.
func (s *UserStore) LinkSubject(ctx context.Context, userID int64, c auth.ProviderClaims) (auth.User, error) {
	var user auth.User
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		u, err := scanUser(tx.QueryRowContext(ctx, `
			update users set
				firebase_uid = $2,
				name = coalesce(nullif(name, ''), $3),
				avatar_url = coalesce($4, avatar_url),
				phone = coalesce($5, phone),
				email_verified = email_verified or $6,
				updated_at = now()
			where id = $1 and firebase_uid is null and deleted_at is null
			returning `+userColumns,
			userID, c.Subject, c.Name, nullIfEmpty(c.Picture), nullIfEmpty(c.Phone), c.EmailVerified))
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrConflict
		}
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return auth.ErrConflict
			}
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

// SyncProfile refreshes profile fields from the provider claims.
func (s *UserStore) SyncProfile(ctx context.Context, userID int64, c auth.ProviderClaims) (auth.User, error) {
	var user auth.User
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		u, err := scanUser(tx.QueryRowContext(ctx, `
			update users set
				name = coalesce(nullif($2, ''), name),
				avatar_url = coalesce($3, avatar_url),
				phone = coalesce($4, phone),
				email_verified = $5,
				updated_at = now()
			where id = $1
			returning `+userColumns,
			userID, c.Name, nullIfEmpty(c.Picture), nullIfEmpty(c.Phone), c.EmailVerified))
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func (s *UserStore) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update users set last_login = $2 where id = $1`, userID, at)
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
}
