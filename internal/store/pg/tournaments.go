package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tourneyhub.io/internal/tournament"
)

var _ tournament.Store = (*TournamentStore)(nil)

const tpReturning = `returning tournament_id, user_id, permission_level, granted_by, granted_at`

// TournamentStore persists per-tournament ACL rows.
type TournamentStore struct {
	db *sql.DB
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func parseLevel(raw string) (tournament.Level, error) {
	lvl, err := tournament.ParseLevel(raw)
	if err != nil {
		return tournament.LevelNone, fmt.Errorf("stored permission level: %w", err)
	}
	return lvl, nil
}

func scanTPGrant(row rowScanner) (tournament.Grant, error) {
	var (
		g         tournament.Grant
		level     string
		grantedBy sql.NullInt64
	)
	if err := row.Scan(&g.TournamentID, &g.UserID, &level, &grantedBy, &g.GrantedAt); err != nil {
		return tournament.Grant{}, err
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return tournament.Grant{}, err
	}
	g.Level = lvl
	g.GrantedBy = int64Ptr(grantedBy)
	return g, nil
}

func (s *TournamentStore) Tournament(ctx context.Context, id int64) (tournament.Tournament, error) {
	if s.db == nil {
		return tournament.Tournament{}, errNoDB
	}
	var (
		t         tournament.Tournament
		access    string
		createdBy sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		select id, client_id, name, access_control, created_by, created_at
		from tournaments
		where id = $1 and deleted_at is null
	`, id).Scan(&t.ID, &t.ClientID, &t.Name, &access, &createdBy, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tournament.Tournament{}, tournament.ErrNotFound
	}
	if err != nil {
		return tournament.Tournament{}, err
	}
	t.AccessControl = tournament.AccessControl(access)
	t.CreatedBy = int64Ptr(createdBy)
	return t, nil
}

func (s *TournamentStore) Level(ctx context.Context, tournamentID, userID int64) (tournament.Level, error) {
	if s.db == nil {
		return tournament.LevelNone, errNoDB
	}
	return levelOf(ctx, s.db, tournamentID, userID, "")
}

func levelOf(ctx context.Context, q querier, tournamentID, userID int64, lock string) (tournament.Level, error) {
	var raw string
	err := q.QueryRowContext(ctx, `
		select permission_level
		from tournament_permissions
		where tournament_id = $1 and user_id = $2
	`+lock, tournamentID, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return tournament.LevelNone, nil
	}
	if err != nil {
		return tournament.LevelNone, err
	}
	return parseLevel(raw)
}

func ensureTournament(ctx context.Context, tx *sql.Tx, id int64) error {
	var found int64
	err := tx.QueryRowContext(ctx,
		`select id from tournaments where id = $1 and deleted_at is null for share`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return tournament.ErrNotFound
	}
	return err
}

// Upsert writes the (tournament, user) row after check approves the
// granter's level against the target's current level.
func (s *TournamentStore) Upsert(ctx context.Context, tournamentID, userID int64, level tournament.Level, grantedBy int64, check tournament.GrantCheck) (tournament.Grant, error) {
	var grant tournament.Grant
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := ensureTournament(ctx, tx, tournamentID); err != nil {
			return err
		}
		have, err := levelOf(ctx, tx, tournamentID, grantedBy, " for share")
		if err != nil {
			return err
		}
		current, err := levelOf(ctx, tx, tournamentID, userID, " for update")
		if err != nil {
			return err
		}
		if err := check(have, current); err != nil {
			return err
		}
		g, err := scanTPGrant(tx.QueryRowContext(ctx, `
			insert into tournament_permissions (tournament_id, user_id, permission_level, granted_by)
			values ($1, $2, $3, $4)
			on conflict (tournament_id, user_id)
			do update set permission_level = excluded.permission_level, granted_by = excluded.granted_by, granted_at = now()
			`+tpReturning, tournamentID, userID, level.String(), grantedBy))
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return tournament.ErrUserNotFound
			}
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		return tournament.Grant{}, err
	}
	return grant, nil
}

// Delete removes the target's row after check approves it. Owner rows are
// excluded at the statement level as well.
func (s *TournamentStore) Delete(ctx context.Context, tournamentID, userID, revokedBy int64, check tournament.RevokeCheck) (tournament.Grant, error) {
	var grant tournament.Grant
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := ensureTournament(ctx, tx, tournamentID); err != nil {
			return err
		}
		have, err := levelOf(ctx, tx, tournamentID, revokedBy, " for share")
		if err != nil {
			return err
		}
		target, err := levelOf(ctx, tx, tournamentID, userID, " for update")
		if err != nil {
			return err
		}
		if err := check(have, target); err != nil {
			return err
		}
		g, err := scanTPGrant(tx.QueryRowContext(ctx, `
			delete from tournament_permissions
			where tournament_id = $1 and user_id = $2 and permission_level <> 'owner'
			`+tpReturning, tournamentID, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return tournament.ErrGrantNotFound
		}
		if err != nil {
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		return tournament.Grant{}, err
	}
	return grant, nil
}

func (s *TournamentStore) CreateOwner(ctx context.Context, tournamentID, ownerID int64) (tournament.Grant, error) {
	var grant tournament.Grant
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		g, err := scanTPGrant(tx.QueryRowContext(ctx, `
			insert into tournament_permissions (tournament_id, user_id, permission_level, granted_by)
			values ($1, $2, 'owner', $2)
			on conflict (tournament_id, user_id)
			do update set permission_level = 'owner', granted_by = excluded.granted_by, granted_at = now()
			`+tpReturning, tournamentID, ownerID))
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return tournament.ErrNotFound
			}
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		return tournament.Grant{}, err
	}
	return grant, nil
}

func (s *TournamentStore) Grants(ctx context.Context, tournamentID int64) ([]tournament.Grant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select tp.tournament_id, tp.user_id, tp.permission_level, tp.granted_by, tp.granted_at,
			u.name, u.email, coalesce(g.name, '')
		from tournament_permissions tp
		join users u on u.id = tp.user_id
		left join users g on g.id = tp.granted_by
		where tp.tournament_id = $1
		order by case tp.permission_level when 'owner' then 3 when 'editor' then 2 else 1 end desc,
			tp.granted_at asc
	`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []tournament.Grant
	for rows.Next() {
		var (
			g         tournament.Grant
			level     string
			grantedBy sql.NullInt64
		)
		if err := rows.Scan(&g.TournamentID, &g.UserID, &level, &grantedBy, &g.GrantedAt,
			&g.UserName, &g.UserEmail, &g.GrantedByName); err != nil {
			return nil, err
		}
		if g.Level, err = parseLevel(level); err != nil {
			return nil, err
		}
		g.GrantedBy = int64Ptr(grantedBy)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Effective lists tournaments of clientID that userID holds a grant on,
// that are open, or that userID created.
func (s *TournamentStore) Effective(ctx context.Context, userID, clientID int64) ([]tournament.Summary, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select t.id, t.client_id, t.name, t.access_control, t.created_by, t.created_at, tp.permission_level
		from tournaments t
		left join tournament_permissions tp on tp.tournament_id = t.id and tp.user_id = $1
		where t.client_id = $2
			and t.deleted_at is null
			and (tp.user_id is not null or t.access_control = 'open' or t.created_by = $1)
		order by t.created_at desc
	`, userID, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tournament.Summary
	for rows.Next() {
		var (
			sum       tournament.Summary
			access    string
			createdBy sql.NullInt64
			level     sql.NullString
		)
		if err := rows.Scan(&sum.ID, &sum.ClientID, &sum.Name, &access, &createdBy, &sum.CreatedAt, &level); err != nil {
			return nil, err
		}
		sum.AccessControl = tournament.AccessControl(access)
		sum.CreatedBy = int64Ptr(createdBy)
		if level.Valid {
			if sum.Level, err = parseLevel(level.String); err != nil {
				return nil, err
			}
		}
		switch {
		case sum.Level != tournament.LevelNone:
			sum.Effective = sum.Level
		case sum.AccessControl == tournament.AccessOpen:
			sum.Effective = tournament.LevelViewer
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
