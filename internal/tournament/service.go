package tournament

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tourneyhub.io/internal/auth"
)

// GrantCheck decides, inside the write transaction, whether a granter at
// level have may set the target's row from current to the requested level.
type GrantCheck func(have, current Level) error

// RevokeCheck decides, inside the write transaction, whether a revoker at
// level have may delete a target row at level target.
type RevokeCheck func(have, target Level) error

// Store persists tournament ACL rows. Upsert and Delete read the acting
// user's level and the target row under lock, run the check, and write in
// one transaction.
type Store interface {
	Tournament(ctx context.Context, id int64) (Tournament, error)
	Level(ctx context.Context, tournamentID, userID int64) (Level, error)
	Upsert(ctx context.Context, tournamentID, userID int64, level Level, grantedBy int64, check GrantCheck) (Grant, error)
	Delete(ctx context.Context, tournamentID, userID, revokedBy int64, check RevokeCheck) (Grant, error)
	CreateOwner(ctx context.Context, tournamentID, ownerID int64) (Grant, error)
	Grants(ctx context.Context, tournamentID int64) ([]Grant, error)
	Effective(ctx context.Context, userID, clientID int64) ([]Summary, error)
}

// SuperAdminChecker reports whether a user holds the global super-role.
type SuperAdminChecker interface {
	IsSuperAdmin(ctx context.Context, userID int64) (bool, error)
}

// Service implements per-tournament sharing on top of the global roles.
// Super-role holders act as owner on every tournament.
type Service struct {
	store Store
	super SuperAdminChecker
	log   *zap.Logger
}

// NewService constructs Service.
func NewService(store Store, super SuperAdminChecker, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, super: super, log: log}
}

// GrantAccess upserts the target's level. The granter needs editor or
// better, cannot hand out a level above their own, and only an owner may
// change another owner's row.
func (s *Service) GrantAccess(ctx context.Context, tournamentID, targetUserID int64, level Level, grantedBy int64) (Grant, error) {
	if tournamentID <= 0 || targetUserID <= 0 || grantedBy <= 0 {
		return Grant{}, fmt.Errorf("%w: tournament, user and granter ids are required", auth.ErrInvalidInput)
	}
	if !level.Valid() {
		return Grant{}, errInvalidLevel(level.String())
	}
	super, err := s.isSuper(ctx, grantedBy)
	if err != nil {
		return Grant{}, err
	}
	check := func(have, current Level) error {
		if super {
			return nil
		}
		if !have.AtLeast(LevelEditor) {
			return errInsufficientGrant(have, level)
		}
		if level > have || (current == LevelOwner && have < LevelOwner) {
			return errInsufficientGrant(have, level)
		}
		return nil
	}
	g, err := s.store.Upsert(ctx, tournamentID, targetUserID, level, grantedBy, check)
	if err != nil {
		return Grant{}, err
	}
	s.log.Info("tournament access granted",
		zap.Int64("tournament_id", tournamentID),
		zap.Int64("user_id", targetUserID),
		zap.String("level", level.String()),
		zap.Int64("granted_by", grantedBy))
	return g, nil
}

// RevokeAccess deletes the target's row. The revoker must be owner and an
// owner row is never deleted through this path, including the revoker's own.
func (s *Service) RevokeAccess(ctx context.Context, tournamentID, targetUserID, revokedBy int64) (Grant, error) {
	if tournamentID <= 0 || targetUserID <= 0 || revokedBy <= 0 {
		return Grant{}, fmt.Errorf("%w: tournament, user and revoker ids are required", auth.ErrInvalidInput)
	}
	super, err := s.isSuper(ctx, revokedBy)
	if err != nil {
		return Grant{}, err
	}
	check := func(have, target Level) error {
		if !super && have != LevelOwner {
			return errOwnerOnlyRevoke(have)
		}
		if target == LevelOwner {
			return errCannotRevokeOwner()
		}
		if target == LevelNone {
			return ErrGrantNotFound
		}
		return nil
	}
	g, err := s.store.Delete(ctx, tournamentID, targetUserID, revokedBy, check)
	if err != nil {
		return Grant{}, err
	}
	s.log.Info("tournament access revoked",
		zap.Int64("tournament_id", tournamentID),
		zap.Int64("user_id", targetUserID),
		zap.Int64("revoked_by", revokedBy))
	return g, nil
}

// CheckAccess compares the explicit grant against required. The open flag
// only applies when the user has no explicit row and required is viewer.
func (s *Service) CheckAccess(ctx context.Context, tournamentID, userID int64, required Level) (Decision, error) {
	if !required.Valid() {
		return Decision{}, errInvalidLevel(required.String())
	}
	t, err := s.store.Tournament(ctx, tournamentID)
	if err != nil {
		return Decision{}, err
	}
	super, err := s.isSuper(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	have, err := s.store.Level(ctx, tournamentID, userID)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Level: have, Open: t.AccessControl == AccessOpen}
	switch {
	case super:
		d.Effective = LevelOwner
	case have != LevelNone:
		d.Effective = have
	case d.Open:
		d.Effective = LevelViewer
	}
	d.Allowed = d.Effective != LevelNone && d.Effective.AtLeast(required)
	return d, nil
}

// ListEffective returns tournaments in clientID the user holds a grant on,
// that are open, or that the user created.
func (s *Service) ListEffective(ctx context.Context, userID, clientID int64) ([]Summary, error) {
	if userID <= 0 || clientID <= 0 {
		return nil, fmt.Errorf("%w: user and client ids are required", auth.ErrInvalidInput)
	}
	return s.store.Effective(ctx, userID, clientID)
}

// CreateOwnerPermission records the creator as owner of a new tournament.
func (s *Service) CreateOwnerPermission(ctx context.Context, tournamentID, ownerID int64) (Grant, error) {
	if tournamentID <= 0 || ownerID <= 0 {
		return Grant{}, fmt.Errorf("%w: tournament and owner ids are required", auth.ErrInvalidInput)
	}
	return s.store.CreateOwner(ctx, tournamentID, ownerID)
}

// Permissions lists the explicit grants of a tournament.
func (s *Service) Permissions(ctx context.Context, tournamentID int64) ([]Grant, error) {
	if _, err := s.store.Tournament(ctx, tournamentID); err != nil {
		return nil, err
	}
	return s.store.Grants(ctx, tournamentID)
}

// Tournament returns the tournament with id.
func (s *Service) Tournament(ctx context.Context, id int64) (Tournament, error) {
	return s.store.Tournament(ctx, id)
}

func (s *Service) isSuper(ctx context.Context, userID int64) (bool, error) {
	if s.super == nil {
		return false, nil
	}
	ok, err := s.super.IsSuperAdmin(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check super admin: %w", err)
	}
	return ok, nil
}
