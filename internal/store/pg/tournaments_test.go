package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourneyhub.io/internal/tournament"
)

var tpCols = []string{"tournament_id", "user_id", "permission_level", "granted_by", "granted_at"}

func levelRow(level string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"permission_level"})
	if level != "" {
		rows.AddRow(level)
	}
	return rows
}

func expectLevels(mock sqlmock.Sqlmock, tournamentID, actor, target int64, have, current string) {
	mock.ExpectQuery("select id from tournaments").
		WithArgs(tournamentID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(tournamentID))
	mock.ExpectQuery(regexp.QuoteMeta("for share")).
		WithArgs(tournamentID, actor).
		WillReturnRows(levelRow(have))
	mock.ExpectQuery(regexp.QuoteMeta("for update")).
		WithArgs(tournamentID, target).
		WillReturnRows(levelRow(current))
}

func TestUpsertRunsCheckInsideTransaction(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectLevels(mock, 10, 2, 4, "editor", "")
	mock.ExpectQuery("insert into tournament_permissions").
		WithArgs(int64(10), int64(4), "viewer", int64(2)).
		WillReturnRows(sqlmock.NewRows(tpCols).AddRow(10, 4, "viewer", 2, at))
	mock.ExpectCommit()

	var seenHave, seenCurrent tournament.Level
	g, err := s.Tournaments().Upsert(context.Background(), 10, 4, tournament.LevelViewer, 2,
		func(have, current tournament.Level) error {
			seenHave, seenCurrent = have, current
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, tournament.LevelEditor, seenHave)
	assert.Equal(t, tournament.LevelNone, seenCurrent)
	assert.Equal(t, tournament.LevelViewer, g.Level)
	require.NotNil(t, g.GrantedBy)
	assert.Equal(t, int64(2), *g.GrantedBy)
}

func TestUpsertCheckFailureRollsBack(t *testing.T) {
	s, mock := newMock(t)
	denied := errors.New("denied")

	mock.ExpectBegin()
	expectLevels(mock, 10, 3, 4, "viewer", "")
	mock.ExpectRollback()

	_, err := s.Tournaments().Upsert(context.Background(), 10, 4, tournament.LevelViewer, 3,
		func(have, current tournament.Level) error { return denied })
	require.ErrorIs(t, err, denied)
}

func TestUpsertUnknownTournament(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from tournaments").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := s.Tournaments().Upsert(context.Background(), 404, 4, tournament.LevelViewer, 3,
		func(have, current tournament.Level) error { return nil })
	require.ErrorIs(t, err, tournament.ErrNotFound)
}

func TestDeleteNeverRemovesOwnerRow(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	expectLevels(mock, 10, 1, 4, "owner", "editor")
	mock.ExpectQuery(regexp.QuoteMeta("permission_level <> 'owner'")).
		WithArgs(int64(10), int64(4)).
		WillReturnRows(sqlmock.NewRows(tpCols))
	mock.ExpectRollback()

	_, err := s.Tournaments().Delete(context.Background(), 10, 4, 1,
		func(have, target tournament.Level) error { return nil })
	require.ErrorIs(t, err, tournament.ErrGrantNotFound)
}

func TestDeleteReturnsRemovedRow(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectLevels(mock, 10, 1, 4, "owner", "editor")
	mock.ExpectQuery("delete from tournament_permissions").
		WithArgs(int64(10), int64(4)).
		WillReturnRows(sqlmock.NewRows(tpCols).AddRow(10, 4, "editor", 1, at))
	mock.ExpectCommit()

	g, err := s.Tournaments().Delete(context.Background(), 10, 4, 1,
		func(have, target tournament.Level) error {
			if have != tournament.LevelOwner || target != tournament.LevelEditor {
				return errors.New("unexpected levels")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, tournament.LevelEditor, g.Level)
}

func TestTournamentNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from tournaments").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "name", "access_control", "created_by", "created_at"}))

	_, err := s.Tournaments().Tournament(context.Background(), 404)
	require.ErrorIs(t, err, tournament.ErrNotFound)
}

func TestEffectiveAppliesOpenFallback(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("left join tournament_permissions tp").
		WithArgs(int64(4), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "name", "access_control", "created_by", "created_at", "permission_level"}).
			AddRow(11, 7, "Open Cup", "open", nil, at, nil).
			AddRow(10, 7, "Restricted Cup", "restricted", 4, at, "editor").
			AddRow(12, 7, "Own Cup", "restricted", 4, at, nil))

	list, err := s.Tournaments().Effective(context.Background(), 4, 7)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, tournament.LevelNone, list[0].Level)
	assert.Equal(t, tournament.LevelViewer, list[0].Effective)
	assert.Nil(t, list[0].CreatedBy)

	assert.Equal(t, tournament.LevelEditor, list[1].Effective)

	assert.Equal(t, tournament.LevelNone, list[2].Effective)
	require.NotNil(t, list[2].CreatedBy)
	assert.Equal(t, int64(4), *list[2].CreatedBy)
}

func TestStoredLevelMustParse(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select permission_level").
		WithArgs(int64(10), int64(4)).
		WillReturnRows(levelRow("admin"))

	_, err := s.Tournaments().Level(context.Background(), 10, 4)
	require.Error(t, err)
}
