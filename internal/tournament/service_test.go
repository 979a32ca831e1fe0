package tournament

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tourneyhub.io/internal/auth"
)

type aclKey struct{ tournamentID, userID int64 }

// memStore is an in-memory Store. Checks run under the store mutex the same
// way the SQL store runs them inside its transaction.
type memStore struct {
	mu          sync.Mutex
	tournaments map[int64]Tournament
	levels      map[aclKey]Level
}

func newMemStore(ts ...Tournament) *memStore {
	s := &memStore{tournaments: map[int64]Tournament{}, levels: map[aclKey]Level{}}
	for _, t := range ts {
		s.tournaments[t.ID] = t
	}
	return s
}

func (s *memStore) set(tID, uID int64, l Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[aclKey{tID, uID}] = l
}

func (s *memStore) Tournament(_ context.Context, id int64) (Tournament, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tournaments[id]
	if !ok {
		return Tournament{}, ErrNotFound
	}
	return t, nil
}

func (s *memStore) Level(_ context.Context, tID, uID int64) (Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[aclKey{tID, uID}], nil
}

func (s *memStore) Upsert(_ context.Context, tID, uID int64, level Level, by int64, check GrantCheck) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tournaments[tID]; !ok {
		return Grant{}, ErrNotFound
	}
	if err := check(s.levels[aclKey{tID, by}], s.levels[aclKey{tID, uID}]); err != nil {
		return Grant{}, err
	}
	s.levels[aclKey{tID, uID}] = level
	return Grant{TournamentID: tID, UserID: uID, Level: level, GrantedBy: &by, GrantedAt: time.Now()}, nil
}

func (s *memStore) Delete(_ context.Context, tID, uID, by int64, check RevokeCheck) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tournaments[tID]; !ok {
		return Grant{}, ErrNotFound
	}
	target := s.levels[aclKey{tID, uID}]
	if err := check(s.levels[aclKey{tID, by}], target); err != nil {
		return Grant{}, err
	}
	delete(s.levels, aclKey{tID, uID})
	return Grant{TournamentID: tID, UserID: uID, Level: target}, nil
}

func (s *memStore) CreateOwner(_ context.Context, tID, ownerID int64) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tournaments[tID]; !ok {
		return Grant{}, ErrNotFound
	}
	s.levels[aclKey{tID, ownerID}] = LevelOwner
	return Grant{TournamentID: tID, UserID: ownerID, Level: LevelOwner, GrantedBy: &ownerID}, nil
}

func (s *memStore) Grants(_ context.Context, tID int64) ([]Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Grant
	for k, l := range s.levels {
		if k.tournamentID == tID {
			out = append(out, Grant{TournamentID: tID, UserID: k.userID, Level: l})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *memStore) Effective(_ context.Context, uID, cID int64) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Summary
	for _, t := range s.tournaments {
		if t.ClientID != cID {
			continue
		}
		l := s.levels[aclKey{t.ID, uID}]
		created := t.CreatedBy != nil && *t.CreatedBy == uID
		open := t.AccessControl == AccessOpen
		if l == LevelNone && !open && !created {
			continue
		}
		eff := l
		if eff == LevelNone && open {
			eff = LevelViewer
		}
		out = append(out, Summary{Tournament: t, Level: l, Effective: eff})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type superSet map[int64]bool

func (s superSet) IsSuperAdmin(_ context.Context, userID int64) (bool, error) {
	return s[userID], nil
}

const (
	ownerID  int64 = 1
	editorID int64 = 2
	viewerID int64 = 3
	otherID  int64 = 4
	superID  int64 = 99
)

func newFixture() (*Service, *memStore) {
	creator := ownerID
	store := newMemStore(
		Tournament{ID: 10, ClientID: 7, Name: "Restricted Cup", AccessControl: AccessRestricted, CreatedBy: &creator},
		Tournament{ID: 11, ClientID: 7, Name: "Open Cup", AccessControl: AccessOpen},
		Tournament{ID: 12, ClientID: 8, Name: "Elsewhere", AccessControl: AccessOpen},
	)
	store.set(10, ownerID, LevelOwner)
	store.set(10, editorID, LevelEditor)
	store.set(10, viewerID, LevelViewer)
	return NewService(store, superSet{superID: true}, zap.NewNop()), store
}

func codeOf(err error) string { return auth.CodeOf(err) }

func TestGrantAccessRules(t *testing.T) {
	svc, store := newFixture()
	ctx := context.Background()

	_, err := svc.GrantAccess(ctx, 10, otherID, LevelViewer, viewerID)
	assert.Equal(t, CodeInsufficientGrantPermission, codeOf(err))

	_, err = svc.GrantAccess(ctx, 10, otherID, LevelOwner, editorID)
	assert.Equal(t, CodeInsufficientGrantPermission, codeOf(err))

	g, err := svc.GrantAccess(ctx, 10, otherID, LevelEditor, editorID)
	require.NoError(t, err)
	assert.Equal(t, LevelEditor, g.Level)

	_, err = svc.GrantAccess(ctx, 10, ownerID, LevelViewer, editorID)
	assert.Equal(t, CodeInsufficientGrantPermission, codeOf(err))

	_, err = svc.GrantAccess(ctx, 10, otherID, LevelOwner, ownerID)
	require.NoError(t, err)

	_, err = svc.GrantAccess(ctx, 10, viewerID, LevelOwner, superID)
	require.NoError(t, err)
	lvl, _ := store.Level(ctx, 10, viewerID)
	assert.Equal(t, LevelOwner, lvl)
}

func TestGrantAccessIsUpsert(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	_, err := svc.GrantAccess(ctx, 10, otherID, LevelViewer, ownerID)
	require.NoError(t, err)
	_, err = svc.GrantAccess(ctx, 10, otherID, LevelEditor, ownerID)
	require.NoError(t, err)

	grants, err := svc.Permissions(ctx, 10)
	require.NoError(t, err)
	count := 0
	for _, g := range grants {
		if g.UserID == otherID {
			count++
			assert.Equal(t, LevelEditor, g.Level)
		}
	}
	assert.Equal(t, 1, count)
}

func TestGrantAccessValidation(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	_, err := svc.GrantAccess(ctx, 10, otherID, Level(7), ownerID)
	assert.Equal(t, CodeInvalidPermissionLevel, codeOf(err))

	_, err = svc.GrantAccess(ctx, 0, otherID, LevelViewer, ownerID)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)

	_, err = svc.GrantAccess(ctx, 404, otherID, LevelViewer, ownerID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeAccessRules(t *testing.T) {
	svc, store := newFixture()
	ctx := context.Background()

	_, err := svc.RevokeAccess(ctx, 10, viewerID, editorID)
	assert.Equal(t, CodeOwnerOnlyRevoke, codeOf(err))

	_, err = svc.RevokeAccess(ctx, 10, ownerID, ownerID)
	ae, ok := auth.AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCannotRevokeOwner, ae.Code)
	assert.Equal(t, auth.KindBadRequest, ae.Kind)

	_, err = svc.RevokeAccess(ctx, 10, ownerID, superID)
	assert.Equal(t, CodeCannotRevokeOwner, codeOf(err))

	_, err = svc.RevokeAccess(ctx, 10, otherID, ownerID)
	assert.ErrorIs(t, err, ErrGrantNotFound)

	g, err := svc.RevokeAccess(ctx, 10, editorID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, LevelEditor, g.Level)
	lvl, _ := store.Level(ctx, 10, editorID)
	assert.Equal(t, LevelNone, lvl)

	_, err = svc.RevokeAccess(ctx, 10, viewerID, superID)
	require.NoError(t, err)
}

func TestCheckAccess(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	d, err := svc.CheckAccess(ctx, 10, editorID, LevelEditor)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, LevelEditor, d.Effective)

	d, err = svc.CheckAccess(ctx, 10, viewerID, LevelEditor)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = svc.CheckAccess(ctx, 10, otherID, LevelViewer)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, LevelNone, d.Effective)

	d, err = svc.CheckAccess(ctx, 10, superID, LevelOwner)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, LevelOwner, d.Effective)
	assert.Equal(t, LevelNone, d.Level)

	_, err = svc.CheckAccess(ctx, 10, otherID, LevelNone)
	assert.Equal(t, CodeInvalidPermissionLevel, codeOf(err))

	_, err = svc.CheckAccess(ctx, 404, otherID, LevelViewer)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenTournamentFallback(t *testing.T) {
	svc, store := newFixture()
	ctx := context.Background()

	d, err := svc.CheckAccess(ctx, 11, otherID, LevelViewer)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Open)
	assert.Equal(t, LevelViewer, d.Effective)

	d, err = svc.CheckAccess(ctx, 11, otherID, LevelEditor)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	store.set(11, otherID, LevelEditor)
	d, err = svc.CheckAccess(ctx, 11, otherID, LevelEditor)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, LevelEditor, d.Level)

	store.set(11, viewerID, LevelViewer)
	d, err = svc.CheckAccess(ctx, 11, viewerID, LevelEditor)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, LevelViewer, d.Effective)
}

func TestListEffective(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	list, err := svc.ListEffective(ctx, ownerID, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(10), list[0].ID)
	assert.Equal(t, LevelOwner, list[0].Effective)
	assert.Equal(t, int64(11), list[1].ID)
	assert.Equal(t, LevelViewer, list[1].Effective)

	list, err = svc.ListEffective(ctx, otherID, 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(11), list[0].ID)

	_, err = svc.ListEffective(ctx, otherID, 0)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestCreateOwnerPermission(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	g, err := svc.CreateOwnerPermission(ctx, 11, otherID)
	require.NoError(t, err)
	assert.Equal(t, LevelOwner, g.Level)

	d, err := svc.CheckAccess(ctx, 11, otherID, LevelOwner)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	_, err = svc.CreateOwnerPermission(ctx, 11, 0)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestLevelParsingAndJSON(t *testing.T) {
	for raw, want := range map[string]Level{"viewer": LevelViewer, " Editor ": LevelEditor, "OWNER": LevelOwner} {
		got, err := ParseLevel(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseLevel("admin")
	assert.Error(t, err)

	b, err := LevelEditor.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"editor"`, string(b))
	b, err = LevelNone.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	var l Level
	require.NoError(t, l.UnmarshalJSON([]byte(`"owner"`)))
	assert.Equal(t, LevelOwner, l)
	assert.Error(t, l.UnmarshalJSON([]byte(`"root"`)))
}
