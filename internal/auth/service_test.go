package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, users *memUsers, roles *memRoles, provider IdentityProvider) *Service {
	t.Helper()
	tokens, err := NewTokenService("service-secret")
	require.NoError(t, err)
	accessor := NewAccessor(roles)
	var ropts []ResolverOption
	var sopts []ServiceOption
	if provider != nil {
		ropts = append(ropts, WithProvider(provider))
		sopts = append(sopts, WithServiceProvider(provider))
	}
	resolver := NewResolver(users, accessor, tokens, ropts...)
	return NewService(users, accessor, tokens, resolver, sopts...)
}

func TestRegisterAndLogin(t *testing.T) {
	users := newMemUsers()
	svc := newTestService(t, users, testRoles(), nil)
	ctx := context.Background()

	s, err := svc.Register(ctx, RegisterInput{Email: " Coach@Example.com ", Password: "long-password", Name: "Coach"})
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, "coach@example.com", s.Identity.User.Email)
	assert.Equal(t, SourceLocal, s.Identity.Source)
	require.Len(t, users.creates, 1)
	assert.Equal(t, SuperRoleName, users.creates[0].BootstrapRole)
	assert.NotEqual(t, "long-password", users.creates[0].PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Email: "coach@example.com", Password: "long-password", Name: "Again"})
	assert.ErrorIs(t, err, ErrConflict)

	logged, err := svc.Login(ctx, "COACH@example.com", "long-password")
	require.NoError(t, err)
	assert.Equal(t, s.Identity.User.ID, logged.Identity.User.ID)

	_, err = svc.Login(ctx, "coach@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "long-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t, newMemUsers(), testRoles(), nil)
	ctx := context.Background()

	for _, in := range []RegisterInput{
		{Email: "", Password: "long-password", Name: "A"},
		{Email: "not-an-email", Password: "long-password", Name: "A"},
		{Email: "Name <a@b.co>", Password: "long-password", Name: "A"},
		{Email: "a@b.co", Password: "long-password", Name: "  "},
		{Email: "a@b.co", Password: "short", Name: "A"},
	} {
		_, err := svc.Register(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput, "input %+v", in)
	}
}

func TestLoginRejectsProviderOnlyAndInactiveUsers(t *testing.T) {
	hash, err := HashPassword("long-password")
	require.NoError(t, err)
	users := newMemUsers(
		User{ID: 1, Email: "provider@example.com", ProviderSubject: "fb-1", Active: true},
		User{ID: 2, Email: "inactive@example.com", PasswordHash: hash, Active: false},
	)
	svc := newTestService(t, users, testRoles(), nil)
	ctx := context.Background()

	_, err = svc.Login(ctx, "provider@example.com", "long-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "inactive@example.com", "long-password")
	assert.Equal(t, CodeUserInactive, CodeOf(err))
}

func TestProviderLoginAndLogout(t *testing.T) {
	users := newMemUsers()
	provider := &stubProvider{claims: map[string]ProviderClaims{
		"fb.token.1": {Subject: "fb-1", Email: "p@example.com", Name: "P"},
	}}
	svc := newTestService(t, users, testRoles(), provider)
	ctx := context.Background()

	s, err := svc.ProviderLogin(ctx, "fb.token.1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, SourceProvider, s.Identity.Source)

	refreshed, err := svc.Refresh(ctx, s.Identity)
	require.NoError(t, err)
	assert.NotEqual(t, s.Token, refreshed.Token)

	require.NoError(t, svc.Logout(ctx, s.Identity))
	assert.Equal(t, []string{"fb-1"}, provider.revoked)

	require.NoError(t, svc.Logout(ctx, Identity{User: User{ID: 9}}))
	assert.Len(t, provider.revoked, 1)
}
