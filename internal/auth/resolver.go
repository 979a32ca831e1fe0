package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Resolver turns a bearer credential into an Identity. A provider ID token
// is tried first when a provider is configured; a local session token is
// the fallback.
type Resolver struct {
	users    UserStore
	accessor *Accessor
	tokens   *TokenService
	provider IdentityProvider
	now      func() time.Time
	log      *zap.Logger
	observe  func(path, result string)
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithProvider enables the provider ID token path.
func WithProvider(p IdentityProvider) ResolverOption {
	return func(r *Resolver) { r.provider = p }
}

// WithResolverClock overrides the time source for last-login stamps.
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithResolutionObserver registers a callback invoked once per resolution
// attempt with the credential path and outcome code.
func WithResolutionObserver(fn func(path, result string)) ResolverOption {
	return func(r *Resolver) { r.observe = fn }
}

// NewResolver constructs a Resolver.
func NewResolver(users UserStore, accessor *Accessor, tokens *TokenService, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		users:    users,
		accessor: accessor,
		tokens:   tokens,
		now:      time.Now,
		log:      zap.NewNop(),
		observe:  func(string, string) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasProvider reports whether the provider path is configured.
func (r *Resolver) HasProvider() bool { return r.provider != nil }

// Resolve verifies raw and returns the fully loaded identity.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, errNoCredential()
	}
	if !looksLikeJWT(raw) {
		r.observe("none", CodeInvalidTokenFormat)
		return Identity{}, errMalformedCredential()
	}

	if r.provider != nil {
		claims, err := r.provider.Verify(ctx, raw)
		if err == nil {
			id, err := r.resolveProvider(ctx, claims)
			r.observe(string(SourceProvider), resultOf(err))
			return id, err
		}
		r.log.Debug("provider verification failed, trying local token", zap.Error(err))
	}

	claims, err := r.tokens.Verify(raw)
	if err != nil {
		denial := errInvalidCredential(err)
		r.observe(string(SourceLocal), denial.Code)
		return Identity{}, denial
	}
	id, err := r.resolveLocal(ctx, claims)
	r.observe(string(SourceLocal), resultOf(err))
	return id, err
}

// ResolveProvider resolves raw through the provider path only.
func (r *Resolver) ResolveProvider(ctx context.Context, raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, errNoCredential()
	}
	if r.provider == nil {
		return Identity{}, errAuthFailure(errors.New("identity provider is not configured"))
	}
	claims, err := r.provider.Verify(ctx, raw)
	if err != nil {
		denial := errInvalidCredential(err)
		r.observe(string(SourceProvider), denial.Code)
		return Identity{}, denial
	}
	id, err := r.resolveProvider(ctx, claims)
	r.observe(string(SourceProvider), resultOf(err))
	return id, err
}

func (r *Resolver) resolveLocal(ctx context.Context, claims *SessionClaims) (Identity, error) {
	user, err := r.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, errUserNotFound()
		}
		return Identity{}, errAuthFailure(err)
	}
	if user.DeletedAt != nil {
		return Identity{}, errUserNotFound()
	}
	return r.finish(ctx, user, SourceLocal)
}

func (r *Resolver) resolveProvider(ctx context.Context, claims ProviderClaims) (Identity, error) {
	user, err := r.userFromProvider(ctx, claims)
	if err != nil {
		if _, ok := AsError(err); ok {
			return Identity{}, err
		}
		return Identity{}, errAuthFailure(err)
	}
	return r.finish(ctx, user, SourceProvider)
}

// userFromProvider finds the user by subject, links an existing user with
// the same email, or creates a new one. An email already linked to another
// subject is never relinked.
func (r *Resolver) userFromProvider(ctx context.Context, claims ProviderClaims) (User, error) {
	user, err := r.users.FindBySubject(ctx, claims.Subject)
	if err == nil {
		return r.users.SyncProfile(ctx, user.ID, claims)
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	if claims.Email != "" {
		user, err = r.users.FindByEmail(ctx, claims.Email)
		if err == nil {
			r.log.Info("linking provider subject to existing user",
				zap.Int64("user_id", user.ID), zap.String("email", user.Email))
			linked, err := r.users.LinkSubject(ctx, user.ID, claims)
			if errors.Is(err, ErrConflict) {
				// A concurrent first login may have linked this same subject.
				if again, ferr := r.users.FindBySubject(ctx, claims.Subject); ferr == nil {
					return r.users.SyncProfile(ctx, again.ID, claims)
				}
				r.log.Warn("provider subject conflicts with linked user",
					zap.Int64("user_id", user.ID), zap.String("subject", claims.Subject))
				return User{}, errSubjectConflict(err)
			}
			return linked, err
		}
		if !errors.Is(err, ErrNotFound) {
			return User{}, err
		}
	}

	name := claims.Name
	if name == "" {
		name = strings.SplitN(claims.Email, "@", 2)[0]
	}
	return r.users.Create(ctx, NewUser{
		Email:           claims.Email,
		Name:            name,
		ProviderSubject: claims.Subject,
		AvatarURL:       claims.Picture,
		Phone:           claims.Phone,
		EmailVerified:   claims.EmailVerified,
		BootstrapRole:   SuperRoleName,
	})
}

func (r *Resolver) finish(ctx context.Context, user User, source Source) (Identity, error) {
	if !user.Active {
		return Identity{}, errUserInactive()
	}
	now := r.now().UTC()
	if err := r.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return Identity{}, errAuthFailure(err)
	}
	user.LastLogin = &now
	id, err := r.accessor.Load(ctx, user)
	if err != nil {
		return Identity{}, errAuthFailure(err)
	}
	id.Source = source
	return id, nil
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code := CodeOf(err); code != "" {
		return code
	}
	return CodeAuthError
}
