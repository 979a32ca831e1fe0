package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Session is a locally issued token together with the identity it names.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Identity  Identity  `json:"identity"`
}

// RegisterInput carries a local registration.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Service handles account-level flows: registration, password login,
// provider login, token refresh and logout.
type Service struct {
	users    UserStore
	accessor *Accessor
	tokens   *TokenService
	resolver *Resolver
	provider IdentityProvider
	now      func() time.Time
	log      *zap.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceProvider sets the provider used to revoke sessions on logout.
func WithServiceProvider(p IdentityProvider) ServiceOption {
	return func(s *Service) { s.provider = p }
}

// WithServiceClock overrides time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService constructs Service.
func NewService(users UserStore, accessor *Accessor, tokens *TokenService, resolver *Resolver, opts ...ServiceOption) *Service {
	s := &Service{
		users:    users,
		accessor: accessor,
		tokens:   tokens,
		resolver: resolver,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a local user. The first user ever registered receives the
// super-role.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return Session{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Session{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.Create(ctx, NewUser{
		Email:         email,
		Name:          name,
		PasswordHash:  hash,
		BootstrapRole: SuperRoleName,
	})
	if err != nil {
		return Session{}, err
	}
	s.log.Info("user registered", zap.Int64("user_id", user.ID), zap.String("email", user.Email))
	return s.open(ctx, user, SourceLocal)
}

// Login verifies an email and password and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if user.PasswordHash == "" || VerifyPassword(user.PasswordHash, password) != nil {
		return Session{}, ErrInvalidCredentials
	}
	if user.DeletedAt != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.open(ctx, user, SourceLocal)
}

// ProviderLogin exchanges a provider ID token for a local session token.
func (s *Service) ProviderLogin(ctx context.Context, providerToken string) (Session, error) {
	id, err := s.resolver.ResolveProvider(ctx, providerToken)
	if err != nil {
		return Session{}, err
	}
	return s.issue(id)
}

// Refresh issues a fresh session token for an already resolved identity.
func (s *Service) Refresh(_ context.Context, id Identity) (Session, error) {
	return s.issue(id)
}

// Logout revokes provider sessions for provider-backed users. Local session
// tokens are stateless and simply expire.
func (s *Service) Logout(ctx context.Context, id Identity) error {
	if s.provider == nil || id.User.ProviderSubject == "" {
		return nil
	}
	if err := s.provider.RevokeSessions(ctx, id.User.ProviderSubject); err != nil {
		return fmt.Errorf("revoke provider sessions: %w", err)
	}
	s.log.Info("provider sessions revoked", zap.Int64("user_id", id.User.ID))
	return nil
}

func (s *Service) open(ctx context.Context, user User, source Source) (Session, error) {
	if !user.Active {
		return Session{}, errUserInactive()
	}
	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return Session{}, err
	}
	user.LastLogin = &now
	id, err := s.accessor.Load(ctx, user)
	if err != nil {
		return Session{}, err
	}
	id.Source = source
	return s.issue(id)
}

func (s *Service) issue(id Identity) (Session, error) {
	token, exp, err := s.tokens.Issue(id.User.ID, id.User.Email)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, Identity: id}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	return email, nil
}
