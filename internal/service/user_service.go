package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/domain"
	"marketplace/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for stored password hashes
const BcryptCost = 10

// RegisterInput describes a new account
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Session is what a successful login or refresh hands back to the client
type Session struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	User            *domain.User
}

// UserService handles accounts and their sessions
type UserService interface {
	Register(ctx context.Context, input RegisterInput) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	// Refresh exchanges a refresh token for a new session. The presented token is
	// revoked; presenting it again revokes every session of its user.
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	Logout(ctx context.Context, refreshToken string) error
	Authenticate(accessToken string) (domain.Actor, error)
	Profile(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// UserOption customises a UserService
type UserOption func(*userService)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) UserOption {
	return func(s *userService) { s.now = now }
}

type userService struct {
	users  repository.UserRepository
	tokens repository.RefreshTokenRepository
	signer *signer
	admins map[string]struct{}
	now    func() time.Time
	logger *zap.Logger
}

// NewUserService creates a UserService. Accounts registered with one of
// adminEmails get the ADMIN role.
func NewUserService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	jwtCfg config.JWTConfig,
	adminEmails []string,
	logger *zap.Logger,
	opts ...UserOption,
) UserService {
	s := &userService{
		users:  users,
		tokens: tokens,
		admins: make(map[string]struct{}, len(adminEmails)),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.signer = newSigner(jwtCfg, s.now)

	for _, email := range adminEmails {
		s.admins[normalizeEmail(email)] = struct{}{}
	}
	return s
}

func (s *userService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email := normalizeEmail(input.Email)

	switch _, err := s.users.FindByEmail(ctx, email); {
	case err == nil:
		return nil, domain.ErrAlreadyExists
	case !errors.Is(err, domain.ErrUserNotFound):
		return nil, fmt.Errorf("look up user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := domain.RoleUser
	if _, ok := s.admins[email]; ok {
		role = domain.RoleAdmin
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// the unique index still catches a concurrent registration
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID.String()), zap.String("role", string(role)))
	return user, nil
}

func (s *userService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return s.openSession(ctx, user)
}

func (s *userService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	hash := domain.HashRefreshToken(refreshToken)

	stored, err := s.tokens.FindByHash(ctx, hash)
	if errors.Is(err, repository.ErrRefreshTokenNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("look up refresh token: %w", err)
	}

	now := s.now()
	if stored.IsRevoked() {
		s.revokeFamily(ctx, stored.UserID, now)
		return nil, ErrInvalidToken
	}
	if stored.IsExpired(now) {
		return nil, ErrTokenExpired
	}

	// losing this race means another request rotated the token first
	if err := s.tokens.Revoke(ctx, hash, now); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			s.revokeFamily(ctx, stored.UserID, now)
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	return s.openSession(ctx, user)
}

// Logout revokes refreshToken. Unknown and already revoked tokens are not an error.
func (s *userService) Logout(ctx context.Context, refreshToken string) error {
	err := s.tokens.Revoke(ctx, domain.HashRefreshToken(refreshToken), s.now())
	if err != nil && !errors.Is(err, repository.ErrRefreshTokenNotFound) {
		return err
	}
	return nil
}

func (s *userService) Authenticate(accessToken string) (domain.Actor, error) {
	claims, err := s.signer.parse(accessToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return domain.Actor{}, ErrTokenExpired
		}
		return domain.Actor{}, ErrInvalidToken
	}
	return claims.Actor()
}

func (s *userService) Profile(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users.FindByID(ctx, userID)
}

func (s *userService) openSession(ctx context.Context, user *domain.User) (*Session, error) {
	access, expires, err := s.signer.sign(user.Actor())
	if err != nil {
		return nil, err
	}

	secret, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.tokens.Create(ctx, &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: domain.HashRefreshToken(secret),
		ExpiresAt: now.Add(s.signer.refreshTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:     access,
		AccessExpiresAt: expires,
		RefreshToken:    secret,
		User:            user,
	}, nil
}

// revokeFamily ends every live session of a user whose revoked token was replayed
func (s *userService) revokeFamily(ctx context.Context, userID uuid.UUID, now time.Time) {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, now)
	if err != nil {
		s.logger.Error("Failed to revoke sessions after refresh token reuse",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	s.logger.Warn("Refresh token reused, sessions revoked",
		zap.String("user_id", userID.String()), zap.Int64("revoked", n))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
