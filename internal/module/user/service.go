package user

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/clausewise/server/internal/utils/random"
)

const (
	verifyTokenTTL = 48 * time.Hour
	resetTokenTTL  = 1 * time.Hour
)

// Mailer delivers account emails (verification, password reset).
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

// Service implements user operations.
type Service struct {
	repo   Repository
	jwt    *JWTManager
	mailer Mailer
	logger *zap.Logger
}

// NewService creates a new user service.
func NewService(repo Repository, jwt *JWTManager, mailer Mailer, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		jwt:    jwt,
		mailer: mailer,
		logger: logger,
	}
}

// Register creates a new user and issues an email verification token.
func (s *Service) Register(ctx context.Context, email, name, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         RoleMember,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	if err := s.issueToken(ctx, u, TokenPurposeVerifyEmail, verifyTokenTTL); err != nil {
		s.logger.Error("failed to issue verification token", zap.Error(err), zap.String("user_id", u.ID.String()))
	}

	return u, nil
}

// SignIn validates credentials and returns the user with an access token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*User, string, time.Time, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", time.Time{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	if !u.IsVerified() {
		return nil, "", time.Time{}, ErrEmailNotVerified
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(u)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	return u, token, expiresAt, nil
}

// VerifyEmail consumes a verification token and marks the user verified.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) error {
	t, err := s.consumeToken(ctx, rawToken, TokenPurposeVerifyEmail)
	if err != nil {
		return err
	}

	u, err := s.repo.GetByID(ctx, t.UserID)
	if err != nil {
		return err
	}

	now := time.Now()
	u.EmailVerifiedAt = &now
	return s.repo.Update(ctx, u)
}

// RequestPasswordReset issues a reset token if the email is registered.
// Always succeeds from the caller's perspective to avoid account enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.issueToken(ctx, u, TokenPurposeResetPassword, resetTokenTTL)
}

// ResetPassword consumes a reset token and updates the password.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	t, err := s.consumeToken(ctx, rawToken, TokenPurposeResetPassword)
	if err != nil {
		return err
	}

	u, err := s.repo.GetByID(ctx, t.UserID)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	return s.repo.Update(ctx, u)
}

// ChangePassword updates the password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	return s.repo.Update(ctx, u)
}

// WhoAmI returns the authenticated user.
func (s *Service) WhoAmI(ctx context.Context, userID uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, userID)
}

// UpdateProfile updates mutable profile fields.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, name string) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Name = name
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteAccount removes the user record.
func (s *Service) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	return s.repo.Delete(ctx, userID)
}

// ListUsers returns a page of users, for the admin console.
func (s *Service) ListUsers(ctx context.Context, offset, limit int) ([]*User, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.List(ctx, offset, limit)
}

// --- Helpers ---

func (s *Service) issueToken(ctx context.Context, u *User, purpose TokenPurpose, ttl time.Duration) error {
	raw, err := random.Token(32)
	if err != nil {
		return err
	}

	t := &VerificationToken{
		ID:        uuid.New(),
		UserID:    u.ID,
		TokenHash: hashToken(raw),
		Purpose:   purpose,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := s.repo.CreateToken(ctx, t); err != nil {
		return err
	}

	if s.mailer == nil {
		return nil
	}
	switch purpose {
	case TokenPurposeVerifyEmail:
		return s.mailer.SendVerificationEmail(ctx, u.Email, raw)
	case TokenPurposeResetPassword:
		return s.mailer.SendPasswordResetEmail(ctx, u.Email, raw)
	}
	return nil
}

func (s *Service) consumeToken(ctx context.Context, rawToken string, purpose TokenPurpose) (*VerificationToken, error) {
	t, err := s.repo.GetTokenByHash(ctx, hashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if t.Purpose != purpose || !t.IsUsable(time.Now()) {
		return nil, ErrInvalidToken
	}

	now := time.Now()
	t.UsedAt = &now
	if err := s.repo.UpdateToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
