package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/shoplane/accounts/internal/domain"
	"github.com/shoplane/accounts/internal/mailer"
	"github.com/shoplane/accounts/internal/repository"
	"github.com/shoplane/accounts/pkg/auth"
	"github.com/shoplane/accounts/pkg/config"
	"github.com/shoplane/accounts/pkg/events"
	"github.com/shoplane/accounts/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

type AuthService interface {
	Signup(ctx context.Context, req *domain.CreateUserRequest) (*domain.User, error)
	VerifyCode(ctx context.Context, email, code, purpose string) error
	ResendVerification(ctx context.Context, email string) error
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req *domain.ResetPasswordRequest) error
	ChangePassword(ctx context.Context, userID int64, req *domain.ChangePasswordRequest) error
}

type authService struct {
	userRepo  repository.UserRepository
	codeRepo  repository.CodeRepository
	mailer    mailer.Service
	eventBus  events.EventBus
	config    *config.Config
	dummyHash string
}

func NewAuthService(
	userRepo repository.UserRepository,
	codeRepo repository.CodeRepository,
	mailer mailer.Service,
	eventBus events.EventBus,
	config *config.Config,
) AuthService {
	// Hash compared against when a login targets an unknown email, so both
	// paths cost roughly the same.
	dummyHash, err := argon2id.CreateHash("no-such-password", argon2id.DefaultParams)
	if err != nil {
		dummyHash = ""
	}

	return &authService{
		userRepo:  userRepo,
		codeRepo:  codeRepo,
		mailer:    mailer,
		eventBus:  eventBus,
		config:    config,
		dummyHash: dummyHash,
	}
}

func (s *authService) Signup(ctx context.Context, req *domain.CreateUserRequest) (*domain.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// The unique index on email decides concurrent duplicate signups.
	user, err := s.userRepo.Create(ctx, req, passwordHash)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEmail) {
			return nil, domain.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.issueCode(ctx, user.Email, user.Name, domain.PurposeVerification); err != nil {
		logger.ErrorContext(ctx, "Failed to issue verification code", "error", err, "user_id", user.ID)
		return nil, fmt.Errorf("failed to create verification code: %w", err)
	}

	s.publish(ctx, events.AccountRegistered, events.AccountRegisteredEvent{
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		RegisteredAt: user.CreatedAt,
	})

	return user, nil
}

func (s *authService) VerifyCode(ctx context.Context, email, code, purpose string) error {
	if !domain.IsValidPurpose(purpose) {
		return domain.ErrInvalidOrExpiredCode
	}

	ok, err := s.codeRepo.Consume(ctx, email, code, purpose)
	if err != nil {
		return fmt.Errorf("failed to consume code: %w", err)
	}
	if !ok {
		return domain.ErrInvalidOrExpiredCode
	}

	if purpose == domain.PurposeVerification {
		user, err := s.userRepo.FindByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return domain.ErrNotFound
		}
		if err := s.userRepo.MarkVerified(ctx, user.ID); err != nil {
			return fmt.Errorf("failed to mark user as verified: %w", err)
		}

		s.publish(ctx, events.AccountVerified, events.AccountVerifiedEvent{
			UserID:     user.ID,
			Email:      user.Email,
			VerifiedAt: time.Now(),
		})
	}

	return nil
}

func (s *authService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// Don't reveal whether the account exists.
		return nil
	}
	if user.IsVerified {
		return domain.ErrAlreadyVerified
	}

	if err := s.issueCode(ctx, user.Email, user.Name, domain.PurposeVerification); err != nil {
		return fmt.Errorf("failed to issue verification code: %w", err)
	}

	return nil
}

// Login authenticates and mints a session token. The password comparison
// runs before the verified gate: an unverified account with a wrong password
// is indistinguishable from a nonexistent one.
func (s *authService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		if s.dummyHash != "" {
			_, _ = argon2id.ComparePasswordAndHash(req.Password, s.dummyHash)
		}
		return nil, domain.ErrInvalidCredentials
	}

	valid, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, domain.ErrInvalidCredentials
	}

	if !user.IsVerified {
		return nil, domain.ErrNotVerified
	}

	token, err := auth.NewSessionToken(
		user.ID,
		user.Email,
		user.Role,
		s.config.Auth.JWTSecret,
		s.config.Auth.SessionTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session token: %w", err)
	}

	return &domain.LoginResponse{
		SessionToken: token,
		ExpiresIn:    int64(s.config.Auth.SessionTTL.Seconds()),
		User:         user.ToUserInfo(),
	}, nil
}

// RequestPasswordReset always reports success to the caller; a code is only
// issued when the account exists.
func (s *authService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil
	}

	if err := s.issueCode(ctx, user.Email, user.Name, domain.PurposeReset); err != nil {
		return fmt.Errorf("failed to issue reset code: %w", err)
	}

	return nil
}

func (s *authService) ResetPassword(ctx context.Context, req *domain.ResetPasswordRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := s.VerifyCode(ctx, req.Email, req.Code, domain.PurposeReset); err != nil {
		return err
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return domain.ErrNotFound
	}

	passwordHash, err := argon2id.CreateHash(req.NewPassword, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userRepo.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.publish(ctx, events.AccountPasswordReset, events.AccountPasswordResetEvent{
		UserID:  user.ID,
		Email:   user.Email,
		ResetAt: time.Now(),
	})

	return nil
}

func (s *authService) ChangePassword(ctx context.Context, userID int64, req *domain.ChangePasswordRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return domain.ErrNotFound
	}

	valid, err := argon2id.ComparePasswordAndHash(req.CurrentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return domain.ErrIncorrectPassword
	}

	passwordHash, err := argon2id.CreateHash(req.NewPassword, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.userRepo.UpdatePassword(ctx, userID, passwordHash)
}

// issueCode generates a fresh code, stores its hash (replacing any prior
// code for this email+purpose) and emails the plaintext. Mail failures are
// logged but do not fail the operation; the code exists and can be resent.
func (s *authService) issueCode(ctx context.Context, email, name, purpose string) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	ttl := s.config.Auth.VerificationCodeTTL
	if purpose == domain.PurposeReset {
		ttl = s.config.Auth.ResetCodeTTL
	}

	if err := s.codeRepo.Upsert(ctx, email, purpose, string(codeHash), time.Now().Add(ttl)); err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}

	var mailErr error
	if purpose == domain.PurposeReset {
		mailErr = s.mailer.SendPasswordResetCode(email, name, code)
	} else {
		mailErr = s.mailer.SendVerificationCode(email, name, code)
	}
	if mailErr != nil {
		logger.ErrorContext(ctx, "Failed to send code email", "error", mailErr, "purpose", purpose)
	}

	return nil
}

func (s *authService) publish(ctx context.Context, subject string, event interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "error", err, "subject", subject)
	}
}

// generateCode returns a cryptographically random 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
