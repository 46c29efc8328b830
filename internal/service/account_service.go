package service

import (
	"context"
	"fmt"

	"github.com/shoplane/accounts/internal/domain"
	"github.com/shoplane/accounts/internal/repository"
)

// AccountService covers the non-credential side of a user record: profile,
// preferences and the admin surface.
type AccountService interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID int64, req *domain.UpdateProfileRequest) (*domain.User, error)
	UpdatePreferences(ctx context.Context, userID int64, req *domain.UpdatePreferencesRequest) (*domain.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error)
	UpdateUserRole(ctx context.Context, userID int64, role string) error
}

type accountService struct {
	userRepo repository.UserRepository
}

func NewAccountService(userRepo repository.UserRepository) AccountService {
	return &accountService{userRepo: userRepo}
}

func (s *accountService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

func (s *accountService) UpdateProfile(ctx context.Context, userID int64, req *domain.UpdateProfileRequest) (*domain.User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	user, err := s.userRepo.UpdateProfile(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *accountService) UpdatePreferences(ctx context.Context, userID int64, req *domain.UpdatePreferencesRequest) (*domain.User, error) {
	user, err := s.userRepo.UpdatePreferences(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *accountService) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	users, err := s.userRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *accountService) UpdateUserRole(ctx context.Context, userID int64, role string) error {
	if !domain.IsValidRole(role) {
		return fmt.Errorf("validation failed: invalid role %q", role)
	}
	return s.userRepo.UpdateRole(ctx, userID, role)
}
