package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/store"
	domain "github.com/nestfind/nestfind/internal/domain/user"
)

// Service handles account registration.
type Service struct {
	repo   domain.Repository
	logger zerolog.Logger
}

// NewService creates a user service.
func NewService(repo domain.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "user").Logger(),
	}
}

// RegisterInput defines account creation input.
type RegisterInput struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	FullName string      `json:"full_name"`
	Email    string      `json:"email"`
	Phone    string      `json:"phone"`
	Role     domain.Role `json:"role"`
}

// Register creates a BUYER or SELLER account. AGENT is earned through an
// approved application and ADMIN through Bootstrap.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if err := domain.ValidateSignupRole(input.Role); err != nil {
		return nil, lifecycle.Validation("%s", err.Error())
	}
	return s.create(ctx, input)
}

// Bootstrap creates the first ADMIN. It fails once any account exists.
func (s *Service) Bootstrap(ctx context.Context, input RegisterInput) (*domain.User, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, lifecycle.Conflict("bootstrap already completed")
	}
	input.Role = domain.RoleAdmin
	u, err := s.create(ctx, input)
	if err != nil {
		return nil, err
	}
	s.logger.Warn().Str("user_id", u.UserID.String()).Msg("bootstrap admin created")
	return u, nil
}

func (s *Service) create(ctx context.Context, input RegisterInput) (*domain.User, error) {
	username := domain.NormalizeUsername(input.Username)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, lifecycle.Validation("%s", err.Error())
	}
	if err := domain.ValidatePassword(input.Password, username); err != nil {
		return nil, lifecycle.Validation("%s", err.Error())
	}
	if input.FullName == "" {
		return nil, lifecycle.Validation("full_name is required")
	}

	hash, err := domain.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		UserID:       uuid.New(),
		Username:     username,
		FullName:     input.FullName,
		Email:        input.Email,
		Phone:        input.Phone,
		PasswordHash: hash,
		Role:         input.Role,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, lifecycle.Conflict("username %s is taken", username)
		}
		return nil, err
	}

	s.logger.Info().Str("user_id", u.UserID.String()).Str("role", string(u.Role)).Msg("user registered")
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.repo.GetByID(ctx, userID)
}
