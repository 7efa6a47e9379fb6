package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	domainSession "github.com/nestfind/nestfind/internal/domain/session"
	domainUser "github.com/nestfind/nestfind/internal/domain/user"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthenticated    = errors.New("authentication required")
)

// Service handles authentication.
type Service struct {
	userRepo    domainUser.Repository
	sessionRepo domainSession.Repository
	sessionTTL  time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// NewService creates an auth service.
func NewService(userRepo domainUser.Repository, sessionRepo domainSession.Repository, sessionTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		sessionTTL:  sessionTTL,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("service", "auth").Logger(),
	}
}

// LoginResult contains login response.
type LoginResult struct {
	User    *domainUser.User
	Session *domainSession.Session
	Token   string
}

// Login authenticates a user and creates a session.
func (s *Service) Login(ctx context.Context, username, password string, userAgent *string) (*LoginResult, error) {
	u, err := s.userRepo.GetByUsername(ctx, domainUser.NormalizeUsername(username))
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive() || !domainUser.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	sess, token, err := domainSession.New(u.UserID, s.sessionTTL, userAgent, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", u.UserID.String()).Msg("user login")
	return &LoginResult{User: u, Session: sess, Token: token}, nil
}

// Authenticate validates a session token and returns the user. Expired
// sessions are removed on sight.
func (s *Service) Authenticate(ctx context.Context, token string) (*domainUser.User, *domainSession.Session, error) {
	if token == "" {
		return nil, nil, ErrUnauthenticated
	}
	hash := domainSession.HashToken(token)
	sess, err := s.sessionRepo.GetByTokenHash(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, ErrUnauthenticated
	}
	now := s.now()
	if sess.IsExpired(now) {
		_ = s.sessionRepo.DeleteByTokenHash(ctx, hash)
		return nil, nil, ErrUnauthenticated
	}
	u, err := s.userRepo.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}
	if u == nil || !u.IsActive() {
		return nil, nil, ErrUnauthenticated
	}
	if err := s.sessionRepo.Touch(ctx, sess.SessionID, now); err != nil {
		s.logger.Warn().Err(err).Msg("failed to touch session")
	}
	return u, sess, nil
}

// Logout deletes a session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessionRepo.DeleteByTokenHash(ctx, domainSession.HashToken(token))
}

// PurgeExpired removes sessions past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	return s.sessionRepo.DeleteExpired(ctx, s.now())
}
