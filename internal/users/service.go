package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidCredentials is returned for an unknown username and for a wrong
// password alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// dummyPassword is hashed once and verified against on unknown-user logins.
const dummyPassword = "authority-timing-equaliser"

// userRepo is the storage interface consumed by UserService.
type userRepo interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	Create(ctx context.Context, u *User) error
}

type passwordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) (bool, error)
}

type tokenIssuer interface {
	Issue(subject, role string) (string, time.Time, error)
	TTL() time.Duration
}

// UserService implements the login and registration flows.
type UserService struct {
	repo   userRepo
	hasher passwordHasher
	tokens tokenIssuer
	logger *zap.Logger

	dummyMu   sync.Mutex
	dummyHash string
}

// NewUserService creates a new UserService.
func NewUserService(repo userRepo, hasher passwordHasher, tokens tokenIssuer, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, hasher: hasher, tokens: tokens, logger: logger}
}

// Register creates a user with role "user". ErrConflict is returned when the
// username or email is taken, whether detected by the pre-check or by the
// insert itself.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*User, error) {
	exists, err := s.repo.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	if exists {
		return nil, ErrConflict
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	u := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUser,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	s.logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return u, nil
}

// Login checks the credentials and issues an access token for the user.
// Unknown users still pay for one bcrypt verification.
func (s *UserService) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		s.equaliseTiming(ctx, password)
		s.logger.Info("login failed", zap.String("username", username), zap.String("reason", "unknown user"))
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("login: %w", err)
	}

	ok, err := s.hasher.Verify(ctx, password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !ok {
		s.logger.Info("login failed", zap.String("username", username), zap.String("reason", "password mismatch"))
		return nil, ErrInvalidCredentials
	}

	token, _, err := s.tokens.Issue(u.Username, u.Role)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	s.logger.Info("login succeeded", zap.String("username", u.Username))
	return &Session{
		AccessToken: token,
		ExpiresIn:   int64(s.tokens.TTL() / time.Second),
		Subject:     u.Username,
		Role:        u.Role,
	}, nil
}

// WarmUp computes the throwaway hash used by unknown-user logins so the
// first such login costs the same as later ones.
func (s *UserService) WarmUp(ctx context.Context) error {
	_, err := s.timingHash(ctx)
	return err
}

// equaliseTiming runs a verification against a throwaway hash. Errors are
// ignored; the caller returns ErrInvalidCredentials regardless.
func (s *UserService) equaliseTiming(ctx context.Context, password string) {
	hash, err := s.timingHash(ctx)
	if err != nil {
		s.logger.Warn("timing hash unavailable", zap.Error(err))
		return
	}
	_, _ = s.hasher.Verify(ctx, password, hash)
}

func (s *UserService) timingHash(ctx context.Context) (string, error) {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyHash != "" {
		return s.dummyHash, nil
	}
	hash, err := s.hasher.Hash(ctx, dummyPassword)
	if err != nil {
		return "", err
	}
	s.dummyHash = hash
	return hash, nil
}
