package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultAccessTTL  = 36000 * time.Second
	defaultRefreshTTL = 360000 * time.Second
	maxUsernameLength = 80

	// Each lost race means another attempt was recorded, so a login retries at most
	// about Threshold times before it sees the account locked.
	maxLoginStateRetries = 32
)

// Config is fixed at construction; the service and token issuer never change it.
type Config struct {
	JWTSecret   string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	MaxAttempts int
	LockWindow  time.Duration
	BcryptCost  int
	CSRFProtect bool
	Now         func() time.Time
}

func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = defaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = defaultRefreshTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.LockWindow <= 0 {
		c.LockWindow = defaultLockWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	SaveLoginState(ctx context.Context, user User) (bool, error)
	ResetLoginState(ctx context.Context, username string) error
}

type Service struct {
	store   UserStore
	hasher  PasswordHasher
	tokens  *TokenIssuer
	lockout LockoutPolicy
	now     func() time.Time

	// dummyHash keeps unknown-user logins as slow as wrong-password logins.
	dummyHash string
}

func NewService(store UserStore, cfg Config) (*Service, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	hasher := BcryptHasher{Cost: cfg.BcryptCost}
	dummy, err := hasher.Hash("dummy-Passw0rd!")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &Service{
		store:     store,
		hasher:    hasher,
		tokens:    NewTokenIssuer(cfg),
		lockout:   LockoutPolicy{Threshold: cfg.MaxAttempts, Window: cfg.LockWindow},
		now:       cfg.Now,
		dummyHash: dummy,
	}, nil
}

func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

func (s *Service) Lockout() LockoutPolicy {
	return s.lockout
}

func (s *Service) Register(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return User{}, ErrMissingField
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return User{}, ErrInvalidUsername
	}
	if violations := EvaluatePassword(password); len(violations) > 0 {
		return User{}, WeakPasswordError{Violations: violations}
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}

	return s.store.CreateUser(ctx, username, hash)
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, ErrMissingField
	}

	now := s.now().UTC()
	var (
		checkedHash string
		matched     bool
	)
	for i := 0; i < maxLoginStateRetries; i++ {
		user, err := s.store.GetByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				s.hasher.Verify(password, s.dummyHash)
				return Session{}, ErrInvalidCredentials
			}
			return Session{}, err
		}

		before := user
		result := s.lockout.Attempt(&user, now, func() bool {
			if checkedHash != user.PasswordHash {
				matched = s.hasher.Verify(password, user.PasswordHash)
				checkedHash = user.PasswordHash
			}
			return matched
		})
		if result == AttemptLocked {
			return Session{}, AccountLockedError{Until: s.lockout.LockedUntil(user)}
		}

		if loginStateChanged(before, user) {
			saved, err := s.store.SaveLoginState(ctx, user)
			if err != nil {
				return Session{}, err
			}
			if !saved {
				continue
			}
		}

		if result == AttemptFailed {
			return Session{}, ErrInvalidCredentials
		}
		return s.issueSession(user.ID, user.Username)
	}

	return Session{}, fmt.Errorf("login state for %q kept changing", username)
}

func loginStateChanged(before, after User) bool {
	if before.FailedAttempts != after.FailedAttempts {
		return true
	}
	if before.LastFailedAt == nil || after.LastFailedAt == nil {
		return before.LastFailedAt != after.LastFailedAt
	}
	return !before.LastFailedAt.Equal(*after.LastFailedAt)
}

// Refresh mints a new access token from verified refresh-token claims. The refresh
// token itself stays valid until it expires.
func (s *Service) Refresh(ctx context.Context, claims *Claims) (IssuedToken, error) {
	if claims == nil || claims.Type != TokenRefresh {
		return IssuedToken{}, ErrTokenInvalid
	}
	userID, err := claims.UserID()
	if err != nil {
		return IssuedToken{}, err
	}

	return s.tokens.IssueAccessToken(userID, claims.Username)
}

// ProtectedAccess returns the username the resource greets.
func (s *Service) ProtectedAccess(ctx context.Context, claims *Claims) (string, error) {
	if claims == nil || claims.Type != TokenAccess || claims.Username == "" {
		return "", ErrTokenInvalid
	}
	return claims.Username, nil
}

func (s *Service) UnlockUser(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrMissingField
	}
	return s.store.ResetLoginState(ctx, username)
}

// BootstrapUser registers the initial account when both values are set. An existing
// account is left untouched.
func (s *Service) BootstrapUser(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return fmt.Errorf("BOOTSTRAP_USERNAME and BOOTSTRAP_PASSWORD are required together")
	}

	_, err := s.Register(ctx, username, password)
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

func (s *Service) issueSession(userID int64, username string) (Session, error) {
	access, err := s.tokens.IssueAccessToken(userID, username)
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.tokens.IssueRefreshToken(userID, username)
	if err != nil {
		return Session{}, err
	}

	return Session{
		UserID:   userID,
		Username: username,
		Access:   access,
		Refresh:  refresh,
	}, nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
