package auth

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrMissingField       = errors.New("username and password are required")
	ErrInvalidUsername    = errors.New("username is too long")
	ErrConflict           = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("invalid token")

	// Login reports ErrInvalidCredentials instead.
	ErrUserNotFound = errors.New("user not found")
)

type WeakPasswordError struct {
	Violations []string
}

func (e WeakPasswordError) Error() string {
	return "password is too weak: " + strings.Join(e.Violations, ", ")
}

type AccountLockedError struct {
	Until time.Time
}

func (e AccountLockedError) Error() string {
	return "account temporarily locked"
}
