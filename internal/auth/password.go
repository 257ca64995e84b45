package auth

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// Password rule messages, in the order EvaluatePassword reports them.
const (
	RuleMinLength = "at least 8 characters"
	RuleUpper     = "one uppercase letter"
	RuleLower     = "one lowercase letter"
	RuleDigit     = "one digit"
	RuleSpecial   = "one special character"
	RuleMaxBytes  = "at most 72 bytes"
)

// EvaluatePassword returns every rule the password violates. An empty result means the
// password is acceptable.
func EvaluatePassword(password string) []string {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case r == '_' || unicode.IsLetter(r):
		default:
			hasSpecial = true
		}
	}

	violations := make([]string, 0, 5)
	if utf8.RuneCountInString(password) < minPasswordLength {
		violations = append(violations, RuleMinLength)
	}
	if !hasUpper {
		violations = append(violations, RuleUpper)
	}
	if !hasLower {
		violations = append(violations, RuleLower)
	}
	if !hasDigit {
		violations = append(violations, RuleDigit)
	}
	if !hasSpecial {
		violations = append(violations, RuleSpecial)
	}
	return violations
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", WeakPasswordError{Violations: []string{RuleMaxBytes}}
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h BcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
