package auth

import "time"

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 10 * time.Minute
)

type LockState int

const (
	LockOpen LockState = iota
	LockLocked
	LockExpired
)

func (s LockState) String() string {
	switch s {
	case LockOpen:
		return "open"
	case LockLocked:
		return "locked"
	case LockExpired:
		return "expired"
	default:
		return "unknown"
	}
}

type AttemptResult int

const (
	AttemptSucceeded AttemptResult = iota
	AttemptFailed
	AttemptLocked
)

// LockoutPolicy locks an account after Threshold consecutive failures for Window,
// measured from the most recent failure.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

func (p LockoutPolicy) withDefaults() LockoutPolicy {
	if p.Threshold <= 0 {
		p.Threshold = defaultMaxAttempts
	}
	if p.Window <= 0 {
		p.Window = defaultLockWindow
	}
	return p
}

func (p LockoutPolicy) State(user User, now time.Time) LockState {
	p = p.withDefaults()

	if user.FailedAttempts < p.Threshold {
		return LockOpen
	}
	if user.LastFailedAt == nil || now.Sub(*user.LastFailedAt) >= p.Window {
		return LockExpired
	}
	return LockLocked
}

// LockedUntil is when a locked account accepts attempts again.
func (p LockoutPolicy) LockedUntil(user User) time.Time {
	p = p.withDefaults()
	if user.LastFailedAt == nil {
		return time.Time{}
	}
	return user.LastFailedAt.Add(p.Window)
}

// Attempt applies one login attempt to user. verify is only called when the account
// is not locked. A locked account is left untouched.
func (p LockoutPolicy) Attempt(user *User, now time.Time, verify func() bool) AttemptResult {
	switch p.State(*user, now) {
	case LockLocked:
		return AttemptLocked
	case LockExpired:
		user.FailedAttempts = 0
	}

	if verify() {
		user.FailedAttempts = 0
		user.LastFailedAt = nil
		return AttemptSucceeded
	}

	failedAt := now.UTC()
	user.FailedAttempts++
	user.LastFailedAt = &failedAt
	return AttemptFailed
}
