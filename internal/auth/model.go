package auth

import "time"

type User struct {
	ID             int64
	Username       string
	PasswordHash   string
	FailedAttempts int
	LastFailedAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// LoginVersion changes with every write to the failure counters.
	LoginVersion int64
}

type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// IssuedToken is a signed JWT plus what the transport needs to deliver it.
type IssuedToken struct {
	Token     string
	CSRF      string
	ExpiresAt time.Time
}

// Session is the result of a successful login.
type Session struct {
	UserID   int64
	Username string
	Access   IssuedToken
	Refresh  IssuedToken
}

type loginResponse struct {
	Message      string `json:"message"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}
