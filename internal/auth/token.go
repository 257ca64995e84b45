package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	Username string    `json:"username"`
	Type     TokenKind `json:"typ"`
	CSRF     string    `json:"csrf,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrTokenInvalid
	}
	return id, nil
}

// TokenIssuer signs and verifies HS256 access and refresh tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	csrf       bool
	now        func() time.Time
}

func NewTokenIssuer(cfg Config) *TokenIssuer {
	cfg = cfg.withDefaults()
	return &TokenIssuer{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		csrf:       cfg.CSRFProtect,
		now:        cfg.Now,
	}
}

func (t *TokenIssuer) AccessTTL() time.Duration {
	return t.accessTTL
}

func (t *TokenIssuer) IssueAccessToken(userID int64, username string) (IssuedToken, error) {
	return t.issue(TokenAccess, t.accessTTL, userID, username)
}

func (t *TokenIssuer) IssueRefreshToken(userID int64, username string) (IssuedToken, error) {
	return t.issue(TokenRefresh, t.refreshTTL, userID, username)
}

func (t *TokenIssuer) issue(kind TokenKind, ttl time.Duration, userID int64, username string) (IssuedToken, error) {
	now := t.now().UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		Username: username,
		Type:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if t.csrf {
		csrf, err := randomToken(16)
		if err != nil {
			return IssuedToken{}, fmt.Errorf("generate csrf token: %w", err)
		}
		claims.CSRF = csrf
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign jwt: %w", err)
	}

	return IssuedToken{Token: encoded, CSRF: claims.CSRF, ExpiresAt: expiresAt}, nil
}

// Decode verifies raw and checks that it is a token of the given kind. It returns
// ErrTokenExpired only for a correctly signed token past its expiry; every other
// failure is ErrTokenInvalid.
func (t *TokenIssuer) Decode(raw string, kind TokenKind) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		// Claims are only checked after the signature, so an expired token's typ is trusted.
		if errors.Is(err, jwt.ErrTokenExpired) && claims.Type == kind {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid || claims.Type != kind || claims.Username == "" {
		return nil, ErrTokenInvalid
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}

	return claims, nil
}
