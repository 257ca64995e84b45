package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	clock := newFakeClock()
	issuer := NewTokenIssuer(Config{JWTSecret: "test-secret", Now: clock.Now})

	access, err := issuer.IssueAccessToken(42, "alice")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if want := clock.now.Add(36000 * time.Second); !access.ExpiresAt.Equal(want) {
		t.Fatalf("access expiry = %v, want %v", access.ExpiresAt, want)
	}

	claims, err := issuer.Decode(access.Token, TokenAccess)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.Username != "alice" || claims.Subject != "42" || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if id, err := claims.UserID(); err != nil || id != 42 {
		t.Fatalf("UserID = %d, %v", id, err)
	}
	if claims.CSRF != "" {
		t.Fatal("csrf claim set with protection disabled")
	}

	refresh, err := issuer.IssueRefreshToken(42, "alice")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if want := clock.now.Add(360000 * time.Second); !refresh.ExpiresAt.Equal(want) {
		t.Fatalf("refresh expiry = %v, want %v", refresh.ExpiresAt, want)
	}
	if _, err := issuer.Decode(refresh.Token, TokenRefresh); err != nil {
		t.Fatalf("Decode refresh: %v", err)
	}
}

func TestTokenIssuerRejectsWrongKind(t *testing.T) {
	issuer := NewTokenIssuer(Config{JWTSecret: "test-secret"})

	refresh, err := issuer.IssueRefreshToken(1, "alice")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if _, err := issuer.Decode(refresh.Token, TokenAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token used as access: %v", err)
	}

	access, err := issuer.IssueAccessToken(1, "alice")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := issuer.Decode(access.Token, TokenRefresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token used as refresh: %v", err)
	}
}

func TestTokenIssuerExpiry(t *testing.T) {
	clock := newFakeClock()
	issuer := NewTokenIssuer(Config{JWTSecret: "test-secret", AccessTTL: time.Minute, Now: clock.Now})

	access, err := issuer.IssueAccessToken(7, "bob")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, err := issuer.Decode(access.Token, TokenAccess); err != nil {
		t.Fatalf("token rejected before expiry: %v", err)
	}

	clock.Advance(2 * time.Second)
	if _, err := issuer.Decode(access.Token, TokenAccess); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	// An expired token of the other kind is simply the wrong token.
	if _, err := issuer.Decode(access.Token, TokenRefresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired access token used as refresh: %v", err)
	}
}

func TestTokenIssuerRejectsTampering(t *testing.T) {
	issuer := NewTokenIssuer(Config{JWTSecret: "test-secret"})
	other := NewTokenIssuer(Config{JWTSecret: "other-secret"})

	access, err := issuer.IssueAccessToken(1, "alice")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	parts := strings.Split(access.Token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Username: "alice",
		Type:     TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Username: "alice",
		Type:     TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign hs512 token: %v", err)
	}

	for name, raw := range map[string]string{
		"garbage":       "not-a-token",
		"empty":         "",
		"bad signature": tampered,
		"none alg":      none,
		"other alg":     hs512,
	} {
		if _, err := issuer.Decode(raw, TokenAccess); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}

	if _, err := other.Decode(access.Token, TokenAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("token accepted with a different secret: %v", err)
	}
}

func TestTokenIssuerCSRFClaim(t *testing.T) {
	issuer := NewTokenIssuer(Config{JWTSecret: "test-secret", CSRFProtect: true})

	access, err := issuer.IssueAccessToken(3, "carol")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if access.CSRF == "" {
		t.Fatal("csrf value missing")
	}

	claims, err := issuer.Decode(access.Token, TokenAccess)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.CSRF != access.CSRF {
		t.Fatalf("csrf claim = %q, want %q", claims.CSRF, access.CSRF)
	}
}
