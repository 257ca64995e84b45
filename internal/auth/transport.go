package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type DeliveryMode string

const (
	DeliveryCookie DeliveryMode = "cookie"
	DeliveryHeader DeliveryMode = "header"
)

const (
	AccessCookieName      = "access_token_cookie"
	RefreshCookieName     = "refresh_token_cookie"
	AccessCSRFCookieName  = "csrf_access_token"
	RefreshCSRFCookieName = "csrf_refresh_token"
	CSRFHeaderName        = "X-CSRF-TOKEN"
)

var (
	errTokenMissing = errors.New("missing authorization token")
	errCSRFFailed   = errors.New("csrf token missing or incorrect")
)

func ParseDeliveryMode(value string) (DeliveryMode, error) {
	switch DeliveryMode(strings.ToLower(strings.TrimSpace(value))) {
	case DeliveryCookie, "cookies":
		return DeliveryCookie, nil
	case DeliveryHeader, "headers":
		return DeliveryHeader, nil
	default:
		return "", fmt.Errorf("unknown token delivery mode %q", value)
	}
}

func ParseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

type CookieOptions struct {
	Secure      bool
	SameSite    http.SameSite
	CSRFProtect bool
}

// Transport moves tokens between the service and the client. The mode is chosen once
// per deployment; a cookie-mode server ignores Authorization headers and vice versa.
type Transport struct {
	mode    DeliveryMode
	cookies CookieOptions
}

func NewTransport(mode DeliveryMode, cookies CookieOptions) Transport {
	if mode != DeliveryHeader {
		mode = DeliveryCookie
	}
	if cookies.SameSite == 0 {
		cookies.SameSite = http.SameSiteLaxMode
	}
	return Transport{mode: mode, cookies: cookies}
}

func (t Transport) Mode() DeliveryMode {
	return t.mode
}

// Label is how the protected resource names the delivery mode.
func (t Transport) Label() string {
	if t.mode == DeliveryCookie {
		return "cookies"
	}
	return "header"
}

func (t Transport) Extract(r *http.Request, kind TokenKind) (string, error) {
	if t.mode == DeliveryCookie {
		name := AccessCookieName
		if kind == TokenRefresh {
			name = RefreshCookieName
		}
		cookie, err := r.Cookie(name)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			return "", errTokenMissing
		}
		return strings.TrimSpace(cookie.Value), nil
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errTokenMissing
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrTokenInvalid
	}

	tokenStr := strings.TrimSpace(parts[1])
	if tokenStr == "" {
		return "", errTokenMissing
	}
	return tokenStr, nil
}

// CheckCSRF enforces the double submit check for cookie-borne tokens on unsafe methods.
func (t Transport) CheckCSRF(r *http.Request, claims *Claims) error {
	if t.mode != DeliveryCookie || !t.cookies.CSRFProtect || isSafeMethod(r.Method) {
		return nil
	}

	received := r.Header.Get(CSRFHeaderName)
	if claims.CSRF == "" || received == "" {
		return errCSRFFailed
	}
	if subtle.ConstantTimeCompare([]byte(claims.CSRF), []byte(received)) != 1 {
		return errCSRFFailed
	}
	return nil
}

func (t Transport) SetSession(w http.ResponseWriter, session Session) {
	t.setToken(w, AccessCookieName, AccessCSRFCookieName, session.Access)
	t.setToken(w, RefreshCookieName, RefreshCSRFCookieName, session.Refresh)
}

func (t Transport) SetAccess(w http.ResponseWriter, access IssuedToken) {
	t.setToken(w, AccessCookieName, AccessCSRFCookieName, access)
}

// Clear expires every auth cookie the server may have set.
func (t Transport) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		http.SetCookie(w, t.cookie(name, "", time.Unix(0, 0), true, -1))
	}
	for _, name := range []string{AccessCSRFCookieName, RefreshCSRFCookieName} {
		http.SetCookie(w, t.cookie(name, "", time.Unix(0, 0), false, -1))
	}
}

func (t Transport) setToken(w http.ResponseWriter, tokenCookie, csrfCookie string, token IssuedToken) {
	http.SetCookie(w, t.cookie(tokenCookie, token.Token, token.ExpiresAt, true, 0))
	if t.cookies.CSRFProtect && token.CSRF != "" {
		http.SetCookie(w, t.cookie(csrfCookie, token.CSRF, token.ExpiresAt, false, 0))
	}
}

func (t Transport) cookie(name, value string, expires time.Time, httpOnly bool, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   t.cookies.Secure,
		SameSite: t.cookies.SameSite,
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
