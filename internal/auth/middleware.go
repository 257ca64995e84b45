package auth

import (
	"context"
	"errors"
	"net/http"
)

type contextKey string

const claimsKey contextKey = "auth.claims"

// RequireToken lets the request through only with a valid token of the given kind and
// stores its claims in the request context.
func RequireToken(transport Transport, issuer *TokenIssuer, kind TokenKind, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := transport.Extract(r, kind)
		if err != nil {
			writeTokenError(w, err)
			return
		}

		claims, err := issuer.Decode(raw, kind)
		if err != nil {
			writeTokenError(w, err)
			return
		}

		if err := transport.CheckCSRF(r, claims); err != nil {
			writeTokenError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

func writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errTokenMissing):
		writeError(w, http.StatusUnauthorized, "token_missing", errTokenMissing.Error())
	case errors.Is(err, ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token_expired", ErrTokenExpired.Error())
	case errors.Is(err, errCSRFFailed):
		writeError(w, http.StatusUnauthorized, "csrf_failed", errCSRFFailed.Error())
	default:
		writeError(w, http.StatusUnauthorized, "token_invalid", ErrTokenInvalid.Error())
	}
}
