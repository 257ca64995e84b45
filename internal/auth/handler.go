package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"auth-service/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service   *Service
	transport Transport
	logger    *observability.Logger
	now       func() time.Time
}

func NewHandler(service *Service, transport Transport, logger *observability.Logger) *Handler {
	return &Handler{
		service:   service,
		transport: transport,
		logger:    logger,
		now:       service.now,
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type weakPasswordResponse struct {
	Error        string   `json:"error"`
	Code         string   `json:"code"`
	Requirements []string `json:"requirements"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.service.Register(r.Context(), body.Username, body.Password)
	if err != nil {
		var weak WeakPasswordError
		switch {
		case errors.Is(err, ErrMissingField):
			writeError(w, http.StatusBadRequest, "missing_field", err.Error())
		case errors.Is(err, ErrInvalidUsername):
			writeError(w, http.StatusBadRequest, "invalid_username", err.Error())
		case errors.As(err, &weak):
			writeJSON(w, http.StatusBadRequest, weakPasswordResponse{
				Error:        "password does not meet requirements",
				Code:         "weak_password",
				Requirements: weak.Violations,
			})
		case errors.Is(err, ErrConflict):
			writeError(w, http.StatusConflict, "conflict", err.Error())
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to register user")
		}
		return
	}

	h.logger.Info("user_registered", map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusCreated, map[string]string{"message": "user registered successfully"})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	session, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		var locked AccountLockedError
		switch {
		case errors.Is(err, ErrMissingField):
			writeError(w, http.StatusBadRequest, "missing_field", err.Error())
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
		case errors.As(err, &locked):
			retryAfter := int((locked.Until.Sub(h.now()) + time.Second - 1) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			h.logger.Warn("login_locked", map[string]any{
				"username":    body.Username,
				"retry_after": retryAfter,
			})
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusForbidden, "account_locked", "account temporarily locked, try again later")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to login")
		}
		return
	}

	if h.transport.Mode() == DeliveryCookie {
		h.transport.SetSession(w, session)
		writeJSON(w, http.StatusOK, loginResponse{Message: "login successful"})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Message:      "login successful",
		AccessToken:  session.Access.Token,
		RefreshToken: session.Refresh.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.service.Tokens().AccessTTL().Seconds()),
	})
}

// Refresh runs behind RequireToken(TokenRefresh).
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeTokenError(w, errTokenMissing)
		return
	}

	access, err := h.service.Refresh(r.Context(), claims)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			writeTokenError(w, err)
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to refresh token")
		return
	}

	if h.transport.Mode() == DeliveryCookie {
		h.transport.SetAccess(w, access)
		writeJSON(w, http.StatusOK, loginResponse{Message: "token refreshed"})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Message:     "token refreshed",
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.service.Tokens().AccessTTL().Seconds()),
	})
}

// Protected runs behind RequireToken(TokenAccess).
func (h *Handler) Protected(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeTokenError(w, errTokenMissing)
		return
	}

	username, err := h.service.ProtectedAccess(r.Context(), claims)
	if err != nil {
		writeTokenError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Hello %s, welcome to the protected page (via %s)", username, h.transport.Label()),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.transport.Mode() == DeliveryCookie {
		h.transport.Clear(w)
		writeJSON(w, http.StatusOK, map[string]string{"message": "logged out, cookies cleared"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out, discard your tokens"})
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return credentialsRequest{}, false
	}

	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
