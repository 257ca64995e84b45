package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"auth-service/internal/observability"
)

// LockoutStore clears failure counters whose lock window ended before cutoff.
type LockoutStore interface {
	ClearExpiredLockouts(ctx context.Context, threshold int, cutoff time.Time, batchSize int) (int64, error)
}

type CleanupResult struct {
	ClearedLockouts int64 `json:"cleared_lockouts"`
}

// CleanupHandler is triggered by an external scheduler. Counters it clears would be
// reset on the next login attempt anyway; it only keeps the table tidy.
type CleanupHandler struct {
	store      LockoutStore
	logger     *observability.Logger
	cronSecret string
	threshold  int
	lockWindow time.Duration
	batchSize  int
	now        func() time.Time
}

func NewCleanupHandler(
	store LockoutStore,
	logger *observability.Logger,
	cronSecret string,
	threshold int,
	lockWindow time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		store:      store,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		threshold:  threshold,
		lockWindow: lockWindow,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "code": "not_found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "code": "unauthorized"})
		return
	}

	result, err := h.Run(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("lockout_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed", "code": "internal"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

// Run performs one cleanup pass of at most batchSize accounts.
func (h *CleanupHandler) Run(ctx context.Context) (CleanupResult, error) {
	cutoff := h.now().UTC().Add(-h.lockWindow)
	cleared, err := h.store.ClearExpiredLockouts(ctx, h.threshold, cutoff, h.batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	h.logger.Info("lockout_cleanup_completed", map[string]any{"cleared_lockouts": cleared})
	return CleanupResult{ClearedLockouts: cleared}, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
