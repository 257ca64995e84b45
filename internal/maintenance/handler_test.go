package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"auth-service/internal/observability"
)

type fakeLockoutStore struct {
	calls     int
	threshold int
	cutoff    time.Time
	batchSize int
	cleared   int64
	err       error
}

func (s *fakeLockoutStore) ClearExpiredLockouts(_ context.Context, threshold int, cutoff time.Time, batchSize int) (int64, error) {
	s.calls++
	s.threshold = threshold
	s.cutoff = cutoff
	s.batchSize = batchSize
	return s.cleared, s.err
}

func newTestHandler(store LockoutStore, secret string) *CleanupHandler {
	h := NewCleanupHandler(store, observability.NewLoggerTo(io.Discard, "test"), secret, 5, 10*time.Minute, 200)
	h.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func serve(h *CleanupHandler, method, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/internal/maintenance/cleanup", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestCleanupHandlerDisabledWithoutSecret(t *testing.T) {
	store := &fakeLockoutStore{}
	rec := serve(newTestHandler(store, ""), http.MethodPost, "Bearer anything")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if store.calls != 0 {
		t.Fatal("store called while disabled")
	}
}

func TestCleanupHandlerRejectsBadSecret(t *testing.T) {
	store := &fakeLockoutStore{}
	h := newTestHandler(store, "cron-secret")

	for _, header := range []string{"", "Bearer wrong", "Basic cron-secret", "cron-secret"} {
		if rec := serve(h, http.MethodGet, header); rec.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: status = %d, want 401", header, rec.Code)
		}
	}
	if store.calls != 0 {
		t.Fatal("store called without a valid secret")
	}

	if rec := serve(h, http.MethodDelete, "Bearer cron-secret"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
}

func TestCleanupHandlerClearsExpiredLockouts(t *testing.T) {
	store := &fakeLockoutStore{cleared: 3}
	rec := serve(newTestHandler(store, "cron-secret"), http.MethodPost, "Bearer cron-secret")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if store.threshold != 5 || store.batchSize != 200 {
		t.Fatalf("threshold=%d batch=%d", store.threshold, store.batchSize)
	}
	if want := time.Date(2025, 6, 1, 11, 50, 0, 0, time.UTC); !store.cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", store.cutoff, want)
	}

	var body struct {
		Status string        `json:"status"`
		Result CleanupResult `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Result.ClearedLockouts != 3 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCleanupHandlerStoreFailure(t *testing.T) {
	store := &fakeLockoutStore{err: errors.New("database unavailable")}
	rec := serve(newTestHandler(store, "cron-secret"), http.MethodGet, "Bearer cron-secret")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
