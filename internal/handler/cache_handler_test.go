package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/techdigest/internal/cache"
	"github.com/hitoshi/techdigest/internal/model"
)

// mockCache はcache.Cacheのモック実装。
type mockCache struct {
	statsFn func(ctx context.Context) (model.CacheStats, error)
	clearFn func(ctx context.Context) (int, error)
}

var _ cache.Cache = (*mockCache)(nil)

func (m *mockCache) Get(ctx context.Context, params model.DigestParams) *model.Digest { return nil }

func (m *mockCache) Set(ctx context.Context, params model.DigestParams, digest *model.Digest) {}

func (m *mockCache) Clear(ctx context.Context) (int, error) {
	if m.clearFn != nil {
		return m.clearFn(ctx)
	}
	return 0, nil
}

func (m *mockCache) Stats(ctx context.Context) (model.CacheStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return model.CacheStats{}, nil
}

func (m *mockCache) Sweep(ctx context.Context) (int, error) { return 0, nil }

func (m *mockCache) Backend() string { return cache.BackendMemory }

func fixedNow() time.Time {
	return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
}

func TestCacheHandler_GetStats(t *testing.T) {
	c := &mockCache{
		statsFn: func(ctx context.Context) (model.CacheStats, error) {
			return model.CacheStats{
				TotalEntries:          3,
				FreshEntries:          2,
				ExpiredEntries:        1,
				OldestEntryAgeMinutes: 50,
				ApproxSizeMB:          0.12,
			}, nil
		},
	}
	h := NewCacheHandler(c, discardLogger())
	h.now = fixedNow

	w := httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/cache", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var got cacheStatsResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got.Status != "success" {
		t.Errorf("status = %q, want success", got.Status)
	}
	if got.Backend != "memory" {
		t.Errorf("backend = %q, want memory", got.Backend)
	}
	if got.Stats.TotalEntries != 3 || got.Stats.FreshEntries != 2 || got.Stats.ExpiredEntries != 1 {
		t.Errorf("stats = %+v", got.Stats)
	}
	if got.Timestamp != "2026-10-15T09:30:00Z" {
		t.Errorf("timestamp = %q, want 2026-10-15T09:30:00Z", got.Timestamp)
	}
}

func TestCacheHandler_GetStats_Error(t *testing.T) {
	c := &mockCache{
		statsFn: func(ctx context.Context) (model.CacheStats, error) {
			return model.CacheStats{}, errors.New("db down")
		},
	}
	h := NewCacheHandler(c, discardLogger())

	w := httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/cache", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := parseErrorBody(t, w); body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
}

func TestCacheHandler_Clear(t *testing.T) {
	cleared := false
	c := &mockCache{
		clearFn: func(ctx context.Context) (int, error) {
			cleared = true
			return 4, nil
		},
	}
	h := NewCacheHandler(c, discardLogger())
	h.now = fixedNow

	w := httptest.NewRecorder()
	h.Clear(w, httptest.NewRequest(http.MethodDelete, "/api/cache", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !cleared {
		t.Error("Clearが呼ばれていない")
	}

	var got cacheClearResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got.RemovedEntries != 4 {
		t.Errorf("removed_entries = %d, want 4", got.RemovedEntries)
	}
	if got.Message != "Cache cleared successfully" {
		t.Errorf("message = %q", got.Message)
	}
}

func TestCacheHandler_Clear_Error(t *testing.T) {
	c := &mockCache{
		clearFn: func(ctx context.Context) (int, error) {
			return 0, errors.New("delete failed")
		},
	}
	h := NewCacheHandler(c, discardLogger())

	w := httptest.NewRecorder()
	h.Clear(w, httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
