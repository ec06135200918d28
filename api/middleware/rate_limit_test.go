package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/echopay/echopay-backend/pkg/enums"
)

type counterStore struct {
	counts map[string]int64
	err    error
}

func (c *counterStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[key]++
	return c.counts[key], nil
}

func TestRateLimitBlocksAfterLimitPerUser(t *testing.T) {
	store := &counterStore{}
	mw := RateLimit(NewRateLimitPolicy("writes", time.Minute, 2), store, nil)

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", nil)
		req = req.WithContext(WithIdentity(req.Context(), user, enums.ActorRoleUser))
		resp := httptest.NewRecorder()
		mw(okHandler()).ServeHTTP(resp, req)
		return resp.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("alice"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, code)
		}
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", code)
	}
	if code := send("bob"); code != http.StatusOK {
		t.Fatalf("bob should have his own bucket, got %d", code)
	}
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	store := &counterStore{}
	mw := RateLimit(NewRateLimitPolicy("writes", time.Minute, 1), store, nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	mw(okHandler()).ServeHTTP(httptest.NewRecorder(), req)

	if store.counts["rl:ip:writes:203.0.113.7"] != 1 {
		t.Fatalf("expected ip bucket to be used, got %v", store.counts)
	}
}

func TestRateLimitFailsClosedOnStoreError(t *testing.T) {
	mw := RateLimit(NewRateLimitPolicy("writes", time.Minute, 5), &counterStore{err: errors.New("redis down")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "alice", enums.ActorRoleUser))
	resp := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.Code)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	store := &counterStore{}
	mw := RateLimit(NewRateLimitPolicy("writes", 0, 0), store, nil)
	resp := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	if resp.Code != http.StatusOK || len(store.counts) != 0 {
		t.Fatalf("expected passthrough, got %d with %v", resp.Code, store.counts)
	}
}
