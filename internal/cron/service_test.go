package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/echopay/echopay-backend/pkg/logger"
)

type fakeLock struct {
	acquired bool
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.acquired = false
	f.released++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "fraud_case_escalation"}
	failing := &testJob{name: "automated_reversals", err: errors.New("risk service down")}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(failing, ok),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if ok.runs != 1 || failing.runs != 1 {
		t.Fatalf("expected both jobs to run once, got %d and %d", ok.runs, failing.runs)
	}
	if lock.released != 1 {
		t.Fatalf("expected lock released once, got %d", lock.released)
	}
	if service.interval != defaultInterval {
		t.Fatalf("expected default interval, got %s", service.interval)
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "outbox_retention"}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{acquired: true},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped, ran %d times", job.runs)
	}
}

type memoryLockStore struct {
	values map[string]string
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) ReleaseLock(_ context.Context, key, token string) (bool, error) {
	if m.values[key] != token {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockOnlyReleasesOwnToken(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	first, _ := NewRedisLock(store, "echopay:lock:cron", time.Minute)
	second, _ := NewRedisLock(store, "echopay:lock:cron", time.Minute)
	ctx := context.Background()

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second acquire should fail while held")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release without ownership: %v", err)
	}
	if _, held := store.values["echopay:lock:cron"]; !held {
		t.Fatal("non-owner release removed the lock")
	}

	// simulate expiry and takeover
	store.values["echopay:lock:cron"] = "someone-else"
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["echopay:lock:cron"] != "someone-else" {
		t.Fatal("expired owner removed the new holder's lock")
	}
}
