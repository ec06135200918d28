package wallets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
)

func TestLockerSerializesSameKey(t *testing.T) {
	l := NewLocker(8)
	release, err := l.Acquire(context.Background(), "wallet-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "wallet-a")
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeTimeout))

	release()
	release2, err := l.Acquire(context.Background(), "wallet-a")
	require.NoError(t, err)
	release2()
}

func TestLockerDedupesCollidingStripes(t *testing.T) {
	l := NewLocker(1)
	release, err := l.Acquire(context.Background(), "wallet-a", "wallet-b")
	require.NoError(t, err)
	release()
}

func TestLockerOppositeOrderDoesNotDeadlock(t *testing.T) {
	l := NewLocker(64)
	done := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func(i int) {
			for n := 0; n < 200; n++ {
				keys := []string{"alice", "bob"}
				if i == 1 {
					keys = []string{"bob", "alice"}
				}
				release, err := l.Acquire(context.Background(), keys...)
				if err != nil {
					return
				}
				release()
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("lock acquisition deadlocked")
		}
	}
}

func TestLockOrder(t *testing.T) {
	a, b := LockOrder("zed", "amy")
	assert.Equal(t, "amy", a)
	assert.Equal(t, "zed", b)

	a, b = LockOrder("amy", "zed")
	assert.Equal(t, "amy", a)
	assert.Equal(t, "zed", b)
}
