package wallets

import (
	"context"
	"hash/fnv"
	"sort"

	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
)

const defaultStripes = 256

// Locker serializes in-process work per wallet with a fixed set of striped semaphores.
type Locker struct {
	stripes []chan struct{}
}

func NewLocker(stripes int) *Locker {
	if stripes <= 0 {
		stripes = defaultStripes
	}
	l := &Locker{stripes: make([]chan struct{}, stripes)}
	for i := range l.stripes {
		l.stripes[i] = make(chan struct{}, 1)
	}
	return l
}

// Acquire takes the stripes for keys in ascending stripe order and returns a release func.
// It gives up with CodeTimeout when ctx ends first.
func (l *Locker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	indexes := l.stripeIndexes(keys)
	held := make([]int, 0, len(indexes))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-l.stripes[held[i]]
		}
	}
	for _, idx := range indexes {
		select {
		case l.stripes[idx] <- struct{}{}:
			held = append(held, idx)
		case <-ctx.Done():
			release()
			return nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, ctx.Err(), "timed out waiting for wallet lock")
		}
	}
	return release, nil
}

func (l *Locker) stripeIndexes(keys []string) []int {
	seen := make(map[int]struct{}, len(keys))
	out := make([]int, 0, len(keys))
	for _, key := range keys {
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		idx := int(h.Sum32() % uint32(len(l.stripes)))
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// LockOrder returns the two wallets in the order their rows must be locked.
func LockOrder(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
