// ABOUTME: Tests for pair locks
// ABOUTME: Memory locker is always tested; Redis locker runs when CHATLINE_TEST_REDIS_ADDR is set

package pairlock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "a|b")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	exerciseMutualExclusion(t, l)
	assert.Equal(t, 0, l.held())
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	unlockAB, err := l.Lock(context.Background(), "a|b")
	require.NoError(t, err)
	defer unlockAB()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockCD, err := l.Lock(ctx, "c|d")
	require.NoError(t, err)
	unlockCD()
}

func TestMemoryLocker_ContextTimeout(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), "a|b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a|b")
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, l.held())
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("CHATLINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHATLINE_TEST_REDIS_ADDR not set")
	}
	l, err := NewRedisLocker(context.Background(), RedisConfig{Addr: addr, TTL: 2 * time.Second}, nil)
	require.NoError(t, err)
	defer l.Close()

	exerciseMutualExclusion(t, l)

	unlock, err := l.Lock(context.Background(), "x|y")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "x|y")
	assert.ErrorIs(t, err, ErrLockTimeout)
	unlock()
}
