package lock_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/lock"
)

func exclusive(t *testing.T, l lock.Locker) {
	t.Helper()
	ctx := context.Background()

	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, lock.AccountKey("acct_1"))
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			n := inside.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestKeyedMutualExclusion(t *testing.T) {
	k := lock.NewKeyed()
	exclusive(t, k)
	assert.Zero(t, k.Len())
}

func TestKeyedDistinctKeysDoNotContend(t *testing.T) {
	k := lock.NewKeyed()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, lock.AccountKey("a"))
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, lock.AccountKey("b"))
	require.NoError(t, err)
	unlockB()
}

func TestKeyedHonorsContext(t *testing.T) {
	k := lock.NewKeyed()
	unlock, err := k.Lock(context.Background(), "x")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Zero(t, k.Len())
}

func TestRedisMutualExclusion(t *testing.T) {
	addr := os.Getenv("TALLY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TALLY_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	l := lock.NewRedis(client, lock.WithKeyPrefix("tally:test:"+t.Name()+":"), lock.WithPollInterval(time.Millisecond))
	exclusive(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	unlock, err := l.Lock(ctx, "held")
	require.NoError(t, err)
	_, err = l.Lock(ctx, "held")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	unlock()
}
