package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facolos/etl/internal/infrastructure/config"
)

func TestInMemoryRunLock_TryAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("acquires a free key", func(t *testing.T) {
		lock := NewInMemoryRunLock()
		ok, err := lock.TryAcquire(ctx, "tiktok_shop|orders", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, lock.Held())
	})

	t.Run("rejects a held key", func(t *testing.T) {
		lock := NewInMemoryRunLock()
		ok, _ := lock.TryAcquire(ctx, "k", time.Hour)
		require.True(t, ok)

		ok, err := lock.TryAcquire(ctx, "k", time.Hour)
		require.NoError(t, err)
		assert.False(t, ok, "held key should not be acquired twice")

		ok, _ = lock.TryAcquire(ctx, "other", time.Hour)
		assert.True(t, ok, "other keys are independent")
	})

	t.Run("release frees the key", func(t *testing.T) {
		lock := NewInMemoryRunLock()
		ok, _ := lock.TryAcquire(ctx, "k", 0)
		require.True(t, ok)
		require.NoError(t, lock.Release(ctx, "k"))

		ok, _ = lock.TryAcquire(ctx, "k", 0)
		assert.True(t, ok)
		assert.NoError(t, lock.Release(ctx, "never-held"))
	})

	t.Run("expired lock can be taken over", func(t *testing.T) {
		lock := NewInMemoryRunLock()
		now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		lock.now = func() time.Time { return now }

		ok, _ := lock.TryAcquire(ctx, "k", time.Minute)
		require.True(t, ok)

		now = now.Add(2 * time.Minute)
		assert.Equal(t, 0, lock.Held())
		ok, _ = lock.TryAcquire(ctx, "k", time.Minute)
		assert.True(t, ok, "expired lock should be acquirable")
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		lock := NewInMemoryRunLock()
		now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		lock.now = func() time.Time { return now }

		ok, _ := lock.TryAcquire(ctx, "k", 0)
		require.True(t, ok)
		now = now.Add(24 * time.Hour)
		ok, _ = lock.TryAcquire(ctx, "k", 0)
		assert.False(t, ok)
	})
}

func TestInMemoryRunLock_Concurrent(t *testing.T) {
	lock := NewInMemoryRunLock()
	ctx := context.Background()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := lock.TryAcquire(ctx, "same", time.Hour); ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), acquired.Load(), "exactly one goroutine should win")
}

func TestRunLockFactory_CreateLock(t *testing.T) {
	t.Run("redis disabled uses in-memory lock", func(t *testing.T) {
		lock, err := NewRunLockFactory(config.RedisConfig{Enabled: false}).CreateLock()
		require.NoError(t, err)
		assert.IsType(t, &InMemoryRunLock{}, lock)
	})

	t.Run("unreachable redis falls back when allowed", func(t *testing.T) {
		cfg := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}
		lock, err := NewRunLockFactory(cfg).CreateLock()
		require.NoError(t, err)
		assert.IsType(t, &InMemoryRunLock{}, lock)
	})

	t.Run("unreachable redis fails without fallback", func(t *testing.T) {
		cfg := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}
		_, err := NewRunLockFactory(cfg, WithInMemoryFallback(false)).CreateLock()
		assert.Error(t, err)
	})
}
