package stevedore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T, size int, connectTimeout time.Duration) *connPool {
	t.Helper()

	endpoint, err := ParseEndpoint("http://localhost:2375")
	require.NoError(t, err)

	pool := newConnPool(poolConfig{
		endpoint:       endpoint,
		connectTimeout: connectTimeout,
		readTimeout:    time.Second,
		size:           size,
	})
	t.Cleanup(pool.shutdown)
	return pool
}

func TestConnPool(t *testing.T) {
	t.Run("acquire pairs with release", func(t *testing.T) {
		pool := testPool(t, 2, 0)

		release, err := pool.acquire(context.Background())
		require.NoError(t, err)
		release()

		// Full capacity is back once every acquire has been released.
		assert.True(t, pool.slots.TryAcquire(pool.size))
		pool.slots.Release(pool.size)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		pool := testPool(t, 1, 0)

		release, err := pool.acquire(context.Background())
		require.NoError(t, err)
		release()
		release()

		assert.True(t, pool.slots.TryAcquire(1))
		pool.slots.Release(1)
	})

	t.Run("a caller past capacity blocks until a slot frees", func(t *testing.T) {
		pool := testPool(t, 2, 0)

		first, err := pool.acquire(context.Background())
		require.NoError(t, err)
		second, err := pool.acquire(context.Background())
		require.NoError(t, err)

		acquired := make(chan func(), 1)
		go func() {
			release, err := pool.acquire(context.Background())
			if err != nil {
				close(acquired)
				return
			}
			acquired <- release
		}()

		select {
		case <-acquired:
			t.Fatal("third acquire should have blocked at capacity")
		case <-time.After(50 * time.Millisecond):
		}

		first()

		select {
		case release := <-acquired:
			require.NotNil(t, release)
			release()
		case <-time.After(time.Second):
			t.Fatal("third acquire never unblocked after a release")
		}

		second()
	})

	t.Run("the bounded class gives up after its connect timeout", func(t *testing.T) {
		pool := testPool(t, 1, 50*time.Millisecond)

		release, err := pool.acquire(context.Background())
		require.NoError(t, err)
		defer release()

		_, err = pool.acquire(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("the no-timeout class waits for as long as the caller allows", func(t *testing.T) {
		pool := testPool(t, 1, 0)

		release, err := pool.acquire(context.Background())
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		_, err = pool.acquire(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("cancellation while queued unblocks promptly", func(t *testing.T) {
		pool := testPool(t, 1, 0)

		release, err := pool.acquire(context.Background())
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithCancel(context.Background())
		result := make(chan error, 1)
		go func() {
			_, err := pool.acquire(ctx)
			result <- err
		}()

		cancel()

		select {
		case err := <-result:
			assert.True(t, errors.Is(err, context.Canceled))
		case <-time.After(time.Second):
			t.Fatal("queued acquire did not observe cancellation")
		}
	})

	t.Run("shutdown is idempotent", func(t *testing.T) {
		pool := testPool(t, 1, 0)

		pool.shutdown()
		pool.shutdown()
	})
}

func TestClientOwnsTwoPools(t *testing.T) {
	// Two independent pools exist per client, one per timeout class, so the
	// effective connection ceiling is twice the configured size. This is
	// inherited structure; the doubling is deliberate and documented on
	// WithConnectionPoolSize.
	client, err := New("http://localhost:2375", WithConnectionPoolSize(3))
	require.NoError(t, err)
	defer client.Close()

	require.NotSame(t, client.pool, client.noTimeoutPool)
	assert.True(t, client.pool.slots.TryAcquire(3))
	assert.True(t, client.noTimeoutPool.slots.TryAcquire(3))
	client.pool.slots.Release(3)
	client.noTimeoutPool.slots.Release(3)

	assert.Greater(t, client.pool.acquireTimeout, time.Duration(0))
	assert.Equal(t, time.Duration(0), client.noTimeoutPool.acquireTimeout)
}
