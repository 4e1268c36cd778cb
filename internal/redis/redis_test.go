package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(mr.Addr(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSlotKey(t *testing.T) {
	id := uuid.MustParse("6f1c6a8e-0000-4000-8000-000000000001")
	assert.Equal(t, "lock:slot:6f1c6a8e-0000-4000-8000-000000000001:2025-03-03:10:00", SlotKey(id, "2025-03-03", "10:00"))
}

func TestRedisSlotLocker_ExcludesConcurrentHolders(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)
	ctx := context.Background()
	key := SlotKey(uuid.New(), "2025-03-03", "10:00")

	err := locker.WithSlotLock(ctx, key, func(ctx context.Context) error {
		assert.True(t, mr.Exists(key))

		inner := locker.WithSlotLock(ctx, key, func(context.Context) error {
			t.Fatal("second holder entered the critical section")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key), "lock released after fn returns")
}

func TestRedisSlotLocker_PropagatesFnError(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)
	key := SlotKey(uuid.New(), "2025-03-03", "10:20")
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), key, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(key))
}

func TestRedisSlotLocker_DoesNotReleaseForeignToken(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, time.Second)
	key := SlotKey(uuid.New(), "2025-03-03", "10:40")

	err := locker.WithSlotLock(context.Background(), key, func(context.Context) error {
		// Another holder took over after expiry.
		mr.Set(key, "someone-else")
		return nil
	})
	require.NoError(t, err)

	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}

func TestLocalSlotLocker_OneWinner(t *testing.T) {
	locker := NewLocalSlotLocker(time.Second)
	key := SlotKey(uuid.New(), "2025-03-03", "11:00")

	var (
		entered  atomic.Int32
		rejected atomic.Int32
		wg       sync.WaitGroup
		release  = make(chan struct{})
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithSlotLock(context.Background(), key, func(context.Context) error {
				entered.Add(1)
				<-release
				return nil
			})
			if errors.Is(err, ErrLockNotAcquired) {
				rejected.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return entered.Load()+rejected.Load() == 10 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), entered.Load())
	assert.Equal(t, int32(9), rejected.Load())

	err := locker.WithSlotLock(context.Background(), key, func(context.Context) error { return nil })
	assert.NoError(t, err, "lock is free again")
}

func TestCache_GetSetDelete(t *testing.T) {
	mr, client := newTestClient(t)
	cache := NewCache(client)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "avail:a:2025-03-03")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "avail:a:2025-03-03", []byte(`{"working":true}`), time.Minute))
	val, ok, err := cache.Get(ctx, "avail:a:2025-03-03")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"working":true}`, string(val))
	assert.Equal(t, time.Minute, mr.TTL("avail:a:2025-03-03"))

	require.NoError(t, cache.Delete(ctx, "avail:a:2025-03-03"))
	require.NoError(t, cache.Delete(ctx))
	assert.False(t, mr.Exists("avail:a:2025-03-03"))
}

func TestCache_DeletePrefix(t *testing.T) {
	mr, client := newTestClient(t)
	cache := NewCache(client)
	ctx := context.Background()

	for i := 0; i < 450; i++ {
		require.NoError(t, cache.Set(ctx, fmt.Sprintf("avail:doc-a:%04d", i), []byte("x"), time.Minute))
	}
	require.NoError(t, cache.Set(ctx, "avail:doc-b:2025-03-03", []byte("x"), time.Minute))

	require.NoError(t, cache.DeletePrefix(ctx, "avail:doc-a:"))

	assert.Equal(t, []string{"avail:doc-b:2025-03-03"}, mr.Keys())
}

func TestCache_Incr(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewCache(client)
	ctx := context.Background()

	n, err := cache.Incr(ctx, "availgen:doc-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = cache.Incr(ctx, "availgen:doc-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	raw, ok, err := cache.Get(ctx, "availgen:doc-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", string(raw))
}

func TestCache_ErrorsWhenRedisIsDown(t *testing.T) {
	mr, client := newTestClient(t)
	cache := NewCache(client)
	mr.Close()

	_, _, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
}
