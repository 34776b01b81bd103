package runlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeRedis 只模拟 SET NX 以及续期和释放脚本
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
	renews int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	if script == renewScript {
		f.renews++
		return redis.NewCmdResult(int64(1), nil)
	}
	delete(f.values, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func (f *fakeRedis) renewCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renews
}

func (f *fakeRedis) holder(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func TestAcquireAndRelease(t *testing.T) {
	rdb := newFakeRedis()
	lock := New(rdb, "allocation:run", time.Minute, 0)

	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	_, held := rdb.holder("allocation:run")
	require.True(t, held)

	_, err = lock.Acquire(context.Background())
	require.ErrorIs(t, err, ErrLockHeld)

	release()
	_, held = rdb.holder("allocation:run")
	require.False(t, held)

	release, err = lock.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestReleaseDoesNotDeleteOthersLock(t *testing.T) {
	rdb := newFakeRedis()
	lock := New(rdb, "allocation:run", time.Minute, 0)

	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)

	// 锁过期后被其他实例获取
	rdb.mu.Lock()
	rdb.values["allocation:run"] = "other"
	rdb.mu.Unlock()

	release()
	v, held := rdb.holder("allocation:run")
	require.True(t, held)
	require.Equal(t, "other", v)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	rdb := newFakeRedis()
	first := New(rdb, "allocation:run", time.Minute, 0)
	second := New(rdb, "allocation:run", time.Minute, 2*time.Second)
	second.retry = 10 * time.Millisecond

	release, err := first.Acquire(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	release2, err := second.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestAcquireHonoursContext(t *testing.T) {
	rdb := newFakeRedis()
	rdb.values["allocation:run"] = "other"
	lock := New(rdb, "allocation:run", time.Minute, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := lock.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireReturnsRedisErrors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.setErr = errors.New("connection refused")

	_, err := New(rdb, "allocation:run", time.Minute, 0).Acquire(context.Background())
	require.EqualError(t, err, "connection refused")
}

func TestLockIsRenewedWhileHeld(t *testing.T) {
	rdb := newFakeRedis()
	lock := New(rdb, "allocation:run", 30*time.Millisecond, 0)

	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rdb.renewCount() >= 3 }, time.Second, 5*time.Millisecond)

	release()
	_, held := rdb.holder("allocation:run")
	require.False(t, held)

	// 释放之后不再续期
	n := rdb.renewCount()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, n, rdb.renewCount())

	release()
}

func TestRenewalStopsWhenLockIsLost(t *testing.T) {
	rdb := newFakeRedis()
	lock := New(rdb, "allocation:run", 30*time.Millisecond, 0)

	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	rdb.mu.Lock()
	rdb.values["allocation:run"] = "other"
	n := rdb.renews
	rdb.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, n, rdb.renewCount())
	v, _ := rdb.holder("allocation:run")
	require.Equal(t, "other", v)
}
