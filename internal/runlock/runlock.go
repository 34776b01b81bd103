// Package runlock 在 Redis 上实现跨进程的排班锁，保证多个 API 实例不会同时排班
package runlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("排班锁被其他实例持有")

// 只有持有者才能删除锁
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// 只有持有者才能续期，返回 0 表示锁已经不属于自己
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Client 是 *redis.Client 中用到的方法
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

type Lock struct {
	client Client
	key    string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	renew  time.Duration
}

// New 创建一个锁。ttl 为锁的过期时间，wait 为获取锁时最长的等待时间
func New(client Client, key string, ttl, wait time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		ttl:    ttl,
		wait:   wait,
		retry:  200 * time.Millisecond,
		renew:  ttl / 3,
	}
}

// Acquire 获取锁，等待超过 wait 时返回 ErrLockHeld。成功时返回用于释放锁的函数，
// 释放之前每隔 ttl/3 续期一次，因此持有时间可以超过 ttl
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return l.hold(token), nil
		}

		if !time.Now().Before(deadline) {
			return nil, ErrLockHeld
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

func (l *Lock) hold(token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			l.release(token)
		})
	}
}

func (l *Lock) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if l.renew <= 0 {
		<-stop
		return
	}

	ticker := time.NewTicker(l.renew)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.renew)
			n, err := l.client.Eval(ctx, renewScript, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				slog.Error("无法续期排班锁", "key", l.key, "error", err)
				continue
			}
			if n == 0 {
				slog.Error("排班锁已被其他实例持有，停止续期", "key", l.key)
				return
			}
		}
	}
}

func (l *Lock) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err(); err != nil {
		slog.Error("无法释放排班锁", "key", l.key, "error", err)
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
