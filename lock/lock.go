// Package lock 基于 redis 的跨进程互斥锁，保证同一张表只有一个写入者
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/cdcgen/log"
	"github.com/hatlonely/cdcgen/log/logger"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotAcquired = errors.New("lock not acquired")
	ErrNotHeld     = errors.New("lock not held")
	ErrLost        = errors.New("lock lost")
)

// Locker 由模拟驱动在整个运行期间持有
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
	// Lost 在锁被他人抢占或过期后关闭，未持有时返回 nil
	Lost() <-chan struct{}
}

type RedisLockOptions struct {
	// host:port 地址，为空时不加锁
	Endpoint string `cfg:"endpoint"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	DB       int    `cfg:"db" def:"0"`

	// 锁的键，为空时由调用方按表名生成
	Key string `cfg:"key"`

	// 锁的过期时间，持有期间按 RefreshInterval 续期
	TTL             time.Duration `cfg:"ttl" def:"30s" validate:"gt=0"`
	RefreshInterval time.Duration `cfg:"refreshInterval" def:"10s" validate:"gt=0"`

	// 获取锁的最长等待时间，0 表示只尝试一次
	WaitTimeout   time.Duration `cfg:"waitTimeout" def:"0"`
	RetryInterval time.Duration `cfg:"retryInterval" def:"200ms" validate:"gt=0"`

	DialTimeout time.Duration `cfg:"dialTimeout" def:"5s"`
}

// 仅当值仍是自己的 token 时才删除或续期
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type RedisLock struct {
	client  *redis.Client
	key     string
	token   string
	options *RedisLockOptions
	logger  logger.Logger

	mu     sync.Mutex
	held   bool
	cancel context.CancelFunc
	done   chan struct{}
	lost   chan struct{}
}

func NewRedisLockWithOptions(options *RedisLockOptions, l logger.Logger) (*RedisLock, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	if options.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if options.Key == "" {
		return nil, errors.New("key is required")
	}
	if options.TTL <= 0 || options.RefreshInterval <= 0 || options.RetryInterval <= 0 {
		return nil, errors.New("ttl, refreshInterval and retryInterval must be positive")
	}
	if options.RefreshInterval >= options.TTL {
		return nil, errors.Errorf("refreshInterval [%s] must be less than ttl [%s]", options.RefreshInterval, options.TTL)
	}
	if l == nil {
		l = log.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        options.Endpoint,
		Username:    options.Username,
		Password:    options.Password,
		DB:          options.DB,
		DialTimeout: options.DialTimeout,
	})

	return &RedisLock{
		client:  client,
		key:     options.Key,
		token:   uuid.NewString(),
		options: options,
		logger:  l.WithGroup("lock").With("key", options.Key),
	}, nil
}

// Acquire 获取锁并开始后台续期。WaitTimeout 内按 RetryInterval 重试
func (l *RedisLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		select {
		case <-l.lost:
			// 已丢失的锁重新获取
			l.cancel()
			<-l.done
			l.held = false
		default:
			return nil
		}
	}

	deadline := time.Now().Add(l.options.WaitTimeout)
	for {
		ok, err := l.client.SetNX(ctx, l.key, l.token, l.options.TTL).Result()
		if err != nil {
			return errors.Wrapf(err, "redis SETNX %s failed", l.key)
		}
		if ok {
			break
		}
		if !time.Now().Add(l.options.RetryInterval).Before(deadline) {
			holder, _ := l.client.Get(ctx, l.key).Result()
			return errors.Wrapf(ErrNotAcquired, "key %s is held by %s", l.key, holder)
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait for lock")
		case <-time.After(l.options.RetryInterval):
		}
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	l.held = true
	l.cancel = cancel
	l.done = make(chan struct{})
	l.lost = make(chan struct{})
	go l.keepAlive(keepAliveCtx, l.done, l.lost)

	l.logger.InfoContext(ctx, "lock acquired", "token", l.token)
	return nil
}

// keepAlive 定期续期，发现锁已不属于自己时关闭 lost 并退出
func (l *RedisLock) keepAlive(ctx context.Context, done chan struct{}, lost chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.options.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := l.Refresh(ctx)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrNotHeld) {
				l.logger.ErrorContext(ctx, "lock lost", "error", err)
				close(lost)
				return
			}
			l.logger.WarnContext(ctx, "refresh lock failed", "error", err)
		}
	}
}

// Refresh 续期，锁已不属于自己时返回 ErrNotHeld
func (l *RedisLock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.options.TTL.Milliseconds()).Int()
	if err != nil {
		return errors.Wrapf(err, "refresh %s failed", l.key)
	}
	if n == 0 {
		return errors.Wrapf(ErrNotHeld, "key %s", l.key)
	}
	return nil
}

func (l *RedisLock) Lost() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lost
}

// Release 停止续期并释放锁，锁已过期或被他人持有时返回 ErrNotHeld
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		<-l.done
		l.cancel = nil
	}
	l.lost = nil
	if !l.held {
		return errors.Wrapf(ErrNotHeld, "key %s", l.key)
	}
	l.held = false

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return errors.Wrapf(err, "release %s failed", l.key)
	}
	if n == 0 {
		return errors.Wrapf(ErrNotHeld, "key %s", l.key)
	}
	l.logger.InfoContext(ctx, "lock released")
	return nil
}

func (l *RedisLock) Close() error {
	return l.client.Close()
}
