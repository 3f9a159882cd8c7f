package lock

import (
	"context"
	"errors"
	"time"

	"sproutmarket/internal/infrastructure/cache"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis 分布式锁
//
// 加锁：SET key value NX EX timeout；value 标识持有者。
// 释放：Lua 脚本先比对 value 再删除，避免删掉别人在过期后重新拿到的锁。

var ErrLockFailed = errors.New("获取分布式锁失败")

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，锁已不属于自己时什么也不做
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// NewExchangeOfferLock 按交换维度串行化报价的创建与处理
func NewExchangeOfferLock(client *redis.Client, exchangeID int64) *DistributedLock {
	return NewDistributedLock(client, cache.ExchangeOfferLockKey(exchangeID), uuid.NewString(), 15*time.Second)
}

// NewCheckoutLock 按用户维度串行化支付确认，同一笔 PaymentIntent 重复提交只会建一张订单
func NewCheckoutLock(client *redis.Client, userID int64) *DistributedLock {
	return NewDistributedLock(client, cache.CheckoutLockKey(userID), uuid.NewString(), 30*time.Second)
}
