package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"sproutmarket/internal/config"

	"github.com/go-redis/redis/v8"
)

func InitRedis(cfg *config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("连接 Redis 失败: %v", err)
	}

	log.Println("Redis 连接成功")
	return client
}

// Redis 键空间：
//
//	auth:token:{digest}             访问令牌 -> 本地用户
//	exchange:lock:offers:{exchange}  报价锁
//	checkout:lock:user:{user}        结算锁

// TokenKey 访问令牌缓存键，只存令牌摘要
func TokenKey(tokenDigest string) string {
	return "auth:token:" + tokenDigest
}

func ExchangeOfferLockKey(exchangeID int64) string {
	return fmt.Sprintf("exchange:lock:offers:%d", exchangeID)
}

func CheckoutLockKey(userID int64) string {
	return fmt.Sprintf("checkout:lock:user:%d", userID)
}
