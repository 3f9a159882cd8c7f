// Package testutil 测试用的 SQLite 库、miniredis 和外部服务替身。
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"sproutmarket/internal/config"
	"sproutmarket/internal/infrastructure/database"
	"sproutmarket/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq int64

// OpenDB 每个测试一个独立的内存库，已迁移并写入默认分类
//
// 只开一个连接：SQLite 内存库的多连接写入会互相锁死，事务内的代码必须使用同一个 tx。
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, atomic.AddInt64(&dbSeq, 1))

	db, err := database.Open(sqlite.Open(dsn), logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.SeedCategories(context.Background(), db))
	return db
}

// OpenRedis 基于 miniredis 的客户端
func OpenRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func Config() *config.Config {
	return config.Default()
}

// CreateUser 已验证邮箱的普通用户
func CreateUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	u := &model.User{
		Username:            username,
		Email:               username + "@example.com",
		FirstName:           strings.ToUpper(username[:1]) + username[1:],
		IsEmailVerified:     true,
		AvailableBalanceMXN: decimal.Zero,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreateProduct 在售商品，默认归入第一个分类
func CreateProduct(t *testing.T, db *gorm.DB, seller *model.User, name string, price string, quantity int) *model.Product {
	t.Helper()
	var cat model.Category
	require.NoError(t, db.Order("sort_order").First(&cat).Error)

	p := &model.Product{
		SellerID:    seller.ID,
		CommonName:  name,
		Description: name + " de prueba",
		Quantity:    quantity,
		PriceMXN:    decimal.RequireFromString(price),
		Status:      model.ProductStatusActive,
		Categories:  []model.Category{cat},
	}
	p.Images.Set(0, "https://bucket.s3.us-east-1.amazonaws.com/products/"+name+".jpg")
	require.NoError(t, db.Create(p).Error)
	return p
}

// Reload 重新读取一行
func Reload[T any](t *testing.T, db *gorm.DB, id int64) *T {
	t.Helper()
	var out T
	require.NoError(t, db.First(&out, id).Error)
	return &out
}
