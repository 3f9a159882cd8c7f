package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"sproutmarket/internal/config"
	"sproutmarket/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// InitMySQL 初始化 MySQL 连接并迁移表结构
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := Open(mysql.Open(dsn), logger.Warn)
	if err != nil {
		log.Fatalf("连接 MySQL 失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层 DB 失败: %v", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		log.Fatalf("自动迁移表结构失败: %v", err)
	}
	if err := SeedCategories(context.Background(), db); err != nil {
		log.Fatalf("初始化分类失败: %v", err)
	}

	log.Println("MySQL 连接成功")
	return db
}

// Open 按给定方言打开连接；TranslateError 让唯一索引冲突变成 gorm.ErrDuplicatedKey
func Open(dialector gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}

// SeedCategories 写入固定分类，已存在的按 slug 更新
func SeedCategories(ctx context.Context, db *gorm.DB) error {
	categories := model.DefaultCategories()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "icon", "sort_order", "is_active"}),
		}).
		Create(&categories).Error
}
