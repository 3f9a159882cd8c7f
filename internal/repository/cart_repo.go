package repository

import (
	"context"
	"errors"

	"sproutmarket/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCartNotFound = errors.New("购物车不存在")

type CartRepository struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.Cart, error) {
	var cart model.Cart
	err := pick(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, err
	}
	return &cart, nil
}

func (r *CartRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Cart, error) {
	var cart model.Cart
	err := forUpdate(tx.WithContext(ctx)).Where("user_id = ?", userID).First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, err
	}
	return &cart, nil
}

// GetOrCreate 每个用户一个购物车，并发创建由 user_id 唯一索引兜底
func (r *CartRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Cart, error) {
	cart, err := r.GetByUserID(ctx, tx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return nil, err
	}

	err = pick(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.Cart{UserID: userID, Items: model.CartLines{}}).Error
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, tx, userID)
}

func (r *CartRepository) SaveItems(ctx context.Context, tx *gorm.DB, cartID int64, items model.CartLines) error {
	if items == nil {
		items = model.CartLines{}
	}
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Cart{}).
		Where("id = ?", cartID).
		Update("items", items)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, tx *gorm.DB, cartID int64) error {
	return r.SaveItems(ctx, tx, cartID, model.CartLines{})
}
