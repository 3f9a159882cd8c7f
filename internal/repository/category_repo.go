package repository

import (
	"context"
	"errors"

	"sproutmarket/internal/model"

	"gorm.io/gorm"
)

var ErrCategoryNotFound = errors.New("分类不存在")

type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) ListActive(ctx context.Context) ([]*model.Category, error) {
	var categories []*model.Category
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order ASC, name ASC").
		Find(&categories).Error
	return categories, err
}

func (r *CategoryRepository) GetBySlug(ctx context.Context, slug string) (*model.Category, error) {
	var category model.Category
	err := r.db.WithContext(ctx).Where("slug = ? AND is_active = ?", slug, true).First(&category).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}
	return &category, nil
}

// GetActiveByIDs 返回启用中的分类，调用方比较数量判断是否有无效ID
func (r *CategoryRepository) GetActiveByIDs(ctx context.Context, tx *gorm.DB, ids []int64) ([]model.Category, error) {
	var categories []model.Category
	if len(ids) == 0 {
		return categories, nil
	}
	err := pick(r.db, tx).WithContext(ctx).
		Where("id IN ? AND is_active = ?", ids, true).
		Order("sort_order ASC").
		Find(&categories).Error
	return categories, err
}
