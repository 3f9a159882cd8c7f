package repository

import (
	"context"
	"errors"

	"sproutmarket/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSubscriptionNotFound = errors.New("订阅不存在")

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Upsert 以渠道订阅ID为键写入，webhook 重放时覆盖状态字段
func (r *SubscriptionRepository) Upsert(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	if sub.Metadata == nil {
		sub.Metadata = model.JSONMap{}
	}
	return pick(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "stripe_price_id", "cancel_at_period_end",
				"current_period_start", "current_period_end", "canceled_at", "ended_at", "updated_at",
			}),
		}).
		Omit(clause.Associations).
		Create(sub).Error
}

func (r *SubscriptionRepository) GetByStripeID(ctx context.Context, tx *gorm.DB, stripeID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := pick(r.db, tx).WithContext(ctx).Where("stripe_subscription_id = ?", stripeID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// Latest 用户最近一条订阅记录
func (r *SubscriptionRepository) Latest(ctx context.Context, userID int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int64, page Page) ([]*model.Subscription, int64, error) {
	var list []*model.Subscription
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Subscription{}).Where("user_id = ?", userID)
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.
		Order("created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&list).Error
	return list, total, err
}

func (r *SubscriptionRepository) SetCancelAtPeriodEnd(ctx context.Context, tx *gorm.DB, stripeID string, cancel bool) error {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Subscription{}).
		Where("stripe_subscription_id = ?", stripeID).
		Update("cancel_at_period_end", cancel)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}
