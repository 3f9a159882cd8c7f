package repository

import (
	"context"
	"errors"
	"time"

	"sproutmarket/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound     = errors.New("用户不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, tx *gorm.DB, user *model.User) error {
	return pick(r.db, tx).WithContext(ctx).Create(user).Error
}

func (r *UserRepository) first(ctx context.Context, q *gorm.DB) (*model.User, error) {
	var user model.User
	if err := q.WithContext(ctx).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error) {
	return r.first(ctx, pick(r.db, tx).Where("id = ?", id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.first(ctx, r.db.Where("username = ?", username))
}

func (r *UserRepository) GetByStripeCustomerID(ctx context.Context, tx *gorm.DB, customerID string) (*model.User, error) {
	return r.first(ctx, pick(r.db, tx).Where("stripe_customer_id = ?", customerID))
}

func (r *UserRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error) {
	return r.first(ctx, forUpdate(tx).Where("id = ?", id))
}

// GetOrCreate 按用户名查找本地用户，不存在时插入；并发插入由唯一索引兜底
func (r *UserRepository) GetOrCreate(ctx context.Context, user *model.User) (*model.User, error) {
	existing, err := r.GetByUsername(ctx, user.Username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoNothing: true,
		}).
		Create(user).Error
	if err != nil {
		return nil, err
	}
	return r.GetByUsername(ctx, user.Username)
}

// UpdateFields 只更新给定列
func (r *UserRepository) UpdateFields(ctx context.Context, tx *gorm.DB, id int64, fields map[string]interface{}) error {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Credit 增加可用余额
func (r *UserRepository) Credit(ctx context.Context, tx *gorm.DB, id int64, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("available_balance_mxn", gorm.Expr("available_balance_mxn + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Debit 扣减可用余额，余额不足时不更新
func (r *UserRepository) Debit(ctx context.Context, tx *gorm.DB, id int64, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND available_balance_mxn >= ?", id, amount).
		Update("available_balance_mxn", gorm.Expr("available_balance_mxn - ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, tx, id); err != nil {
			return err
		}
		return ErrBalanceNotEnough
	}
	return nil
}

// SetPremium 同步会员状态
func (r *UserRepository) SetPremium(ctx context.Context, tx *gorm.DB, id int64, premium bool, expiresAt *time.Time, subscriptionID string) error {
	return r.UpdateFields(ctx, tx, id, map[string]interface{}{
		"is_premium":             premium,
		"premium_expires_at":     expiresAt,
		"stripe_subscription_id": subscriptionID,
	})
}

// ExpirePremium 会员到期超过宽限期仍未续费的用户降级，返回影响行数
func (r *UserRepository) ExpirePremium(ctx context.Context, before time.Time, limit int) (int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("is_premium = ? AND premium_expires_at IS NOT NULL AND premium_expires_at < ?", true, before).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id IN ? AND is_premium = ?", ids, true).
		Update("is_premium", false)
	return result.RowsAffected, result.Error
}

func (r *UserRepository) GetByIDs(ctx context.Context, tx *gorm.DB, ids []int64) (map[int64]*model.User, error) {
	out := make(map[int64]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []*model.User
	if err := pick(r.db, tx).WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}
