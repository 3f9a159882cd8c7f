package repository

import (
	"context"
	"errors"

	"sproutmarket/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrExchangeNotFound      = errors.New("交换不存在")
	ErrExchangeStatusInvalid = errors.New("交换状态不合法")
)

// ExchangeFilter 交换列表筛选条件
type ExchangeFilter struct {
	Status    string
	UserID    int64
	Location  string
	MinHeight *decimal.Decimal
	MaxHeight *decimal.Decimal
	MinWidth  *decimal.Decimal
	MaxWidth  *decimal.Decimal
	Search    string
}

type ExchangeRepository struct {
	db *gorm.DB
}

func NewExchangeRepository(db *gorm.DB) *ExchangeRepository {
	return &ExchangeRepository{db: db}
}

func (r *ExchangeRepository) Create(ctx context.Context, tx *gorm.DB, exchange *model.Exchange) error {
	return pick(r.db, tx).WithContext(ctx).Omit(clause.Associations).Create(exchange).Error
}

func (r *ExchangeRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Exchange, error) {
	var exchange model.Exchange
	err := pick(r.db, tx).WithContext(ctx).
		Preload("User").
		Where("id = ?", id).
		First(&exchange).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExchangeNotFound
		}
		return nil, err
	}
	return &exchange, nil
}

// GetForUpdate 行锁读取交换，报价创建和响应都先锁住父记录
func (r *ExchangeRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Exchange, error) {
	var exchange model.Exchange
	err := forUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&exchange).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExchangeNotFound
		}
		return nil, err
	}
	return &exchange, nil
}

// ExistsByPaymentID 一笔发布费只能对应一个交换
func (r *ExchangeRepository) ExistsByPaymentID(ctx context.Context, tx *gorm.DB, paymentID string) (bool, error) {
	var n int64
	err := pick(r.db, tx).WithContext(ctx).
		Model(&model.Exchange{}).
		Where("stripe_payment_id = ?", paymentID).
		Count(&n).Error
	return n > 0, err
}

// UpdateStatus 按状态机条件更新
func (r *ExchangeRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, from, to string) error {
	if !model.ExchangeTransitions.Can(from, to) {
		return ErrExchangeStatusInvalid
	}
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Exchange{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrExchangeStatusInvalid
	}
	return nil
}

func (r *ExchangeRepository) Save(ctx context.Context, tx *gorm.DB, exchange *model.Exchange) error {
	return pick(r.db, tx).WithContext(ctx).Omit(clause.Associations).Save(exchange).Error
}

func (r *ExchangeRepository) UpdateImages(ctx context.Context, tx *gorm.DB, id int64, images model.ImageSlots) error {
	return pick(r.db, tx).WithContext(ctx).
		Model(&model.Exchange{}).
		Where("id = ?", id).
		UpdateColumn("images", images).Error
}

// Delete 物理删除，报价随外键级联
func (r *ExchangeRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	db := pick(r.db, tx).WithContext(ctx)
	if err := db.Where("exchange_id = ?", id).Delete(&model.ExchangeOffer{}).Error; err != nil {
		return err
	}
	return db.Delete(&model.Exchange{}, id).Error
}

func (r *ExchangeRepository) filtered(ctx context.Context, f ExchangeFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&model.Exchange{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Location != "" {
		q = q.Where("location LIKE ?"+likeEscape, likePattern(f.Location))
	}
	if f.MinHeight != nil {
		q = q.Where("height_cm >= ?", *f.MinHeight)
	}
	if f.MaxHeight != nil {
		q = q.Where("height_cm <= ?", *f.MaxHeight)
	}
	if f.MinWidth != nil {
		q = q.Where("width_cm >= ?", *f.MinWidth)
	}
	if f.MaxWidth != nil {
		q = q.Where("width_cm <= ?", *f.MaxWidth)
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		q = q.Where("(plant_common_name LIKE ?"+likeEscape+" OR plant_scientific_name LIKE ?"+likeEscape+
			" OR description LIKE ?"+likeEscape+")", p, p, p)
	}
	return q
}

func (r *ExchangeRepository) List(ctx context.Context, f ExchangeFilter, page Page) ([]*model.Exchange, int64, error) {
	var list []*model.Exchange
	var total int64

	query := r.filtered(ctx, f)
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("User").
		Order("created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&list).Error
	if err != nil {
		return nil, 0, err
	}
	if err := r.fillPendingCounts(ctx, list); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// fillPendingCounts 批量回填 pending 报价数
func (r *ExchangeRepository) fillPendingCounts(ctx context.Context, list []*model.Exchange) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(list))
	for _, e := range list {
		ids = append(ids, e.ID)
	}
	var rows []struct {
		ExchangeID int64
		N          int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.ExchangeOffer{}).
		Select("exchange_id, COUNT(*) AS n").
		Where("exchange_id IN ? AND status = ?", ids, model.OfferStatusPending).
		Group("exchange_id").
		Scan(&rows).Error
	if err != nil {
		return err
	}
	counts := make(map[int64]int64, len(rows))
	for _, row := range rows {
		counts[row.ExchangeID] = row.N
	}
	for _, e := range list {
		e.PendingOffers = counts[e.ID]
	}
	return nil
}

// WithPendingCount 单条详情回填 pending 报价数
func (r *ExchangeRepository) WithPendingCount(ctx context.Context, e *model.Exchange) error {
	return r.fillPendingCounts(ctx, []*model.Exchange{e})
}
