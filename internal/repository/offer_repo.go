package repository

import (
	"context"
	"errors"

	"sproutmarket/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOfferNotFound      = errors.New("报价不存在")
	ErrOfferStatusInvalid = errors.New("报价状态不合法")
	ErrOfferDuplicate     = errors.New("已存在待处理报价")
)

type OfferRepository struct {
	db *gorm.DB
}

func NewOfferRepository(db *gorm.DB) *OfferRepository {
	return &OfferRepository{db: db}
}

// Create 新报价固定为 pending；唯一索引冲突转换为 ErrOfferDuplicate
func (r *OfferRepository) Create(ctx context.Context, tx *gorm.DB, offer *model.ExchangeOffer) error {
	offer.Status = model.OfferStatusPending
	offer.PendingGuard = model.PendingMarker()
	err := pick(r.db, tx).WithContext(ctx).Omit(clause.Associations).Create(offer).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrOfferDuplicate
	}
	return err
}

func (r *OfferRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.ExchangeOffer, error) {
	var offer model.ExchangeOffer
	err := pick(r.db, tx).WithContext(ctx).
		Preload("Offeror").
		Preload("Exchange").
		Where("id = ?", id).
		First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

func (r *OfferRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.ExchangeOffer, error) {
	var offer model.ExchangeOffer
	err := forUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

func (r *OfferRepository) CountPending(ctx context.Context, tx *gorm.DB, exchangeID int64) (int64, error) {
	var n int64
	err := pick(r.db, tx).WithContext(ctx).
		Model(&model.ExchangeOffer{}).
		Where("exchange_id = ? AND status = ?", exchangeID, model.OfferStatusPending).
		Count(&n).Error
	return n, err
}

func (r *OfferRepository) HasPending(ctx context.Context, tx *gorm.DB, exchangeID, offerorID int64) (bool, error) {
	var n int64
	err := pick(r.db, tx).WithContext(ctx).
		Model(&model.ExchangeOffer{}).
		Where("exchange_id = ? AND offeror_id = ? AND status = ?", exchangeID, offerorID, model.OfferStatusPending).
		Count(&n).Error
	return n > 0, err
}

// Resolve pending -> accepted/rejected，同时释放 pending 唯一约束
func (r *OfferRepository) Resolve(ctx context.Context, tx *gorm.DB, id int64, to string) error {
	if !model.OfferTransitions.Can(model.OfferStatusPending, to) {
		return ErrOfferStatusInvalid
	}
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.ExchangeOffer{}).
		Where("id = ? AND status = ?", id, model.OfferStatusPending).
		Updates(map[string]interface{}{
			"status":        to,
			"pending_guard": gorm.Expr("NULL"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOfferStatusInvalid
	}
	return nil
}

// RejectPending 批量拒绝交换下其余 pending 报价，返回被拒绝的报价
func (r *OfferRepository) RejectPending(ctx context.Context, tx *gorm.DB, exchangeID, exceptID int64) ([]*model.ExchangeOffer, error) {
	db := pick(r.db, tx).WithContext(ctx)

	var offers []*model.ExchangeOffer
	q := db.Where("exchange_id = ? AND status = ?", exchangeID, model.OfferStatusPending)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Find(&offers).Error; err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(offers))
	for _, o := range offers {
		ids = append(ids, o.ID)
	}
	err := db.Model(&model.ExchangeOffer{}).
		Where("id IN ? AND status = ?", ids, model.OfferStatusPending).
		Updates(map[string]interface{}{
			"status":        model.OfferStatusRejected,
			"pending_guard": gorm.Expr("NULL"),
		}).Error
	if err != nil {
		return nil, err
	}
	for _, o := range offers {
		o.Status = model.OfferStatusRejected
		o.PendingGuard = nil
	}
	return offers, nil
}

func (r *OfferRepository) UpdateImages(ctx context.Context, tx *gorm.DB, id int64, images model.ImageSlots) error {
	return pick(r.db, tx).WithContext(ctx).
		Model(&model.ExchangeOffer{}).
		Where("id = ?", id).
		UpdateColumn("images", images).Error
}

// Delete 只用于创建失败后的补偿
func (r *OfferRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	return pick(r.db, tx).WithContext(ctx).Delete(&model.ExchangeOffer{}, id).Error
}

// ListByOfferor 我发出的报价，status 为空时返回全部
func (r *OfferRepository) ListByOfferor(ctx context.Context, offerorID int64, status string, page Page) ([]*model.ExchangeOffer, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.ExchangeOffer{}).Where("offeror_id = ?", offerorID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	return r.list(query.Preload("Exchange"), page)
}

func (r *OfferRepository) ListByExchange(ctx context.Context, exchangeID int64, status string, page Page) ([]*model.ExchangeOffer, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.ExchangeOffer{}).Where("exchange_id = ?", exchangeID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	return r.list(query, page)
}

func (r *OfferRepository) list(query *gorm.DB, page Page) ([]*model.ExchangeOffer, int64, error) {
	var offers []*model.ExchangeOffer
	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.
		Preload("Offeror").
		Order("created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&offers).Error
	return offers, total, err
}

// StatusCounts 交换下各状态的报价数
func (r *OfferRepository) StatusCounts(ctx context.Context, exchangeID int64) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.ExchangeOffer{}).
		Select("status, COUNT(*) AS n").
		Where("exchange_id = ?", exchangeID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{
		model.OfferStatusPending:  0,
		model.OfferStatusAccepted: 0,
		model.OfferStatusRejected: 0,
	}
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
