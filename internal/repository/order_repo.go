package repository

import (
	"context"
	"errors"

	"sproutmarket/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("订单不存在")

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return pick(r.db, tx).WithContext(ctx).Create(order).Error
}

// GetByPaymentID 幂等查询，不存在返回 nil, nil
func (r *OrderRepository) GetByPaymentID(ctx context.Context, tx *gorm.DB, paymentID string) (*model.Order, error) {
	var order model.Order
	err := pick(r.db, tx).WithContext(ctx).Where("stripe_payment_id = ?", paymentID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetForBuyer 只返回属于该买家的订单
func (r *OrderRepository) GetForBuyer(ctx context.Context, buyerID, orderID int64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("id = ? AND buyer_id = ?", orderID, buyerID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID int64, page Page) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{}).Where("buyer_id = ?", buyerID)
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&orders).Error
	return orders, total, err
}

// ListByIDs 按创建时间倒序返回指定状态的订单
func (r *OrderRepository) ListByIDs(ctx context.Context, ids []int64, status string) ([]*model.Order, error) {
	var orders []*model.Order
	if len(ids) == 0 {
		return orders, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, status).
		Order("created_at DESC, id DESC").
		Find(&orders).Error
	return orders, err
}

type BuyerStats struct {
	TotalOrders int64
	TotalSpent  decimal.Decimal
}

func (r *OrderRepository) StatsByBuyer(ctx context.Context, buyerID int64) (*BuyerStats, error) {
	var totals []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("buyer_id = ? AND status = ?", buyerID, model.OrderStatusCompleted).
		Pluck("total_mxn", &totals).Error
	if err != nil {
		return nil, err
	}
	stats := &BuyerStats{TotalOrders: int64(len(totals)), TotalSpent: decimal.Zero}
	for _, t := range totals {
		stats.TotalSpent = stats.TotalSpent.Add(t)
	}
	return stats, nil
}
