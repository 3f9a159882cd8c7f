package repository

import (
	"context"
	"errors"

	"sproutmarket/internal/model"
	"sproutmarket/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrTransactionNotFound = errors.New("流水不存在")

// TransactionRepository 资金流水只提供追加和查询
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	if t.TransactionNo == "" {
		t.TransactionNo = idgen.GenerateTransactionNo()
	}
	if t.Metadata == nil {
		t.Metadata = model.JSONMap{}
	}
	return pick(r.db, tx).WithContext(ctx).Create(t).Error
}

func (r *TransactionRepository) GetForUser(ctx context.Context, userID, id int64) (*model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListByUser txType 为空时返回全部类型
func (r *TransactionRepository) ListByUser(ctx context.Context, userID int64, txType string, page Page) ([]*model.Transaction, int64, error) {
	var list []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID)
	if txType != "" {
		query = query.Where("type = ?", txType)
	}
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

// ReferenceIDs 某用户某类流水关联的业务ID，例如卖家的销售订单
func (r *TransactionRepository) ReferenceIDs(ctx context.Context, userID int64, txType, refType string) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("user_id = ? AND type = ? AND reference_type = ? AND reference_id IS NOT NULL", userID, txType, refType).
		Distinct().
		Pluck("reference_id", &ids).Error
	return ids, err
}

// ExistsByStripeID 用于防止同一笔渠道账单重复入账
func (r *TransactionRepository) ExistsByStripeID(ctx context.Context, tx *gorm.DB, txType, stripeID string) (bool, error) {
	var n int64
	err := pick(r.db, tx).WithContext(ctx).
		Model(&model.Transaction{}).
		Where("type = ? AND stripe_id = ?", txType, stripeID).
		Count(&n).Error
	return n > 0, err
}

func (r *TransactionRepository) SumByUser(ctx context.Context, userID int64, txType string) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("user_id = ? AND type = ?", userID, txType).
		Pluck("amount_mxn", &amounts).Error
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum, err
}
