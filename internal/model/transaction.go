package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	TransactionTypePurchase            = "purchase"
	TransactionTypeSale                = "sale"
	TransactionTypeCommission          = "commission"
	TransactionTypeSubscription        = "subscription"
	TransactionTypeExchangePublication = "exchange_publication"
	TransactionTypeWithdrawal          = "withdrawal"
)

var TransactionTypes = []string{
	TransactionTypePurchase,
	TransactionTypeSale,
	TransactionTypeCommission,
	TransactionTypeSubscription,
	TransactionTypeExchangePublication,
	TransactionTypeWithdrawal,
}

func IsTransactionType(t string) bool {
	for _, v := range TransactionTypes {
		if v == t {
			return true
		}
	}
	return false
}

const (
	ReferenceTypeOrder        = "order"
	ReferenceTypeExchange     = "exchange"
	ReferenceTypeSubscription = "subscription"
)

var ErrLedgerImmutable = errors.New("流水记录只允许追加")

// Transaction 资金流水，只追加，不修改，不删除
//
// UserID 为空表示平台自身（佣金）。BalanceAfter 只在改动用户余额的流水上填写。
type Transaction struct {
	ID            int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        *int64              `gorm:"index" json:"user_id"`
	Type          string              `gorm:"type:varchar(30);index;not null" json:"transaction_type"`
	AmountMXN     decimal.Decimal     `gorm:"type:decimal(10,2);not null" json:"amount_mxn"`
	BalanceAfter  decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"balance_after,omitempty"`
	StripeID      string              `gorm:"type:varchar(255);index" json:"stripe_id"`
	ReferenceID   *int64              `gorm:"index" json:"reference_id"`
	ReferenceType string              `gorm:"type:varchar(50)" json:"reference_type"`
	Description   string              `gorm:"type:varchar(500)" json:"description"`
	Metadata      JSONMap             `gorm:"type:text" json:"metadata"`
	CreatedAt     time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) BeforeUpdate(tx *gorm.DB) error {
	return ErrLedgerImmutable
}

func (t *Transaction) BeforeDelete(tx *gorm.DB) error {
	return ErrLedgerImmutable
}
