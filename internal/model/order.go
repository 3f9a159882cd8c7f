package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCanceled  = "canceled"
)

// Transitions 状态机：当前状态 -> 允许迁移到的状态
type Transitions map[string][]string

func (t Transitions) Can(current, target string) bool {
	allowed, exists := t[current]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

var OrderTransitions = Transitions{
	OrderStatusPending:   {OrderStatusCompleted, OrderStatusCanceled},
	OrderStatusCompleted: {OrderStatusCanceled},
}

// OrderLine 下单时的商品快照，之后商品改名改价不影响历史订单
type OrderLine struct {
	ProductID      int64           `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	SellerID       int64           `json:"seller_id"`
	SellerUsername string          `json:"seller_username"`
}

var ErrInvalidUnitPrice = errors.New("单价必须大于0")

func NewOrderLine(p *Product, sellerUsername string, quantity int) (OrderLine, error) {
	if p == nil || p.ID <= 0 {
		return OrderLine{}, ErrInvalidProductID
	}
	if quantity < 1 {
		return OrderLine{}, ErrInvalidQuantity
	}
	if !p.PriceMXN.IsPositive() {
		return OrderLine{}, ErrInvalidUnitPrice
	}
	return OrderLine{
		ProductID:      p.ID,
		ProductName:    p.CommonName,
		Quantity:       quantity,
		UnitPrice:      p.PriceMXN,
		Subtotal:       p.PriceMXN.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
		SellerID:       p.SellerID,
		SellerUsername: sellerUsername,
	}, nil
}

type OrderLines []OrderLine

func (l OrderLines) Value() (driver.Value, error) {
	if l == nil {
		l = OrderLines{}
	}
	b, err := json.Marshal([]OrderLine(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *OrderLines) Scan(src any) error {
	var out []OrderLine
	if err := scanJSON(src, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

func (l OrderLines) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range l {
		sum = sum.Add(line.Subtotal)
	}
	return sum
}

// ForSeller 只保留某个卖家的行
func (l OrderLines) ForSeller(sellerID int64) OrderLines {
	var out OrderLines
	for _, line := range l {
		if line.SellerID == sellerID {
			out = append(out, line)
		}
	}
	return out
}

// SellerTotals 按卖家首次出现顺序汇总金额
func (l OrderLines) SellerTotals() ([]int64, map[int64]decimal.Decimal) {
	var order []int64
	totals := make(map[int64]decimal.Decimal)
	for _, line := range l {
		if _, ok := totals[line.SellerID]; !ok {
			order = append(order, line.SellerID)
			totals[line.SellerID] = decimal.Zero
		}
		totals[line.SellerID] = totals[line.SellerID].Add(line.Subtotal)
	}
	return order, totals
}

func (l OrderLines) TotalItems() int {
	n := 0
	for _, line := range l {
		n += line.Quantity
	}
	return n
}

// Order 支付确认时生成的不可变订单快照，total = subtotal，佣金单独记录
type Order struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	BuyerID         int64           `gorm:"index;not null" json:"buyer_id"`
	Buyer           *User           `gorm:"foreignKey:BuyerID;constraint:OnDelete:CASCADE" json:"-"`
	BuyerName       string          `gorm:"type:varchar(200);not null" json:"buyer_name"`
	BuyerPhone      string          `gorm:"type:varchar(15);not null" json:"buyer_phone"`
	BuyerAddress    string          `gorm:"type:text;not null" json:"buyer_address"`
	Items           OrderLines      `gorm:"type:text;not null" json:"items"`
	SubtotalMXN     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"subtotal_mxn"`
	CommissionMXN   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"commission_mxn"`
	TotalMXN        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_mxn"`
	StripePaymentID string          `gorm:"type:varchar(255);uniqueIndex;not null" json:"stripe_payment_id"`
	Status          string          `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// SellerEarnings 卖家合计所得
func (o *Order) SellerEarnings() decimal.Decimal {
	return o.SubtotalMXN.Sub(o.CommissionMXN)
}
