package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ProductStatusActive     = "active"
	ProductStatusOutOfStock = "out_of_stock"
	ProductStatusDeleted    = "deleted"
)

const (
	MinProductCategories = 1
	MaxProductCategories = 3
)

type Product struct {
	ID             int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID       int64               `gorm:"index;not null" json:"seller_id"`
	Seller         *User               `gorm:"foreignKey:SellerID;constraint:OnDelete:CASCADE" json:"seller,omitempty"`
	Categories     []Category          `gorm:"many2many:product_categories" json:"categories"`
	CommonName     string              `gorm:"type:varchar(200);not null" json:"common_name"`
	ScientificName string              `gorm:"type:varchar(200)" json:"scientific_name"`
	Description    string              `gorm:"type:text;not null" json:"description"`
	Quantity       int                 `gorm:"not null;default:0" json:"quantity"`
	PriceMXN       decimal.Decimal     `gorm:"type:decimal(10,2);not null" json:"price_mxn"`
	WidthCM        decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"width_cm"`
	HeightCM       decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"height_cm"`
	WeightKG       decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"weight_kg"`
	Images         ImageSlots          `gorm:"type:text" json:"images"`
	Status         string              `gorm:"type:varchar(20);index;not null;default:active" json:"status"`
	ViewCount      int                 `gorm:"not null;default:0" json:"view_count"`
	CreatedAt      time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

// NormalizeStatus 库存为 0 的在售商品转为缺货，补货后的缺货商品重新上架
func (p *Product) NormalizeStatus() {
	switch {
	case p.Quantity <= 0 && p.Status == ProductStatusActive:
		p.Status = ProductStatusOutOfStock
	case p.Quantity > 0 && p.Status == ProductStatusOutOfStock:
		p.Status = ProductStatusActive
	}
}

func (p *Product) BeforeSave(tx *gorm.DB) error {
	if p.Status == "" {
		p.Status = ProductStatusActive
	}
	p.NormalizeStatus()
	return nil
}

func (p *Product) InStock() bool {
	return p.Status == ProductStatusActive && p.Quantity > 0
}

// StatusAfterRestore 软删除商品恢复后的状态
func (p *Product) StatusAfterRestore() string {
	if p.Quantity > 0 {
		return ProductStatusActive
	}
	return ProductStatusOutOfStock
}

// StatusAfterDecrement 扣减 qty 后应处的状态
func (p *Product) StatusAfterDecrement(qty int) string {
	if p.Quantity-qty <= 0 && p.Status == ProductStatusActive {
		return ProductStatusOutOfStock
	}
	return p.Status
}
