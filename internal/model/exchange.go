package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ExchangeStatusActive    = "active"
	ExchangeStatusExchanged = "exchanged"
	ExchangeStatusCanceled  = "canceled"
)

const (
	OfferStatusPending  = "pending"
	OfferStatusAccepted = "accepted"
	OfferStatusRejected = "rejected"
)

// MaxPendingOffers 每个交换最多同时挂 4 个待处理报价
const MaxPendingOffers = 4

// ExchangeTransitions exchanged 是终态，canceled 可以重新激活
var ExchangeTransitions = Transitions{
	ExchangeStatusActive:   {ExchangeStatusExchanged, ExchangeStatusCanceled},
	ExchangeStatusCanceled: {ExchangeStatusActive},
}

// OfferTransitions accepted / rejected 均为终态
var OfferTransitions = Transitions{
	OfferStatusPending: {OfferStatusAccepted, OfferStatusRejected},
}

// Exchange 以物易物的植物挂单，发布时需支付发布费
type Exchange struct {
	ID                  int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID              int64               `gorm:"index;not null" json:"user_id"`
	User                *User               `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	PlantCommonName     string              `gorm:"type:varchar(200);not null" json:"plant_common_name"`
	PlantScientificName string              `gorm:"type:varchar(200)" json:"plant_scientific_name"`
	Description         string              `gorm:"type:text;not null" json:"description"`
	WidthCM             decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"width_cm"`
	HeightCM            decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"height_cm"`
	Location            string              `gorm:"type:varchar(255)" json:"location"`
	Images              ImageSlots          `gorm:"type:text" json:"images"`
	StripePaymentID     string              `gorm:"type:varchar(255);uniqueIndex;not null" json:"-"`
	Status              string              `gorm:"type:varchar(20);index;not null;default:active" json:"status"`
	Offers              []ExchangeOffer     `gorm:"foreignKey:ExchangeID;constraint:OnDelete:CASCADE" json:"offers,omitempty"`
	PendingOffers       int64               `gorm:"-" json:"pending_offers_count"`
	CreatedAt           time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Exchange) TableName() string {
	return "exchanges"
}

// ExchangeOffer 针对某个交换的报价
//
// PendingGuard 在 pending 期间为 true，结束后置 NULL；与 (exchange_id, offeror_id)
// 组成唯一索引，保证同一用户对同一交换最多一个 pending 报价。
type ExchangeOffer struct {
	ID                  int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	ExchangeID          int64               `gorm:"uniqueIndex:uq_offer_pending,priority:1;index;not null" json:"exchange_id"`
	Exchange            *Exchange           `gorm:"foreignKey:ExchangeID" json:"exchange,omitempty"`
	OfferorID           int64               `gorm:"uniqueIndex:uq_offer_pending,priority:2;index;not null" json:"offeror_id"`
	Offeror             *User               `gorm:"foreignKey:OfferorID;constraint:OnDelete:CASCADE" json:"offeror,omitempty"`
	PlantCommonName     string              `gorm:"type:varchar(200);not null" json:"plant_common_name"`
	PlantScientificName string              `gorm:"type:varchar(200)" json:"plant_scientific_name"`
	Description         string              `gorm:"type:text;not null" json:"description"`
	WidthCM             decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"width_cm"`
	HeightCM            decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"height_cm"`
	Images              ImageSlots          `gorm:"type:text" json:"images"`
	Status              string              `gorm:"type:varchar(20);index;not null;default:pending" json:"status"`
	PendingGuard        *bool               `gorm:"uniqueIndex:uq_offer_pending,priority:3" json:"-"`
	CreatedAt           time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ExchangeOffer) TableName() string {
	return "exchange_offers"
}

func PendingMarker() *bool {
	v := true
	return &v
}
