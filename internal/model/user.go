package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	FreeProductLimit    = 10
	PremiumProductLimit = 40
)

// User 本地用户档案，身份凭据由外部身份服务持有
//
// AvailableBalanceMXN 只在事务内通过 gorm.Expr 增减，不要整行 Save 覆盖。
type User struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Username             string          `gorm:"type:varchar(150);uniqueIndex;not null" json:"username"`
	Email                string          `gorm:"type:varchar(254);uniqueIndex;not null" json:"email"`
	FirstName            string          `gorm:"type:varchar(150)" json:"first_name"`
	LastName             string          `gorm:"type:varchar(150)" json:"last_name"`
	PhoneNumber          string          `gorm:"type:varchar(20)" json:"phone_number"`
	City                 string          `gorm:"type:varchar(100);default:'Ciudad Juárez'" json:"city"`
	State                string          `gorm:"type:varchar(100);default:'Chihuahua'" json:"state"`
	Location             string          `gorm:"type:varchar(255)" json:"location"`
	BusinessName         string          `gorm:"type:varchar(200)" json:"business_name"`
	IsPremium            bool            `gorm:"index;not null;default:false" json:"is_premium"`
	PremiumExpiresAt     *time.Time      `json:"premium_expires_at,omitempty"`
	IsEmailVerified      bool            `gorm:"not null;default:false" json:"-"`
	StripeCustomerID     string          `gorm:"type:varchar(255);index" json:"-"`
	StripeSubscriptionID string          `gorm:"type:varchar(255)" json:"-"`
	AvailableBalanceMXN  decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"-"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// ProductLimit 可同时上架的商品数
func (u *User) ProductLimit() int {
	if u.IsPremium {
		return PremiumProductLimit
	}
	return FreeProductLimit
}

func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}
