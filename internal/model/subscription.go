package model

import "time"

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusUnpaid     = "unpaid"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusIncomplete = "incomplete"
)

// Subscription 高级会员计费周期的历史记录；实时会员状态缓存在 User.IsPremium
type Subscription struct {
	ID                   int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID               int64      `gorm:"index;not null" json:"user_id"`
	User                 *User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	StripeSubscriptionID string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"stripe_subscription_id"`
	StripeCustomerID     string     `gorm:"type:varchar(255);not null" json:"stripe_customer_id"`
	StripePriceID        string     `gorm:"type:varchar(255)" json:"stripe_price_id"`
	Status               string     `gorm:"type:varchar(20);index;not null" json:"status"`
	CancelAtPeriodEnd    bool       `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CurrentPeriodStart   *time.Time `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CanceledAt           *time.Time `json:"canceled_at"`
	EndedAt              *time.Time `json:"ended_at"`
	Metadata             JSONMap    `gorm:"type:text" json:"metadata"`
	CreatedAt            time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// GrantsPremium active / trialing 视为高级会员
func (s *Subscription) GrantsPremium() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}
