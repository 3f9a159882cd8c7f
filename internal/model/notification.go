package model

import "time"

const (
	NotificationEmailVerification    = "email_verification"
	NotificationPurchaseConfirmation = "purchase_confirmation"
	NotificationSale                 = "sale_notification"
	NotificationExchangeOffer        = "exchange_offer"
	NotificationOfferAccepted        = "offer_accepted"
	NotificationOfferRejected        = "offer_rejected"
	NotificationSubscriptionRenewal  = "subscription_renewal"
	NotificationSubscriptionCanceled = "subscription_canceled"
	NotificationPaymentFailed        = "payment_failed"
	NotificationLowStock             = "low_stock"
	NotificationWithdrawalCompleted  = "withdrawal_completed"
)

// Notification 先落库再投递，EmailSent / PushSent 只在对应渠道确认成功后置位
type Notification struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64      `gorm:"index:idx_notification_user_read,priority:1;not null" json:"user_id"`
	User        *User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Type        string     `gorm:"type:varchar(50);index;not null" json:"notification_type"`
	Title       string     `gorm:"type:varchar(200);not null" json:"title"`
	Message     string     `gorm:"type:text;not null" json:"message"`
	IsRead      bool       `gorm:"index:idx_notification_user_read,priority:2;not null;default:false" json:"is_read"`
	Metadata    JSONMap    `gorm:"type:text" json:"metadata"`
	EmailSent   bool       `gorm:"not null;default:false" json:"email_sent"`
	EmailSentAt *time.Time `json:"email_sent_at"`
	PushSent    bool       `gorm:"not null;default:false" json:"push_sent"`
	PushSentAt  *time.Time `json:"push_sent_at"`
	ReadAt      *time.Time `json:"read_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
