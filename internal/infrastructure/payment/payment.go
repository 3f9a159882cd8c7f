// Package payment 封装支付渠道（Stripe）：一次性 PaymentIntent、订阅、Webhook 验签。
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

const (
	IntentSucceeded      = "succeeded"
	IntentRequiresAction = "requires_action"
)

// Webhook 事件类型
const (
	EventSubscriptionCreated   = "customer.subscription.created"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaymentSucceed = "invoice.payment_succeeded"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
)

var (
	ErrIntentNotFound    = errors.New("支付记录不存在")
	ErrInvalidSignature  = errors.New("Webhook 签名无效")
	ErrInvalidPayload    = errors.New("Webhook 内容无效")
	ErrSubscriptionState = errors.New("订阅状态异常")
)

// Intent 一次性支付
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
	Metadata     map[string]string
}

// Subscription 渠道侧的订阅
type Subscription struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             string
	ClientSecret       string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time
	EndedAt            *time.Time
	Metadata           map[string]string
}

// Invoice 订阅账单
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	AmountPaid     int64
	Currency       string
	PaymentIntent  string
}

// Event 已验签的 Webhook 事件
type Event struct {
	ID   string
	Type string
	Data json.RawMessage
}

type CreateIntentParams struct {
	AmountMinor int64
	Currency    string
	Description string
	Metadata    map[string]string
}

type CreateSubscriptionParams struct {
	CustomerID string
	PriceID    string
	Metadata   map[string]string
}

// Gateway 支付渠道
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, p CreateIntentParams) (*Intent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*Intent, error)
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	CreateSubscription(ctx context.Context, p CreateSubscriptionParams) (*Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*Subscription, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	ConstructEvent(payload []byte, signatureHeader string) (*Event, error)
}

// UserMetadataKey PaymentIntent 上标记付款人的元数据键
const UserMetadataKey = "user_id"

// OwnedBy 判断支付是否属于该用户
func (i *Intent) OwnedBy(userID int64) bool {
	return i.Metadata[UserMetadataKey] == strconv.FormatInt(userID, 10)
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

type subscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	EndedAt            int64             `json:"ended_at"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// ParseSubscription 解析 customer.subscription.* 事件的 data.object
func ParseSubscription(raw json.RawMessage) (*Subscription, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(raw, &obj); err != nil || obj.ID == "" {
		return nil, ErrInvalidPayload
	}
	sub := &Subscription{
		ID:                 obj.ID,
		CustomerID:         obj.Customer,
		Status:             obj.Status,
		CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
		CurrentPeriodStart: unixPtr(obj.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(obj.CurrentPeriodEnd),
		CanceledAt:         unixPtr(obj.CanceledAt),
		EndedAt:            unixPtr(obj.EndedAt),
		Metadata:           obj.Metadata,
	}
	if len(obj.Items.Data) > 0 {
		sub.PriceID = obj.Items.Data[0].Price.ID
	}
	return sub, nil
}

type invoiceObject struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
	PaymentIntent string `json:"payment_intent"`
}

// ParseInvoice 解析 invoice.* 事件的 data.object
func ParseInvoice(raw json.RawMessage) (*Invoice, error) {
	var obj invoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil || obj.ID == "" {
		return nil, ErrInvalidPayload
	}
	return &Invoice{
		ID:             obj.ID,
		CustomerID:     obj.Customer,
		SubscriptionID: obj.Subscription,
		AmountPaid:     obj.AmountPaid,
		Currency:       obj.Currency,
		PaymentIntent:  obj.PaymentIntent,
	}, nil
}
